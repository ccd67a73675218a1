package ducker

import (
	"sync/atomic"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// Notifier provides generic notification sending
type Notifier interface {
	Notify(title string, message string)
}

// ToastNotifier provides functionality to send desktop notifications
type ToastNotifier struct {
	logger  *zap.SugaredLogger
	enabled atomic.Bool
}

// NewToastNotifier creates a new ToastNotifier
func NewToastNotifier(logger *zap.SugaredLogger) (*ToastNotifier, error) {
	logger = logger.Named("notifier")
	tn := &ToastNotifier{logger: logger}
	tn.enabled.Store(true)

	logger.Debug("Created toast notifier instance")

	return tn, nil
}

// SetEnabled turns desktop notifications on or off. Disabled notifications are still logged
func (tn *ToastNotifier) SetEnabled(enabled bool) {
	tn.enabled.Store(enabled)
}

// Notify sends a desktop notification through the session's notification daemon
func (tn *ToastNotifier) Notify(title string, message string) {
	if !tn.enabled.Load() {
		tn.logger.Debugw("Notifications disabled, not sending", "title", title, "message", message)
		return
	}

	tn.logger.Infow("Sending toast notification", "title", title, "message", message)

	if err := beeep.Notify(title, message, ""); err != nil {
		tn.logger.Errorw("Failed to send toast notification", "error", err)
	}
}

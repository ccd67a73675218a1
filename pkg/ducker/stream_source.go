package ducker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrMalformedSnapshot is returned when the audio server answered but its reply
// doesn't have the expected shape
var ErrMalformedSnapshot = errors.New("malformed stream snapshot")

// SnapshotSource represents an entity that can list all current playback streams
type SnapshotSource interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// VolumeSink represents an entity that can set the volume of a playback stream
type VolumeSink interface {
	SetVolume(ctx context.Context, index uint32, percent uint8) error
}

// StreamBackend bundles both ports for one way of talking to the audio server
type StreamBackend interface {
	SnapshotSource
	VolumeSink

	Release() error
}

// StreamNotifier is implemented by backends that can tell when streams change
type StreamNotifier interface {
	StreamChanges() <-chan struct{}
}

const (
	backendPactl  = "pactl"
	backendNative = "native"
)

var supportedBackends = []string{backendPactl, backendNative}

func newStreamBackend(logger *zap.SugaredLogger, conf *Config) (StreamBackend, error) {
	switch conf.Backend {
	case backendPactl:
		return newPactlBackend(logger, conf.PactlPath), nil
	case backendNative:
		return newPulseBackend(logger, conf.EventDriven), nil
	default:
		return nil, fmt.Errorf("unknown stream backend: %q", conf.Backend)
	}
}

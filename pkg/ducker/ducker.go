// Package ducker lowers the volume of a primary media player stream whenever
// any other stream on the audio server is audible, and restores it otherwise.
package ducker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/MixyLabs/ducker/pkg/ducker/util"
)

// only one ducker may drive an audio server at a time
const instanceName = "ducker"

// Ducker is the main entity managing all subcomponents
type Ducker struct {
	logger    *zap.SugaredLogger
	notifier  *ToastNotifier
	configMan *ConfigManager
	backend   StreamBackend
	loop      *duckingLoop

	runningWithTray bool
	stopChannel     chan bool
	version         string
	verbose         bool
}

func NewDucker(logger *zap.SugaredLogger, configPath string, verbose bool) (*Ducker, error) {
	logger = logger.Named("ducker")

	notifier, err := NewToastNotifier(logger)
	if err != nil {
		logger.Errorw("Failed to create ToastNotifier", "error", err)
		return nil, fmt.Errorf("create new ToastNotifier: %w", err)
	}

	config, err := NewConfig(logger, notifier, configPath)
	if err != nil {
		logger.Errorw("Failed to create Config", "error", err)
		return nil, fmt.Errorf("create new Config: %w", err)
	}

	d := &Ducker{
		logger:      logger,
		notifier:    notifier,
		configMan:   config,
		stopChannel: make(chan bool, 1),
		verbose:     verbose,
	}

	logger.Debug("Created ducker instance")

	return d, nil
}

// Initialize sets up components and starts to run in the background
func (d *Ducker) Initialize() error {
	d.logger.Debug("Initializing")

	if err := util.CreateMutex(instanceName); err != nil {
		d.logger.Errorw("Failed to acquire single instance lock", "error", err)
		return fmt.Errorf("acquire single instance lock: %w", err)
	}

	// load the config for the first time
	if err := d.configMan.Load(); err != nil {
		d.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}

	conf := d.configMan.Current()
	d.notifier.SetEnabled(conf.Notifications)

	backend, err := newStreamBackend(d.logger, &conf)
	if err != nil {
		d.logger.Errorw("Failed to create stream backend", "error", err)
		return fmt.Errorf("create stream backend: %w", err)
	}

	d.backend = backend
	d.loop = newDuckingLoop(d.logger, d.notifier, backend, backend, d.loopSettings(&conf))
	d.loop.verbose = d.verbose

	d.reportPrimaryProcess(&conf)
	d.setupOnConfigReload()
	d.setupInterruptHandler()

	if conf.DisableTray {
		d.logger.Debugw("Running without tray icon", "reason", "disabled in config")

		// run in main thread while waiting on ctrl+C
		d.run()
	} else {
		d.runningWithTray = true
		d.initializeTray(d.run)
	}

	return nil
}

// SetVersion causes ducker to add a version string to its tray menu if called before Initialize
func (d *Ducker) SetVersion(version string) {
	d.version = version
}

// Verbose returns a boolean indicating whether ducker is running in verbose mode
func (d *Ducker) Verbose() bool {
	return d.verbose
}

func (d *Ducker) loopSettings(conf *Config) loopSettings {
	return loopSettings{
		policy:         conf.Policy(),
		scheduler:      newScheduler(conf, d.backend),
		commandTimeout: conf.CommandTimeout,
	}
}

func (d *Ducker) reportPrimaryProcess(conf *Config) {
	running, err := util.ProcessRunning(conf.Primary.Binary)
	if err != nil {
		d.logger.Debugw("Failed to look up primary process", "error", err)
		return
	}

	d.logger.Infow("Primary process lookup", "binary", conf.Primary.Binary, "running", running)
}

func (d *Ducker) setupOnConfigReload() {
	configReloadedChannel := d.configMan.SubscribeToChanges()
	startBackend := d.configMan.Current().Backend

	go func() {
		for range configReloadedChannel {
			conf := d.configMan.Current()

			if conf.Backend != startBackend {
				d.logger.Warnw("Stream backend changed in config, restart to apply it",
					"running", startBackend, "configured", conf.Backend)
			}

			d.notifier.SetEnabled(conf.Notifications)
			d.loop.Reconfigure(d.loopSettings(&conf))
		}
	}()
}

func (d *Ducker) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		d.logger.Debugw("Interrupted", "signal", signal)
		d.signalStop()
	}()
}

func (d *Ducker) run() {
	d.logger.Info("Run loop starting")

	go d.configMan.WatchConfigFileChanges()

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan error, 1)

	go func() {
		defer d.recoverFromPanic()
		loopDone <- d.loop.Run(ctx)
	}()

	// wait until gracefully stopped
	<-d.stopChannel
	d.logger.Debug("Stop channel signaled, terminating")

	cancel()

	select {
	case err := <-loopDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warnw("Ducking loop ended with error", "error", err)
		}
	case <-time.After(5 * time.Second):
		d.logger.Warn("Ducking loop didn't stop in time")
	}

	if err := d.stop(); err != nil {
		d.logger.Warnw("Failed to stop ducker", "error", err)
		os.Exit(1)
	} else {
		os.Exit(0)
	}
}

func (d *Ducker) signalStop() {
	d.logger.Debug("Signalling stop channel")

	select {
	case d.stopChannel <- true:
	default:
		// already stopping
	}
}

func (d *Ducker) stop() error {
	d.logger.Info("Stopping")

	d.configMan.StopWatchingConfigFile()

	if err := d.backend.Release(); err != nil {
		d.logger.Errorw("Failed to release stream backend", "error", err)
		return fmt.Errorf("release stream backend: %w", err)
	}

	if err := util.ReleaseMutex(instanceName); err != nil {
		d.logger.Warnw("Failed to release single instance lock", "error", err)
	}

	if d.runningWithTray {
		d.stopTray()
	}

	// attempt to sync on exit - this won't necessarily work but can't harm
	_ = d.logger.Sync()

	return nil
}

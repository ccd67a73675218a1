package ducker

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/MixyLabs/ducker/pkg/ducker/util"
)

type ConfigManager struct {
	logger             *zap.SugaredLogger
	notifier           Notifier
	stopWatcherChannel chan bool

	reloadConsumers []chan bool

	userConfig     *viper.Viper
	userConfigPath string

	lock    sync.RWMutex
	current Config
}

type Config struct {
	Backend   string `mapstructure:"backend"`
	PactlPath string `mapstructure:"pactl_path"`

	Primary struct {
		Binary string `mapstructure:"binary"`
		Name   string `mapstructure:"name"`
	} `mapstructure:"primary"`

	DuckedVolume int `mapstructure:"ducked_volume"`
	FullVolume   int `mapstructure:"full_volume"`

	PollInterval   time.Duration `mapstructure:"poll_interval"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	EventDriven    bool          `mapstructure:"event_driven"`

	DisableTray   bool `mapstructure:"disable_tray"`
	Notifications bool `mapstructure:"notifications"`
}

const (
	// DefaultConfigFilepath is where the config is looked up when no path is given
	DefaultConfigFilepath = "config.yaml"

	configType = "yaml"

	configKeyBackend        = "backend"
	configKeyPactlPath      = "pactl_path"
	configKeyPrimaryBinary  = "primary.binary"
	configKeyPrimaryName    = "primary.name"
	configKeyDuckedVolume   = "ducked_volume"
	configKeyFullVolume     = "full_volume"
	configKeyPollInterval   = "poll_interval"
	configKeyCommandTimeout = "command_timeout"
	configKeyEventDriven    = "event_driven"
	configKeyDisableTray    = "disable_tray"
	configKeyNotifications  = "notifications"

	defaultPollInterval   = 200 * time.Millisecond
	defaultCommandTimeout = 2 * time.Second
)

func NewConfig(logger *zap.SugaredLogger, notifier Notifier, configPath string) (*ConfigManager, error) {
	logger = logger.Named("config")

	if configPath == "" {
		configPath = DefaultConfigFilepath
	}

	cc := &ConfigManager{
		logger:             logger,
		notifier:           notifier,
		reloadConsumers:    []chan bool{},
		stopWatcherChannel: make(chan bool),
		userConfigPath:     configPath,
	}

	userConfig := viper.New()
	userConfig.SetConfigFile(configPath)
	userConfig.SetConfigType(configType)

	userConfig.SetDefault(configKeyBackend, backendPactl)
	userConfig.SetDefault(configKeyPactlPath, "pactl")
	userConfig.SetDefault(configKeyPrimaryBinary, defaultPrimaryBinary)
	userConfig.SetDefault(configKeyPrimaryName, defaultPrimaryName)
	userConfig.SetDefault(configKeyDuckedVolume, int(defaultDuckedVolume))
	userConfig.SetDefault(configKeyFullVolume, int(defaultFullVolume))
	userConfig.SetDefault(configKeyPollInterval, defaultPollInterval)
	userConfig.SetDefault(configKeyCommandTimeout, defaultCommandTimeout)
	userConfig.SetDefault(configKeyEventDriven, false)
	userConfig.SetDefault(configKeyDisableTray, true)
	userConfig.SetDefault(configKeyNotifications, true)

	cc.userConfig = userConfig

	logger.Debug("Created config instance")

	return cc, nil
}

// Load reads the config file (if there is one) and replaces the current config.
// On error the previous config stays in effect
func (cc *ConfigManager) Load() error {
	cc.logger.Debugw("Loading config", "path", cc.userConfigPath)

	if util.FileExists(cc.userConfigPath) {
		if err := cc.userConfig.ReadInConfig(); err != nil {
			cc.logger.Warnw("Viper failed to read user config", "error", err)

			// if the error is yaml-format-related, show a sensible error. otherwise, show 'em to the logs
			if strings.Contains(err.Error(), "yaml:") {
				cc.notifier.Notify("Invalid configuration!",
					fmt.Sprintf("Please make sure %s is in a valid YAML format.", cc.userConfigPath))
			} else {
				cc.notifier.Notify("Error loading configuration!", "Please check ducker's logs for more details.")
			}

			return fmt.Errorf("read user config: %w", err)
		}
	} else {
		cc.logger.Infow("Config file not found, using defaults", "path", cc.userConfigPath)
	}

	next, err := cc.populateFromViper()
	if err != nil {
		cc.logger.Warnw("Failed to populate config fields", "error", err)
		return fmt.Errorf("populate config fields: %w", err)
	}

	if err := next.validate(); err != nil {
		cc.logger.Warnw("Invalid config values", "error", err)
		cc.notifier.Notify("Invalid configuration!", err.Error())

		return fmt.Errorf("validate config: %w", err)
	}

	cc.lock.Lock()
	cc.current = next
	cc.lock.Unlock()

	cc.logger.Info("Loaded config successfully")
	cc.logger.Infow("Config values",
		"backend", next.Backend,
		"primaryBinary", next.Primary.Binary,
		"primaryName", next.Primary.Name,
		"duckedVolume", next.DuckedVolume,
		"fullVolume", next.FullVolume,
		"pollInterval", next.PollInterval,
		"eventDriven", next.EventDriven)

	return nil
}

// Current returns a copy of the config in effect
func (cc *ConfigManager) Current() Config {
	cc.lock.RLock()
	defer cc.lock.RUnlock()

	return cc.current
}

// SubscribeToChanges allows external components to receive updates when the config is reloaded
func (cc *ConfigManager) SubscribeToChanges() chan bool {
	c := make(chan bool, 1)
	cc.reloadConsumers = append(cc.reloadConsumers, c)

	return c
}

// WatchConfigFileChanges starts watching for configuration file changes
// and attempts reloading the config when they happen
func (cc *ConfigManager) WatchConfigFileChanges() {
	if !util.FileExists(cc.userConfigPath) {
		cc.logger.Debugw("No config file to watch", "path", cc.userConfigPath)
		<-cc.stopWatcherChannel
		return
	}

	cc.logger.Debugw("Starting to watch user config file for changes", "path", cc.userConfigPath)

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	lastAttemptedReload := time.Now()

	// establish watch using viper as opposed to doing it ourselves, though our internal cooldown is still required
	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {
		if event.Op&fsnotify.Write == fsnotify.Write {
			now := time.Now()

			// ... check if it's not a duplicate (many editors will write to a file twice)
			if lastAttemptedReload.Add(minTimeBetweenReloadAttempts).Before(now) {
				cc.logger.Debugw("Config file modified, attempting reload", "event", event)

				// wait a bit to let the editor actually flush the new file contents to disk
				<-time.After(delayBetweenEventAndReload)

				if err := cc.Load(); err != nil {
					cc.logger.Warnw("Failed to reload config file", "error", err)
				} else {
					cc.logger.Info("Reloaded config successfully")
					cc.notifier.Notify("Configuration reloaded!", "Your changes have been applied.")

					cc.onConfigReloaded()
				}

				lastAttemptedReload = now
			}
		}
	})
	cc.userConfig.WatchConfig()

	// wait till they stop us
	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping user config file watcher")
	cc.userConfig.OnConfigChange(nil)
}

// StopWatchingConfigFile signals our filesystem watcher to stop
func (cc *ConfigManager) StopWatchingConfigFile() {
	select {
	case cc.stopWatcherChannel <- true:
	case <-time.After(time.Second):
		cc.logger.Debug("Config file watcher didn't acknowledge stop")
	}
}

func (cc *ConfigManager) populateFromViper() (Config, error) {
	var next Config

	err := cc.userConfig.Unmarshal(&next, func(dConf *mapstructure.DecoderConfig) {
		dConf.WeaklyTypedInput = false
		dConf.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	})
	if err != nil {
		return Config{}, err
	}

	next.Backend = strings.ToLower(strings.TrimSpace(next.Backend))

	cc.logger.Debug("Populated config fields from viper")

	return next, nil
}

func (cc *ConfigManager) onConfigReloaded() {
	cc.logger.Debug("Notifying consumers about configuration reload")

	for _, consumer := range cc.reloadConsumers {
		select {
		case consumer <- true:
		default:
			// a reload is already pending for this consumer
		}
	}
}

func (c *Config) validate() error {
	if !funk.ContainsString(supportedBackends, c.Backend) {
		return fmt.Errorf("%s must be one of %v, got %q", configKeyBackend, supportedBackends, c.Backend)
	}

	for key, volume := range map[string]int{
		configKeyDuckedVolume: c.DuckedVolume,
		configKeyFullVolume:   c.FullVolume,
	} {
		if volume < 0 || volume > 100 {
			return fmt.Errorf("%s must be between 0 and 100, got %d", key, volume)
		}
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("%s must be positive, got %s", configKeyPollInterval, c.PollInterval)
	}

	if c.CommandTimeout < 0 {
		return fmt.Errorf("%s can't be negative, got %s", configKeyCommandTimeout, c.CommandTimeout)
	}

	if c.Primary.Binary == "" || c.Primary.Name == "" {
		return fmt.Errorf("%s and %s can't be empty", configKeyPrimaryBinary, configKeyPrimaryName)
	}

	return nil
}

// Policy builds the ducking policy described by this config
func (c *Config) Policy() Policy {
	return Policy{
		PrimaryBinary: c.Primary.Binary,
		PrimaryName:   c.Primary.Name,
		DuckedVolume:  uint8(c.DuckedVolume),
		FullVolume:    uint8(c.FullVolume),
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath overrides the default config location.
	EnvConfigPath = "LOWPASS_CONFIG_PATH"
	// EnvMQTTPassword overrides mqtt.password so it can stay out of the file.
	EnvMQTTPassword = "LOWPASS_MQTT_PASSWORD"
	// DefaultPath is used when neither a flag nor the env var names a file.
	DefaultPath = "data/config.yaml"

	defaultSkipLogWindow = 5 * time.Minute
)

// Config represents the complete counter configuration
type Config struct {
	Feed       FeedConfig       `yaml:"feed"`
	Home       HomeConfig       `yaml:"home"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Daily      DailyConfig      `yaml:"daily"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Poll       PollConfig       `yaml:"poll"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`

	LoadedFrom string `yaml:"-"`
}

// FeedConfig points at the decoder's aircraft.json
type FeedConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// HomeConfig is the observation point
type HomeConfig struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// ThresholdsConfig bounds a low pass
type ThresholdsConfig struct {
	MaxAltitudeM float64 `yaml:"max_altitude_m"`
	MaxDistanceM float64 `yaml:"max_distance_m"`
}

// MQTTConfig contains broker and topic settings
type MQTTConfig struct {
	Broker                string `yaml:"broker"`
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	UniqueID              string `yaml:"unique_id"`
	ClientID              string `yaml:"client_id"`
	RootTopic             string `yaml:"root_topic"`
	QoS                   int    `yaml:"qos"`
	Retain                bool   `yaml:"retain"`
	KeepAliveSeconds      int    `yaml:"keep_alive_seconds"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
	PublishTimeoutSeconds int    `yaml:"publish_timeout_seconds"`
}

// DiscoveryConfig customizes the Home Assistant sensor descriptor
type DiscoveryConfig struct {
	Name          string `yaml:"name"`
	Icon          string `yaml:"icon"`
	ValueTemplate string `yaml:"value_template"`
}

// DailyConfig controls the daily reset
type DailyConfig struct {
	RolloverHour *int   `yaml:"rollover_hour"`
	Timezone     string `yaml:"timezone"`
}

// DedupConfig contains deduplication settings
type DedupConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	Capacity      int `yaml:"capacity"`
}

// PollConfig shapes the poll interval and failure backoff
type PollConfig struct {
	IntervalSeconds int  `yaml:"interval_seconds"`
	StepSeconds     *int `yaml:"backoff_step_seconds"`
	MaxSteps        *int `yaml:"backoff_max_steps"`
}

// MetricsConfig enables the Prometheus endpoint
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
	// SkipLogWindowSeconds collapses repeated skip warnings for one aircraft;
	// negative disables.
	SkipLogWindowSeconds int `yaml:"skip_log_window_seconds"`
}

// Load reads a YAML file, or every *.yaml/*.yml file in a directory in name
// order with later files overriding earlier ones, then applies defaults and
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	files := []string{path}
	if info.IsDir() {
		files, err = yamlFiles(path)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no YAML files in %s", path)
		}
	}

	var cfg Config
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", file, err)
		}
	}
	cfg.LoadedFrom = path
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func yamlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func (c *Config) applyEnv() {
	if pw, ok := os.LookupEnv(EnvMQTTPassword); ok {
		c.MQTT.Password = pw
	}
}

func (c *Config) applyDefaults() {
	c.Feed.URL = strings.TrimSpace(c.Feed.URL)
	if c.Feed.TimeoutSeconds <= 0 {
		c.Feed.TimeoutSeconds = 10
	}
	if c.MQTT.UniqueID == "" {
		c.MQTT.UniqueID = "low_pass_counter"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = c.MQTT.UniqueID
	}
	if c.MQTT.RootTopic == "" {
		c.MQTT.RootTopic = "homeassistant/sensor/" + c.MQTT.UniqueID
	}
	c.MQTT.RootTopic = strings.TrimRight(c.MQTT.RootTopic, "/")
	if c.MQTT.KeepAliveSeconds <= 0 {
		c.MQTT.KeepAliveSeconds = 60
	}
	if c.MQTT.ConnectTimeoutSeconds <= 0 {
		c.MQTT.ConnectTimeoutSeconds = 10
	}
	if c.MQTT.PublishTimeoutSeconds <= 0 {
		c.MQTT.PublishTimeoutSeconds = 10
	}
	if c.Daily.RolloverHour == nil {
		hour := 3
		c.Daily.RolloverHour = &hour
	}
	if c.Dedup.WindowSeconds <= 0 {
		c.Dedup.WindowSeconds = 600
	}
	if c.Dedup.Capacity <= 0 {
		c.Dedup.Capacity = 128
	}
	if c.Poll.IntervalSeconds <= 0 {
		c.Poll.IntervalSeconds = 5
	}
	if c.Poll.StepSeconds == nil {
		step := 60
		c.Poll.StepSeconds = &step
	}
	if c.Poll.MaxSteps == nil {
		steps := 5
		c.Poll.MaxSteps = &steps
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "data/logs"
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = 7
	}
	if c.Logging.SkipLogWindowSeconds == 0 {
		c.Logging.SkipLogWindowSeconds = int(defaultSkipLogWindow / time.Second)
	}
}

// Validate rejects settings the counter cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Feed.URL == "" {
		errs = append(errs, errors.New("feed.url is required"))
	}
	if strings.TrimSpace(c.MQTT.Broker) == "" {
		errs = append(errs, errors.New("mqtt.broker is required"))
	}
	if c.Home.Lat == 0 && c.Home.Lon == 0 {
		errs = append(errs, errors.New("home.lat/home.lon are required"))
	}
	if c.Home.Lat < -90 || c.Home.Lat > 90 {
		errs = append(errs, fmt.Errorf("home.lat %v out of range", c.Home.Lat))
	}
	if c.Home.Lon < -180 || c.Home.Lon > 180 {
		errs = append(errs, fmt.Errorf("home.lon %v out of range", c.Home.Lon))
	}
	if c.Thresholds.MaxAltitudeM <= 0 {
		errs = append(errs, errors.New("thresholds.max_altitude_m must be positive"))
	}
	if c.Thresholds.MaxDistanceM <= 0 {
		errs = append(errs, errors.New("thresholds.max_distance_m must be positive"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos %d must be 0, 1 or 2", c.MQTT.QoS))
	}
	if h := c.Daily.RolloverHour; h != nil && (*h < 0 || *h > 23) {
		errs = append(errs, fmt.Errorf("daily.rollover_hour %d must be 0..23", *h))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("daily.timezone: %w", err))
	}
	if s := c.Poll.StepSeconds; s != nil && *s < 0 {
		errs = append(errs, errors.New("poll.backoff_step_seconds must not be negative"))
	}
	if s := c.Poll.MaxSteps; s != nil && *s < 0 {
		errs = append(errs, errors.New("poll.backoff_max_steps must not be negative"))
	}
	return errors.Join(errs...)
}

// Location resolves daily.timezone; empty or "Local" means the host zone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Daily.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// Seconds converts a whole-second setting to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Print displays the configuration
func (c *Config) Print() {
	fmt.Printf("Config: %s\n", c.LoadedFrom)
	fmt.Printf("Feed: %s (timeout %ds)\n", c.Feed.URL, c.Feed.TimeoutSeconds)
	fmt.Printf("Home: %.5f, %.5f\n", c.Home.Lat, c.Home.Lon)
	fmt.Printf("Low pass: altitude <= %.0f m, distance < %.0f m\n", c.Thresholds.MaxAltitudeM, c.Thresholds.MaxDistanceM)
	auth := "anonymous"
	if c.MQTT.Username != "" {
		auth = c.MQTT.Username + ":" + maskSecret(c.MQTT.Password)
	}
	fmt.Printf("MQTT: %s as %s (%s), root topic %s, qos=%d retain=%t\n",
		c.MQTT.Broker, c.MQTT.ClientID, auth, c.MQTT.RootTopic, c.MQTT.QoS, c.MQTT.Retain)
	tz := c.Daily.Timezone
	if tz == "" {
		tz = "Local"
	}
	fmt.Printf("Daily: rollover at %02d:00 %s\n", *c.Daily.RolloverHour, tz)
	fmt.Printf("Dedup: window=%ds capacity=%d\n", c.Dedup.WindowSeconds, c.Dedup.Capacity)
	if c.Metrics.Listen != "" {
		fmt.Printf("Metrics: %s\n", c.Metrics.Listen)
	}
	if c.Logging.Enabled {
		fmt.Printf("Logging: %s (retain %d days)\n", c.Logging.Dir, c.Logging.RetentionDays)
	}
}

func maskSecret(s string) string {
	if s == "" {
		return "<none>"
	}
	return "****"
}

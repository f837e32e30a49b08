package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/icodeforyou/netztransparenz-go/endpoint"
	"github.com/icodeforyou/netztransparenz-go/logging"
	"github.com/icodeforyou/netztransparenz-go/netztransparenz"
	"github.com/icodeforyou/netztransparenz-go/transport"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppConfigApi struct {
	Address string
	Port    int16
}

type AppConfigNetztransparenz struct {
	BaseURL      string `mapstructure:"base_url"`
	TokenURL     string `mapstructure:"token_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	// Longest range a single upstream request may cover, default: 8760h
	MaxQuerySpan *time.Duration `mapstructure:"max_query_span"`
	// Concurrent sub-range requests per query, default: 4
	Workers *int `mapstructure:"workers"`
	// Fail on invalid ranges instead of returning an empty table
	Strict bool `mapstructure:"strict"`
	// Upstream throttle, 0 means unlimited
	RequestsPerSecond float64        `mapstructure:"requests_per_second"`
	Retries           *int           `mapstructure:"retries"`
	Timeout           *time.Duration `mapstructure:"timeout"`
	// Optional YAML file with additional or overriding endpoint descriptors
	EndpointsFile string `mapstructure:"endpoints_file"`
}

func (n AppConfigNetztransparenz) GetMaxQuerySpan() time.Duration {
	if n.MaxQuerySpan == nil || *n.MaxQuerySpan <= 0 {
		return 365 * 24 * time.Hour
	}
	return *n.MaxQuerySpan
}

func (n AppConfigNetztransparenz) GetWorkers() int {
	if n.Workers == nil || *n.Workers < 1 {
		return 4
	}
	return *n.Workers
}

func (n AppConfigNetztransparenz) GetRetries() int {
	if n.Retries == nil {
		return 3
	}
	return *n.Retries
}

func (n AppConfigNetztransparenz) GetTimeout() time.Duration {
	if n.Timeout == nil {
		return 60 * time.Second
	}
	return *n.Timeout
}

func (n AppConfigNetztransparenz) ClientConfig(userAgent string) netztransparenz.Config {
	return netztransparenz.Config{
		BaseURL:      n.BaseURL,
		TokenURL:     n.TokenURL,
		ClientID:     n.ClientID,
		ClientSecret: n.ClientSecret,
		MaxSpan:      n.GetMaxQuerySpan(),
		Workers:      n.GetWorkers(),
		Strict:       n.Strict,
		Transport: transport.Config{
			Timeout:           n.GetTimeout(),
			RequestsPerSecond: n.RequestsPerSecond,
			Retries:           n.GetRetries(),
			UserAgent:         userAgent,
		},
	}
}

// Registry returns the built-in endpoints, extended or overridden by EndpointsFile.
func (n AppConfigNetztransparenz) Registry() (*endpoint.Registry, error) {
	r := endpoint.Default()
	if n.EndpointsFile == "" {
		return r, nil
	}
	if _, err := r.LoadFile(n.EndpointsFile); err != nil {
		return nil, fmt.Errorf("loading endpoints file: %w", err)
	}
	return r, nil
}

type AppConfigDatabase struct {
	Path string
	// How many days harvested series should be stored before they get purged
	DataRetentionDays *int `mapstructure:"data_retention_days"`
	// How many days daily backup files should be stored before they get deleted
	BackupRetentionDays *int `mapstructure:"backup_retention_days"`
	// How many days the fetch log is kept
	FetchLogRetentionDays *int `mapstructure:"fetch_log_retention_days"`
}

func (d AppConfigDatabase) GetDataRetentionDays() int {
	if d.DataRetentionDays == nil {
		return 365
	}
	return *d.DataRetentionDays
}

func (d AppConfigDatabase) GetBackupRetentionDays() int {
	if d.BackupRetentionDays == nil {
		return 90
	}
	return *d.BackupRetentionDays
}

func (d AppConfigDatabase) GetFetchLogRetentionDays() int {
	if d.FetchLogRetentionDays == nil {
		return 30
	}
	return *d.FetchLogRetentionDays
}

type AppConfigMqtt struct {
	Host     string
	Port     int16
	Username string
	Password string
	ClientID string `mapstructure:"client_id"`
	// Topics are "<prefix>/<endpoint>", default: "netztransparenz"
	TopicPrefix *string `mapstructure:"topic_prefix"`
}

func (m AppConfigMqtt) Enabled() bool {
	return m.Host != ""
}

func (m AppConfigMqtt) GetTopicPrefix() string {
	if m.TopicPrefix == nil {
		return "netztransparenz"
	}
	return *m.TopicPrefix
}

func (m AppConfigMqtt) GetClientID() string {
	if m.ClientID == "" {
		return "netztransparenz-go"
	}
	return m.ClientID
}

type AppConfigHarvestJob struct {
	Name      string
	Endpoints []string
	RunAt     string `mapstructure:"run_at"`
	// How far back each run reaches from now, default: 24h
	Lookback *time.Duration `mapstructure:"lookback"`
	// How far ahead forecast endpoints reach from now, default: 0
	Lookahead time.Duration `mapstructure:"lookahead"`
	// Keep successful sub-ranges when others fail
	Partial bool `mapstructure:"partial"`
	// Publish harvested rows over MQTT
	Publish bool `mapstructure:"publish"`
}

func (j AppConfigHarvestJob) GetLookback() time.Duration {
	if j.Lookback == nil {
		return 24 * time.Hour
	}
	return *j.Lookback
}

type AppConfigMaintenance struct {
	RunAt *string `mapstructure:"run_at"`
}

func (m AppConfigMaintenance) GetRunAt() string {
	if m.RunAt == nil {
		return "30 2 * * *"
	}
	return *m.RunAt
}

type AppConfigLogging struct {
	// Min log level for database : "DEBUG", "INFO", "WARN", "ERROR", default: "INFO"
	DbLevel *string `mapstructure:"db_level"`
	// Log attributes format: "TEXT", "JSON", default: "JSON"
	DbAttrsFormat *string `mapstructure:"db_attrs_format"`
	// Maximum number of log entries in the database, default: 10000
	DbMaxEntries *int `mapstructure:"db_max_entries"`
	// Min log level for console: "DEBUG", "INFO", "WARN", "ERROR", default: "INFO"
	ConsoleLevel *string `mapstructure:"console_level"`
	// Rotating JSON log file, disabled when empty
	File *string `mapstructure:"file"`
	// Min log level for the log file, default: "INFO"
	FileLevel *string `mapstructure:"file_level"`
	// Size in MB before the file is rotated, default: 100
	FileMaxSizeMB *int `mapstructure:"file_max_size_mb"`
	// Days rotated files are kept, default: 30
	FileMaxAgeDays *int `mapstructure:"file_max_age_days"`
}

func (l AppConfigLogging) GetDbLevel() slog.Level {
	return logging.LevelFromString(l.DbLevel)
}

func (l AppConfigLogging) GetDbAttrsFormat() logging.LogAttrFormat {
	if l.DbAttrsFormat == nil {
		return logging.LogAttrFormatJSON
	}
	if strings.EqualFold(*l.DbAttrsFormat, "text") {
		return logging.LogAttrFormatText
	}
	return logging.LogAttrFormatJSON
}

func (l AppConfigLogging) GetDbMaxEntries() int {
	if l.DbMaxEntries == nil {
		return 10000
	}
	return *l.DbMaxEntries
}

func (l AppConfigLogging) GetConsoleLevel() slog.Level {
	return logging.LevelFromString(l.ConsoleLevel)
}

// GetFile returns the log file options, false when file logging is off.
func (l AppConfigLogging) GetFile() (logging.FileOptions, bool) {
	if l.File == nil || *l.File == "" {
		return logging.FileOptions{}, false
	}
	o := logging.FileOptions{
		Path:       *l.File,
		Level:      logging.LevelFromString(l.FileLevel),
		MaxSizeMB:  100,
		MaxAgeDays: 30,
	}
	if l.FileMaxSizeMB != nil {
		o.MaxSizeMB = *l.FileMaxSizeMB
	}
	if l.FileMaxAgeDays != nil {
		o.MaxAgeDays = *l.FileMaxAgeDays
	}
	return o, true
}

type AppConfig struct {
	Api             AppConfigApi
	Netztransparenz AppConfigNetztransparenz `mapstructure:"netztransparenz"`
	Database        AppConfigDatabase
	Mqtt            AppConfigMqtt
	Harvest         []AppConfigHarvestJob `mapstructure:"harvest"`
	Maintenance     AppConfigMaintenance  `mapstructure:"maintenance"`
	Logging         AppConfigLogging      `mapstructure:"logging"`
}

// Environment names understood in addition to the dotted keys, e.g. DATABASE_PATH.
var envAliases = map[string]string{
	"netztransparenz.client_id":     "IPNT_CLIENT_ID",
	"netztransparenz.client_secret": "IPNT_CLIENT_SECRET",
}

func newViper(path string) (*viper.Viper, error) {
	// A missing .env is fine, the variables may come from the environment itself.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("unable to read .env file: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, env := range envAliases {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}
	return v, nil
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var c AppConfig
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config file: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *AppConfig) validate() error {
	seen := map[string]bool{}
	for i, j := range c.Harvest {
		if j.Name == "" {
			return fmt.Errorf("harvest job %d has no name", i)
		}
		if seen[j.Name] {
			return fmt.Errorf("harvest job %q is defined twice", j.Name)
		}
		seen[j.Name] = true
		if len(j.Endpoints) == 0 {
			return fmt.Errorf("harvest job %q has no endpoints", j.Name)
		}
		if j.RunAt == "" {
			return fmt.Errorf("harvest job %q has no run_at", j.Name)
		}
	}
	return nil
}

func Load(path string) (*AppConfig, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch reloads the configuration whenever the file changes and hands every
// valid version to onChange. Invalid versions are logged and skipped.
func Watch(path string, onChange func(*AppConfig)) error {
	v, err := newViper(path)
	if err != nil {
		return err
	}
	logger := slog.Default().With("module", "config")
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		c, err := decode(v)
		if err != nil {
			logger.Error("ignoring changed config", slog.String("file", e.Name), slog.Any("error", err))
			return
		}
		logger.Info("config changed", slog.String("file", e.Name))
		onChange(c)
	})
	v.WatchConfig()
	return nil
}

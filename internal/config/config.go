// Package config loads runtime settings from the environment and an
// optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "CHECKIN"

// Config is the resolved runtime configuration.
type Config struct {
	ConfigFile string

	Addr   string
	DBPath string

	LogLevel  string
	LogFormat string
	LogFile   string

	CalAPIURL    string
	CalWebURL    string
	CalCancelURL string
	CalTimeout   time.Duration
	CalTimeZone  string

	PollInterval time.Duration
	MaxAttempts  int
	RetryBase    time.Duration
	RetryMax     time.Duration
	Workers      int
	Lease        time.Duration

	SecretPassphrase string

	PostmarkToken string
	EmailFrom     string
	BaseURL       string

	HousekeepingSchedule string
	RunRetention         time.Duration

	RateLimit       int
	RateLimitWindow time.Duration

	VAPIDPublicKey  string
	VAPIDPrivateKey string

	S3Endpoint  string
	S3Bucket    string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Prefix    string

	// BackupPassphrase falls back to SecretPassphrase when unset.
	BackupPassphrase string
	BackupSchedule   string
	BackupRetention  time.Duration
}

var defaults = map[string]any{
	"addr":                  ":8080",
	"db_path":               "checkin.db",
	"log_level":             "info",
	"log_format":            "text",
	"log_file":              "",
	"cal_api_url":           "https://api.cal.com/v1",
	"cal_web_url":           "https://cal.com",
	"cal_cancel_url":        "https://app.cal.com/api/cancel",
	"cal_timeout_seconds":   10,
	"cal_time_zone":         "Europe/Berlin",
	"poll_interval_seconds": 15,
	"max_attempts":          5,
	"retry_base_ms":         1000,
	"retry_max_seconds":     60,
	"workers":               4,
	"lease_seconds":         300,
	"secret_passphrase":     "",
	"postmark_token":        "",
	"email_from":            "",
	"base_url":              "http://localhost:8080",
	"housekeeping_schedule": "@daily",
	"run_retention_days":    30,
	"rate_limit":            20,
	"rate_limit_window_sec": 60,
	"vapid_public_key":      "",
	"vapid_private_key":     "",
	"s3_endpoint":           "",
	"s3_bucket":             "",
	"s3_region":             "us-east-1",
	"s3_access_key":         "",
	"s3_secret_key":         "",
	"s3_prefix":             "checkin/",
	"backup_passphrase":     "",
	"backup_schedule":       "0 3 * * *",
	"backup_retention_days": 30,
}

// Load reads configuration. Environment variables prefixed with CHECKIN_
// override values from configFile, which may be empty.
func Load(configFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	maxAttempts := v.GetInt("max_attempts")
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	workers := v.GetInt("workers")
	if workers < 1 {
		workers = 1
	}

	retentionDays := v.GetInt("run_retention_days")
	if retentionDays < 1 {
		retentionDays = 1
	}

	backupDays := v.GetInt("backup_retention_days")
	if backupDays < 1 {
		backupDays = 1
	}

	backupPassphrase := v.GetString("backup_passphrase")
	if backupPassphrase == "" {
		backupPassphrase = v.GetString("secret_passphrase")
	}

	format := strings.ToLower(strings.TrimSpace(v.GetString("log_format")))
	switch format {
	case "text", "json", "pretty":
	default:
		return Config{}, fmt.Errorf("invalid log format %q", format)
	}

	return Config{
		ConfigFile: configFile,

		Addr:   v.GetString("addr"),
		DBPath: v.GetString("db_path"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: format,
		LogFile:   strings.TrimSpace(v.GetString("log_file")),

		CalAPIURL:    v.GetString("cal_api_url"),
		CalWebURL:    v.GetString("cal_web_url"),
		CalCancelURL: v.GetString("cal_cancel_url"),
		CalTimeout:   seconds(v.GetInt("cal_timeout_seconds"), 10),
		CalTimeZone:  v.GetString("cal_time_zone"),

		PollInterval: seconds(v.GetInt("poll_interval_seconds"), 15),
		MaxAttempts:  maxAttempts,
		RetryBase:    time.Duration(max(v.GetInt("retry_base_ms"), 1)) * time.Millisecond,
		RetryMax:     seconds(v.GetInt("retry_max_seconds"), 60),
		Workers:      workers,
		Lease:        seconds(v.GetInt("lease_seconds"), 300),

		SecretPassphrase: v.GetString("secret_passphrase"),

		PostmarkToken: v.GetString("postmark_token"),
		EmailFrom:     v.GetString("email_from"),
		BaseURL:       strings.TrimRight(v.GetString("base_url"), "/"),

		HousekeepingSchedule: v.GetString("housekeeping_schedule"),
		RunRetention:         time.Duration(retentionDays) * 24 * time.Hour,

		RateLimit:       max(v.GetInt("rate_limit"), 1),
		RateLimitWindow: seconds(v.GetInt("rate_limit_window_sec"), 60),

		VAPIDPublicKey:  v.GetString("vapid_public_key"),
		VAPIDPrivateKey: v.GetString("vapid_private_key"),

		S3Endpoint:  v.GetString("s3_endpoint"),
		S3Bucket:    v.GetString("s3_bucket"),
		S3Region:    v.GetString("s3_region"),
		S3AccessKey: v.GetString("s3_access_key"),
		S3SecretKey: v.GetString("s3_secret_key"),
		S3Prefix:    v.GetString("s3_prefix"),

		BackupPassphrase: backupPassphrase,
		BackupSchedule:   v.GetString("backup_schedule"),
		BackupRetention:  time.Duration(backupDays) * 24 * time.Hour,
	}, nil
}

// EmailEnabled reports whether failure emails can be sent.
func (c Config) EmailEnabled() bool {
	return c.PostmarkToken != "" && c.EmailFrom != ""
}

// PushEnabled reports whether VAPID keys are configured.
func (c Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

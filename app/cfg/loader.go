package cfg

import (
	"cmp"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage
	DBPath     string `long:"db-path" env:"DB_PATH" default:"./data/inapp.db" description:"SQLite database file"`
	DeviceFile string `long:"device-file" env:"DEVICE_FILE" default:"./device.yml" description:"YAML file describing the device audience context"`

	// Remote data
	AppKey         string `long:"app-key" env:"APP_KEY" description:"Application key used in remote data requests (required)" required:"true"`
	RemoteDataURL  string `long:"remote-data-url" env:"REMOTE_DATA_URL" default:"https://remote-data.urbanairship.com" description:"Remote data service base URL"`
	Platform       string `long:"platform" env:"PLATFORM" default:"android" choice:"android" choice:"ios" description:"Platform segment of the remote data URL"`
	RequestTimeout int    `long:"request-timeout" env:"REQUEST_TIMEOUT" default:"30" description:"Remote data request timeout in seconds"`

	// Application configuration
	Port            string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	WorkerCount     int    `long:"worker-count" env:"WORKER_COUNT" default:"2" description:"Number of background workers for remote data refreshes"`
	RefreshInterval int    `long:"refresh-interval" env:"REFRESH_INTERVAL" default:"300" description:"Remote data refresh interval in seconds"`
	APIAccessKey    string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"InApp Sync/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

// Load parses flags and environment. It returns nil, nil when help was shown.
func Load() (*Cfg, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:          raw.DBPath,
		DeviceFile:      raw.DeviceFile,
		AppKey:          raw.AppKey,
		RemoteDataURL:   strings.TrimRight(raw.RemoteDataURL, "/"),
		Platform:        raw.Platform,
		RequestTimeout:  raw.RequestTimeout,
		Port:            raw.Port,
		WorkerCount:     raw.WorkerCount,
		RefreshInterval: raw.RefreshInterval,
		APIAccessKey:    raw.APIAccessKey,
		UserAgent:       raw.UserAgent,
		Timezone:        raw.Timezone,
		Debug:           raw.Debug,
		Version:         GetVersion(),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func validate(cfg *Cfg) error {
	if cfg.WorkerCount < 1 {
		return fmt.Errorf("worker count must be positive, got %d", cfg.WorkerCount)
	}
	if cfg.RefreshInterval < 1 {
		return fmt.Errorf("refresh interval must be positive, got %d", cfg.RefreshInterval)
	}
	if cfg.RequestTimeout < 1 {
		return fmt.Errorf("request timeout must be positive, got %d", cfg.RequestTimeout)
	}
	return nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}

// Package config loads and validates the imagesentry configuration.
//
// Configuration comes from a TOML file (CONFIG_PATH, default config.toml)
// with environment variables overriding the secrets so deployments can keep
// tokens out of the file: DISCORD_TOKEN, AIORNOT_API_KEY, DRIVE_FOLDER_ID
// and SPREADSHEET_ID.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8090"
	DefaultCommandPrefix     = "!"
	DefaultDetectionEndpoint = "https://api.aiornot.com/v1/reports/image"
	DefaultCredentialsFile   = "credentials.json"
	DefaultTokenFile         = "token.json"
	DefaultCallbackPort      = 8080
	DefaultLedgerRange       = "Sheet1!A1"
	DefaultMaxImageBytes     = 25 * 1024 * 1024
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Discord   DiscordConfig   `toml:"discord"`
	Detection DetectionConfig `toml:"detection"`
	Google    GoogleConfig    `toml:"google"`
	Archive   ArchiveConfig   `toml:"archive"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type DiscordConfig struct {
	Token         string `toml:"token" validate:"required"`
	CommandPrefix string `toml:"command_prefix"`
}

type DetectionConfig struct {
	APIKey         string `toml:"api_key" validate:"required"`
	Endpoint       string `toml:"endpoint" validate:"required,url"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"gte=0"`
}

type GoogleConfig struct {
	CredentialsFile string `toml:"credentials_file" validate:"required"`
	TokenFile       string `toml:"token_file" validate:"required"`
	CallbackPort    int    `toml:"callback_port" validate:"gt=0,lte=65535"`
}

type ArchiveConfig struct {
	FolderID string `toml:"folder_id" validate:"required"`
}

type LedgerConfig struct {
	SpreadsheetID string `toml:"spreadsheet_id" validate:"required"`
	Range         string `toml:"range" validate:"required"`
}

type PipelineConfig struct {
	// ContinueOnUploadFailure keeps the audit append even when the Drive
	// upload fails. The ledger row only ever uses the verdict already
	// obtained, never placeholder data.
	ContinueOnUploadFailure bool  `toml:"continue_on_upload_failure"`
	MaxConcurrentMessages   int64 `toml:"max_concurrent_messages" validate:"gt=0"`
	MaxConcurrentGoogle     int64 `toml:"max_concurrent_google_calls" validate:"gt=0"`
	MaxImageBytes           int64 `toml:"max_image_bytes" validate:"gt=0"`
}

// Load reads the TOML file at path (defaults applied first, environment
// overrides applied last). A missing file is not an error; the defaults and
// environment must then carry the required values.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Discord: DiscordConfig{
			CommandPrefix: DefaultCommandPrefix,
		},
		Detection: DetectionConfig{
			Endpoint:       DefaultDetectionEndpoint,
			TimeoutSeconds: 30,
		},
		Google: GoogleConfig{
			CredentialsFile: DefaultCredentialsFile,
			TokenFile:       DefaultTokenFile,
			CallbackPort:    DefaultCallbackPort,
		},
		Ledger: LedgerConfig{
			Range: DefaultLedgerRange,
		},
		Pipeline: PipelineConfig{
			ContinueOnUploadFailure: true,
			MaxConcurrentMessages:   8,
			MaxConcurrentGoogle:     4,
			MaxImageBytes:           DefaultMaxImageBytes,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		cfg.Discord.Token = v
	}
	if v := os.Getenv("AIORNOT_API_KEY"); v != "" {
		cfg.Detection.APIKey = v
	}
	if v := os.Getenv("DRIVE_FOLDER_ID"); v != "" {
		cfg.Archive.FolderID = v
	}
	if v := os.Getenv("SPREADSHEET_ID"); v != "" {
		cfg.Ledger.SpreadsheetID = v
	}
}

// Validate checks the loaded configuration eagerly so missing tokens fail at
// startup instead of on first use.
func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// The interactive authorization flow binds its own listener on the
	// callback port, so it must not share a port with the admin server.
	if _, port, err := net.SplitHostPort(c.Server.Addr); err == nil && port == strconv.Itoa(c.Google.CallbackPort) {
		return fmt.Errorf("invalid configuration: server addr %q and google callback port %d use the same port", c.Server.Addr, c.Google.CallbackPort)
	}
	return nil
}

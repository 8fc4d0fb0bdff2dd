// Package config loads and persists the daemon and client settings
// from a TOML file under the data directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Server holds the daemon-side settings.
type Server struct {
	ListenAddr     string `toml:"listen_addr"`
	DatabasePath   string `toml:"database_path"`
	MediaDir       string `toml:"media_dir"`
	AvatarDir      string `toml:"avatar_dir"`
	KeyFile        string `toml:"key_file"`
	LogFile        string `toml:"log_file"`
	CaptchaTTLSecs int    `toml:"captcha_ttl_secs"`
}

// Client holds the client-side transport settings.
type Client struct {
	ServerAddr        string `toml:"server_addr"`
	KeyFile           string `toml:"key_file"`
	DownloadDir       string `toml:"download_dir"`
	LogFile           string `toml:"log_file"`
	RequestTimeoutSec int    `toml:"request_timeout_secs"`
	ConnectAttempts   int    `toml:"connect_attempts"`
	ConnectDelaySecs  int    `toml:"connect_delay_secs"`
}

// Config represents <data-dir>/config.toml.
type Config struct {
	Server Server `toml:"server"`
	Client Client `toml:"client"`
}

// Default returns the configuration used when no file exists, rooted
// at dataDir.
func Default(dataDir string) *Config {
	return &Config{
		Server: Server{
			ListenAddr:     "0.0.0.0:8106",
			DatabasePath:   filepath.Join(dataDir, "halcyon.db"),
			MediaDir:       filepath.Join(dataDir, "media"),
			AvatarDir:      filepath.Join(dataDir, "avatars"),
			KeyFile:        filepath.Join(dataDir, "halcyon.key"),
			LogFile:        filepath.Join(dataDir, "halcyond.log"),
			CaptchaTTLSecs: 300,
		},
		Client: Client{
			ServerAddr:        "127.0.0.1:8106",
			KeyFile:           filepath.Join(dataDir, "halcyon.key"),
			DownloadDir:       filepath.Join(dataDir, "downloads"),
			LogFile:           filepath.Join(dataDir, "halcyonctl.log"),
			RequestTimeoutSec: 30,
			ConnectAttempts:   3,
			ConnectDelaySecs:  2,
		},
	}
}

// Load reads config from path, falling back to Default(dataDir) when
// the file does not exist.
func Load(path, dataDir string) (*Config, error) {
	cfg := Default(dataDir)
	_, err := toml.DecodeFile(path, cfg)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("config: server.listen_addr must not be empty")
	}
	if c.Server.CaptchaTTLSecs <= 0 {
		return fmt.Errorf("config: server.captcha_ttl_secs must be positive")
	}
	if c.Client.RequestTimeoutSec <= 0 {
		return fmt.Errorf("config: client.request_timeout_secs must be positive")
	}
	if c.Client.ConnectAttempts <= 0 {
		return fmt.Errorf("config: client.connect_attempts must be positive")
	}
	return nil
}

// CaptchaTTL returns the registration captcha lifetime as a duration.
func (s Server) CaptchaTTL() time.Duration {
	return time.Duration(s.CaptchaTTLSecs) * time.Second
}

// RequestTimeout returns the per-request reply deadline as a duration.
func (c Client) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// ConnectDelay returns the pause between connection attempts.
func (c Client) ConnectDelay() time.Duration {
	return time.Duration(c.ConnectDelaySecs) * time.Second
}

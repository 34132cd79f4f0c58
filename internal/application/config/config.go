// ABOUTME: YAML configuration parsing with defaults and env credential overrides
// ABOUTME: Provider sections are optional; disabled ones leave their routes unserved

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultHost      = "127.0.0.1"
	defaultPort      = 37784
	defaultChunkSize = 4096
	defaultLogLevel  = "info"
)

type Config struct {
	Listen    ListenConfig  `yaml:"listen"`
	ChunkSize int           `yaml:"chunk_size"`
	LogLevel  string        `yaml:"log_level"`
	Spotify   SpotifyConfig `yaml:"spotify"`
	Deezer    DeezerConfig  `yaml:"deezer"`
	Tidal     TidalConfig   `yaml:"tidal"`
}

type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type SpotifyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type DeezerConfig struct {
	Enabled bool   `yaml:"enabled"`
	ARL     string `yaml:"arl"`
}

type TidalConfig struct {
	Enabled      bool   `yaml:"enabled"`
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	CountryCode  string `yaml:"country_code"`
	Quality      string `yaml:"quality"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

// Addr is the host:port the server binds.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Listen.Host, c.Listen.Port)
}

// applyDefaults fills the blanks and normalizes the chunk size: at least
// 4096 bytes and a multiple of 8, so a malformed value degrades instead of
// refusing startup.
func (c *Config) applyDefaults() {
	if c.Listen.Host == "" {
		c.Listen.Host = defaultHost
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = defaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.ChunkSize < defaultChunkSize {
		c.ChunkSize = defaultChunkSize
	}
	if rem := c.ChunkSize % 8; rem != 0 {
		c.ChunkSize += 8 - rem
	}
}

// applyEnv lets credentials come from the environment so config files can
// be committed without secrets.
func (c *Config) applyEnv() {
	override(&c.Spotify.Username, "SPOTILAVA_SPOTIFY_USERNAME")
	override(&c.Spotify.Password, "SPOTILAVA_SPOTIFY_PASSWORD")
	override(&c.Deezer.ARL, "SPOTILAVA_DEEZER_ARL")
	override(&c.Tidal.AccessToken, "SPOTILAVA_TIDAL_ACCESS_TOKEN")
	override(&c.Tidal.RefreshToken, "SPOTILAVA_TIDAL_REFRESH_TOKEN")
	override(&c.Tidal.ClientID, "SPOTILAVA_TIDAL_CLIENT_ID")
	override(&c.Tidal.ClientSecret, "SPOTILAVA_TIDAL_CLIENT_SECRET")
}

func override(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

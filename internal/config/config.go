package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server"`
	Database    DatabaseConfig    `yaml:"database" json:"database"`
	Transcoding TranscodingConfig `yaml:"transcoding" json:"transcoding"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	EnableCORS   bool          `yaml:"enable_cors" json:"enable_cors"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Type         string `yaml:"type" json:"type"`
	DataDir      string `yaml:"data_dir" json:"data_dir"`
	DatabasePath string `yaml:"database_path" json:"database_path"`
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password" json:"password"`
	Database     string `yaml:"database" json:"database"`
	LogQueries   bool   `yaml:"log_queries" json:"log_queries"`
}

// TranscodingConfig holds the delivery engine configuration
type TranscodingConfig struct {
	// FFmpegPath is the external transcoder binary
	FFmpegPath string `yaml:"ffmpeg_path" json:"ffmpeg_path"`

	// TranscodingDir is the root of the segment cache (dash/, hls/, dash-seek/, hls-seek/)
	TranscodingDir string `yaml:"transcoding_dir" json:"transcoding_dir"`

	// GopIndexDir holds the keyframe indexes produced by the analysis component
	GopIndexDir string `yaml:"gop_index_dir" json:"gop_index_dir"`

	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs" json:"max_concurrent_jobs"`
	SegmentDuration   time.Duration `yaml:"segment_duration" json:"segment_duration"`

	// JobIdleTimeout reaps running jobs whose heartbeat went stale
	JobIdleTimeout time.Duration `yaml:"job_idle_timeout" json:"job_idle_timeout"`

	// RegistryIdleTimeout evicts registry entries nobody has accessed
	RegistryIdleTimeout time.Duration `yaml:"registry_idle_timeout" json:"registry_idle_timeout"`
	EvictInterval       time.Duration `yaml:"evict_interval" json:"evict_interval"`

	SegmentWaitTimeout time.Duration `yaml:"segment_wait_timeout" json:"segment_wait_timeout"`

	EnableHardwareAccel bool `yaml:"enable_hardware_accel" json:"enable_hardware_accel"`
	EnableToneMapping   bool `yaml:"enable_tone_mapping" json:"enable_tone_mapping"`

	// LockPoolSize bounds the per-path mutex pool
	LockPoolSize int `yaml:"lock_pool_size" json:"lock_pool_size"`
}

var (
	cfg  *Config
	once sync.Once
)

// Default returns the built-in configuration defaults
func Default() *Config {
	dataDir := getEnvString("EMBER_DATA_DIR", "/var/lib/ember")

	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			EnableCORS:   true,
		},
		Database: DatabaseConfig{
			Type:     "sqlite",
			DataDir:  dataDir,
			Host:     "localhost",
			Port:     5432,
			Username: "ember",
			Database: "ember",
		},
		Transcoding: TranscodingConfig{
			FFmpegPath:          "ffmpeg",
			TranscodingDir:      filepath.Join(dataDir, "transcoding"),
			GopIndexDir:         filepath.Join(dataDir, "gop"),
			MaxConcurrentJobs:   4,
			SegmentDuration:     4 * time.Second,
			JobIdleTimeout:      5 * time.Minute,
			RegistryIdleTimeout: 5 * time.Minute,
			EvictInterval:       30 * time.Second,
			SegmentWaitTimeout:  30 * time.Second,
			EnableHardwareAccel: true,
			EnableToneMapping:   true,
			LockPoolSize:        256,
		},
	}
}

// Load reads the optional YAML config file and applies environment overrides.
// Missing file is not an error; defaults cover everything.
func Load(path string) (*Config, error) {
	c := Default()

	if path == "" {
		path = os.Getenv("EMBER_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	c.applyEnvOverrides()
	cfg = c
	return c, nil
}

// Get returns the active configuration, loading defaults if Load was never called
func Get() *Config {
	once.Do(func() {
		if cfg == nil {
			c, _ := Load("")
			cfg = c
		}
	})
	return cfg
}

// SetForTesting replaces the active configuration (tests only)
func SetForTesting(c *Config) {
	once.Do(func() {})
	cfg = c
}

func (c *Config) applyEnvOverrides() {
	c.Server.Host = getEnvString("EMBER_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("EMBER_PORT", c.Server.Port)

	c.Database.Type = getEnvString("DATABASE_TYPE", c.Database.Type)
	c.Database.DatabasePath = getEnvString("EMBER_DATABASE_PATH", c.Database.DatabasePath)
	c.Database.Host = getEnvString("POSTGRES_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("POSTGRES_PORT", c.Database.Port)
	c.Database.Username = getEnvString("POSTGRES_USER", c.Database.Username)
	c.Database.Password = getEnvString("POSTGRES_PASSWORD", c.Database.Password)
	c.Database.Database = getEnvString("POSTGRES_DB", c.Database.Database)

	c.Transcoding.FFmpegPath = getEnvString("EMBER_FFMPEG_PATH", c.Transcoding.FFmpegPath)
	c.Transcoding.TranscodingDir = getEnvString("EMBER_TRANSCODING_DIR", c.Transcoding.TranscodingDir)
	c.Transcoding.GopIndexDir = getEnvString("EMBER_GOP_INDEX_DIR", c.Transcoding.GopIndexDir)
	c.Transcoding.MaxConcurrentJobs = getEnvInt("EMBER_MAX_CONCURRENT_JOBS", c.Transcoding.MaxConcurrentJobs)
	c.Transcoding.EnableHardwareAccel = getEnvBool("EMBER_HARDWARE_ACCEL", c.Transcoding.EnableHardwareAccel)
	c.Transcoding.EnableToneMapping = getEnvBool("EMBER_TONE_MAPPING", c.Transcoding.EnableToneMapping)
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// Package config provides XML-based configuration for the gateway.
package config

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/instabrief/backend/internal/models"
)

// FileName is the configuration file looked up beside the executable.
const FileName = "InstaBrief.config"

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"InstaBrief"`

	Server            ServerConfig            `xml:"Server"`
	Storage           StorageConfig           `xml:"Storage"`
	ProcessingService ProcessingServiceConfig `xml:"ProcessingService"`
	Queue             QueueConfig             `xml:"Queue"`
	Events            EventsConfig            `xml:"Events"`
	Advanced          AdvancedConfig          `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string `xml:"DataDirectory"`
	UploadsDirectory string `xml:"UploadsDirectory"`
	HistoryDatabase  string `xml:"HistoryDatabase"`
	CatalogFile      string `xml:"CatalogFile"` // optional, replaces the built-in catalog
}

// ProcessingServiceConfig locates the Document Processing Service
type ProcessingServiceConfig struct {
	URL               string  `xml:"URL"`
	Token             string  `xml:"Token"`
	TimeoutSeconds    int     `xml:"TimeoutSeconds"`
	RequestsPerSecond float64 `xml:"RequestsPerSecond"`
	Burst             int     `xml:"Burst"`
}

// QueueConfig contains upload queue and session settings
type QueueConfig struct {
	Workers                int    `xml:"Workers"`
	MaxSessions            int    `xml:"MaxSessions"`
	SessionTimeoutMinutes  int    `xml:"SessionTimeoutMinutes"`
	CleanupIntervalMinutes int    `xml:"CleanupIntervalMinutes"`
	DefaultAlgorithm       string `xml:"DefaultAlgorithm"`
	DefaultMaxLength       int    `xml:"DefaultMaxLength"`
	DefaultLanguage        string `xml:"DefaultLanguage"`
}

// EventsConfig tunes the notification fan-out
type EventsConfig struct {
	SubscriberBuffer        int `xml:"SubscriberBuffer"`
	HistorySize             int `xml:"HistorySize"`
	WebSocketMaxMessageSize int `xml:"WebSocketMaxMessageSizeKB"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
	EnableCompression    bool   `xml:"EnableCompression"`
	CompressionLevel     int    `xml:"CompressionLevel"`
	DuckDBThreads        int    `xml:"DuckDBThreads"`
	DuckDBMemoryLimit    string `xml:"DuckDBMemoryLimit"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 0, // event streams stay open
			IdleTimeout:  120,
			BodyLimit:    "64M",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
			HistoryDatabase:  "./data/history.duckdb",
		},
		ProcessingService: ProcessingServiceConfig{
			URL:               "http://localhost:8000/api",
			TimeoutSeconds:    120,
			RequestsPerSecond: 5,
			Burst:             1,
		},
		Queue: QueueConfig{
			Workers:                1,
			MaxSessions:            50,
			SessionTimeoutMinutes:  60,
			CleanupIntervalMinutes: 5,
			DefaultAlgorithm:       string(models.AlgorithmTextRank),
			DefaultMaxLength:       models.DefaultSummaryLength,
			DefaultLanguage:        "en",
		},
		Events: EventsConfig{
			SubscriberBuffer:        64,
			HistorySize:             100,
			WebSocketMaxMessageSize: 64,
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			EnableRequestLogging: true,
			EnableCompression:    true,
			CompressionLevel:     5,
			DuckDBThreads:        2,
			DuckDBMemoryLimit:    "256MB",
		},
	}
}

// LoadConfig loads configuration from XML file, creating it with defaults
// on first run.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- InstaBrief Upload Gateway Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects values the server cannot start with.
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid Server.Port %d", c.Server.Port)
	}
	if c.ProcessingService.URL == "" {
		return fmt.Errorf("ProcessingService.URL is required")
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("Queue.Workers must be at least 1, got %d", c.Queue.Workers)
	}
	if _, err := c.DefaultSettings(); err != nil {
		return fmt.Errorf("invalid Queue defaults: %w", err)
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// DATA_DIR override moves every storage path that lives under it
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.UploadsDirectory = filepath.Join(dataDir, "uploads")
		c.Storage.HistoryDatabase = filepath.Join(dataDir, "history.duckdb")
	}

	if url := os.Getenv("PROCESSING_SERVICE_URL"); url != "" {
		c.ProcessingService.URL = url
	}
	if token := os.Getenv("PROCESSING_SERVICE_TOKEN"); token != "" {
		c.ProcessingService.Token = token
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.UploadsDirectory,
		&c.Storage.HistoryDatabase,
		&c.Storage.CatalogFile,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// DefaultSettings returns the summary settings new sessions start with.
func (c *AppConfig) DefaultSettings() (models.SummarySettings, error) {
	return models.SummarySettings{
		Algorithm: models.Algorithm(c.Queue.DefaultAlgorithm),
		MaxLength: c.Queue.DefaultMaxLength,
		Language:  c.Queue.DefaultLanguage,
	}.Normalize()
}

// ServiceTimeout returns the per-request processing service timeout.
func (c *AppConfig) ServiceTimeout() time.Duration {
	return time.Duration(c.ProcessingService.TimeoutSeconds) * time.Second
}

// SessionTimeout returns how long an idle session is kept.
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Queue.SessionTimeoutMinutes) * time.Minute
}

// CleanupInterval returns how often idle sessions are swept.
func (c *AppConfig) CleanupInterval() time.Duration {
	if c.Queue.CleanupIntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Queue.CleanupIntervalMinutes) * time.Minute
}

// LogLevel maps Advanced.LogLevel to a slog level, defaulting to info.
func (c *AppConfig) LogLevel() slog.Level {
	switch strings.ToLower(c.Advanced.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetUploadDir returns the absolute uploads directory path
func (c *AppConfig) GetUploadDir() string {
	return c.Storage.UploadsDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
		filepath.Dir(c.Storage.HistoryDatabase),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

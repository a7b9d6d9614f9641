// Package config loads labelflow settings: built-in defaults, then an
// optional YAML file named by LABELFLOW_CONFIG, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Lllllllleong/labelflow/internal/gcp"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Registry backends.
const (
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
	BackendMemory    = "memory"
)

type Config struct {
	InventoryDir        string        `yaml:"inventory_dir"`
	ArtifactDir         string        `yaml:"artifact_dir"`
	DatabasePath        string        `yaml:"database_path"`
	CatalogPath         string        `yaml:"catalog_path"`
	RegistryBackend     string        `yaml:"registry_backend"`
	DocumentFormat      string        `yaml:"document_format"`
	ProjectID           string        `yaml:"project_id"`
	FirestoreDatabase   string        `yaml:"firestore_database"`
	FirestoreCollection string        `yaml:"firestore_collection"`
	JobsCollection      string        `yaml:"jobs_collection"`
	ArtifactBucket      string        `yaml:"artifact_bucket"`
	InboundBucket       string        `yaml:"inbound_bucket"`
	WorkflowID          string        `yaml:"workflow_id"`
	WorkflowLocation    string        `yaml:"workflow_location"`
	Workers             int           `yaml:"workers"`
	ScanConcurrency     int           `yaml:"scan_concurrency"`
	TextCacheSize       int           `yaml:"text_cache_size"`
	BusyTimeout         time.Duration `yaml:"busy_timeout"`
	ListenAddr          string        `yaml:"listen_addr"`
	ExceptionPrefixes   []string      `yaml:"exception_code_prefixes"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		InventoryDir:        "pdf-codes",
		DatabasePath:        "labelflow.db",
		RegistryBackend:     BackendSQLite,
		DocumentFormat:      "pdf",
		FirestoreCollection: "printed_codes",
		JobsCollection:      "jobs",
		WorkflowLocation:    "us-central1",
		Workers:             2,
		ScanConcurrency:     4,
		TextCacheSize:       256,
		BusyTimeout:         2 * time.Minute,
		ListenAddr:          ":8080",
		ExceptionPrefixes:   []string{"01046", "01029"},
	}
}

// Load builds the effective configuration.
func Load() (Config, error) {
	cfg := Default()
	if path := gcp.GetEnv("LABELFLOW_CONFIG", ""); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	cfg.fillDerived()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the keys present in a YAML file.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables.
func (c *Config) ApplyEnv() error {
	c.InventoryDir = gcp.GetEnv("LABELFLOW_INVENTORY_DIR", c.InventoryDir)
	c.ArtifactDir = gcp.GetEnv("LABELFLOW_ARTIFACT_DIR", c.ArtifactDir)
	c.DatabasePath = gcp.GetEnv("LABELFLOW_DATABASE_PATH", c.DatabasePath)
	c.CatalogPath = gcp.GetEnv("LABELFLOW_CATALOG_PATH", c.CatalogPath)
	c.RegistryBackend = gcp.GetEnv("LABELFLOW_REGISTRY_BACKEND", c.RegistryBackend)
	c.DocumentFormat = gcp.GetEnv("LABELFLOW_DOCUMENT_FORMAT", c.DocumentFormat)
	c.ProjectID = gcp.GetEnv("PROJECT_ID", c.ProjectID)
	c.FirestoreDatabase = gcp.GetEnv("FIRESTORE_DATABASE", c.FirestoreDatabase)
	c.FirestoreCollection = gcp.GetEnv("FIRESTORE_COLLECTION", c.FirestoreCollection)
	c.JobsCollection = gcp.GetEnv("JOBS_COLLECTION", c.JobsCollection)
	c.ArtifactBucket = gcp.GetEnv("ARTIFACT_BUCKET", c.ArtifactBucket)
	c.InboundBucket = gcp.GetEnv("INBOUND_BUCKET", c.InboundBucket)
	c.WorkflowID = gcp.GetEnv("WORKFLOW_ID", c.WorkflowID)
	c.WorkflowLocation = gcp.GetEnv("WORKFLOW_LOCATION", c.WorkflowLocation)
	c.ListenAddr = gcp.GetEnv("LABELFLOW_LISTEN_ADDR", c.ListenAddr)

	var err error
	if c.Workers, err = envInt("LABELFLOW_WORKERS", c.Workers); err != nil {
		return err
	}
	if c.ScanConcurrency, err = envInt("LABELFLOW_SCAN_CONCURRENCY", c.ScanConcurrency); err != nil {
		return err
	}
	if c.TextCacheSize, err = envInt("LABELFLOW_TEXT_CACHE_SIZE", c.TextCacheSize); err != nil {
		return err
	}
	if v := gcp.GetEnv("LABELFLOW_BUSY_TIMEOUT", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: LABELFLOW_BUSY_TIMEOUT: %v", ErrInvalidConfig, err)
		}
		c.BusyTimeout = d
	}
	if v := gcp.GetEnv("LABELFLOW_EXCEPTION_PREFIXES", ""); v != "" {
		c.ExceptionPrefixes = strings.Split(v, ",")
	}
	return nil
}

func envInt(key string, fallback int) (int, error) {
	v := gcp.GetEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return n, nil
}

// fillDerived sets paths that default relative to other settings.
func (c *Config) fillDerived() {
	if c.ArtifactDir == "" {
		c.ArtifactDir = filepath.Join(c.InventoryDir, "results")
	}
	if c.CatalogPath == "" {
		ext := filepath.Ext(c.DatabasePath)
		c.CatalogPath = strings.TrimSuffix(c.DatabasePath, ext) + "-catalog" + ext
	}
	for i, p := range c.ExceptionPrefixes {
		c.ExceptionPrefixes[i] = strings.TrimSpace(p)
	}
}

// Validate reports every problem joined into one ErrInvalidConfig error.
func (c Config) Validate() error {
	var problems []string
	if c.InventoryDir == "" {
		problems = append(problems, "inventory_dir is empty")
	}
	switch c.RegistryBackend {
	case BackendSQLite:
		if c.DatabasePath == "" {
			problems = append(problems, "database_path is empty")
		}
	case BackendFirestore:
		if c.ProjectID == "" {
			problems = append(problems, "firestore registry needs project_id")
		}
	case BackendMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown registry_backend %q", c.RegistryBackend))
	}
	switch strings.ToLower(c.DocumentFormat) {
	case "pdf", "text":
	default:
		problems = append(problems, fmt.Sprintf("unknown document_format %q", c.DocumentFormat))
	}
	if c.Workers < 1 {
		problems = append(problems, "workers must be at least 1")
	}
	if c.ScanConcurrency < 1 {
		problems = append(problems, "scan_concurrency must be at least 1")
	}
	if c.TextCacheSize < 0 {
		problems = append(problems, "text_cache_size must not be negative")
	}
	if c.BusyTimeout <= 0 {
		problems = append(problems, "busy_timeout must be positive")
	}
	if c.WorkflowID != "" && c.ProjectID == "" {
		problems = append(problems, "workflow_id needs project_id")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Package config holds the kvdownd configuration file format.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/eigerco/kvdown/pkg/asyncdb"
	"github.com/eigerco/kvdown/pkg/db"
	"github.com/eigerco/kvdown/pkg/log"
)

var (
	// ErrInvalid is wrapped by every Validate failure.
	ErrInvalid = errors.New("invalid config")
)

type Config struct {
	Logger     LoggerConfig     `yaml:"logger"`
	HTTP       HTTPConfig       `yaml:"http"`
	DB         DBConfig         `yaml:"db"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DBConfig struct {
	Engine          string `yaml:"engine"`
	Location        string `yaml:"location"`
	CreateIfMissing bool   `yaml:"create_if_missing"`
	ErrorIfExists   bool   `yaml:"error_if_exists"`
	MapSize         uint64 `yaml:"map_size"`
	MaxReaders      uint   `yaml:"max_readers"`
	Sync            bool   `yaml:"sync"`
	ReadOnly        bool   `yaml:"read_only"`
	NoSubdir        bool   `yaml:"no_subdir"`
	// BackupDir receives backups requested without a path.
	BackupDir string `yaml:"backup_dir"`
}

type DispatcherConfig struct {
	// Workers bounds concurrently executing tasks; 0 picks a default.
	Workers int `yaml:"workers"`
}

// Default returns a config for local development.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "info",
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		DB: DBConfig{
			Engine:          "pebble",
			Location:        "./data",
			CreateIfMissing: true,
			MapSize:         db.DefaultMapSize,
			MaxReaders:      db.DefaultMaxReaders,
			Sync:            true,
			BackupDir:       "./backups",
		},
	}
}

// Load reads the YAML file at path over Default. A missing file yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if _, err := log.ParseLogLevel(c.Logger.Level); err != nil {
		return fmt.Errorf("%w: logger.level %q", ErrInvalid, c.Logger.Level)
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("%w: http.addr is empty", ErrInvalid)
	}
	if c.HTTP.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: http.shutdown_timeout is negative", ErrInvalid)
	}
	if !db.Registered(c.DB.Engine) {
		return fmt.Errorf("%w: db.engine %q is not one of %v", ErrInvalid, c.DB.Engine, db.Drivers())
	}
	if c.DB.Location == "" {
		return fmt.Errorf("%w: db.location is empty", ErrInvalid)
	}
	if c.Dispatcher.Workers < 0 {
		return fmt.Errorf("%w: dispatcher.workers is negative", ErrInvalid)
	}
	return nil
}

// OpenOptions translates the db section for asyncdb.Database.Open.
func (c DBConfig) OpenOptions() asyncdb.OpenOptions {
	return asyncdb.OpenOptions{
		Engine:         c.Engine,
		ErrorIfMissing: !c.CreateIfMissing,
		ErrorIfExists:  c.ErrorIfExists,
		MapSize:        c.MapSize,
		MaxReaders:     c.MaxReaders,
		NoSync:         !c.Sync,
		ReadOnly:       c.ReadOnly,
		NoSubdir:       c.NoSubdir,
	}
}

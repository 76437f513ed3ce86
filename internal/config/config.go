// Package config loads tool settings from a YAML file, an optional .env file and
// TILEWORKS_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "TILEWORKS"

type Log struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // text or json
	File       string `mapstructure:"file"`   // empty logs to stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Offsite configures copying saves and backups to an S3-compatible bucket.
type Offsite struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Workers         int    `mapstructure:"workers"`
}

type Config struct {
	DataDir      string `mapstructure:"data_dir"`
	UndoDir      string `mapstructure:"undo_dir"`
	BackupDir    string `mapstructure:"backup_dir"`
	JournalDir   string `mapstructure:"journal_dir"`
	IndexPath    string `mapstructure:"index_path"`
	DisableIndex bool   `mapstructure:"disable_index"`
	VersionsPath string `mapstructure:"versions_path"` // empty uses the embedded table

	SaveVersion    int32 `mapstructure:"save_version"` // 0 saves at the newest version
	MaxUndo        int   `mapstructure:"max_undo"`
	FlushThreshold int   `mapstructure:"flush_threshold"`
	KeepBackups    int   `mapstructure:"keep_backups"`

	Log     Log     `mapstructure:"log"`
	Offsite Offsite `mapstructure:"offsite"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("undo_dir", "")
	v.SetDefault("backup_dir", "")
	v.SetDefault("journal_dir", "")
	v.SetDefault("index_path", "")
	v.SetDefault("disable_index", false)
	v.SetDefault("versions_path", "")
	v.SetDefault("save_version", 0)
	v.SetDefault("max_undo", 100)
	v.SetDefault("flush_threshold", 10000)
	v.SetDefault("keep_backups", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)
	v.SetDefault("offsite.enabled", false)
	v.SetDefault("offsite.endpoint", "")
	v.SetDefault("offsite.bucket", "")
	v.SetDefault("offsite.region", "auto")
	v.SetDefault("offsite.prefix", "")
	v.SetDefault("offsite.access_key_id", "")
	v.SetDefault("offsite.secret_access_key", "")
	v.SetDefault("offsite.workers", 2)
}

// Load reads path, or worldtool.yaml from the working directory when path is
// empty and such a file exists. envFiles are loaded into the process
// environment first; missing ones are skipped. Variables already set win over
// .env values.
func Load(path string, envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("worldtool")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	c.File = v.ConfigFileUsed()
	c.fillPaths()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// fillPaths derives unset directories from DataDir.
func (c *Config) fillPaths() {
	if c.UndoDir == "" {
		c.UndoDir = filepath.Join(c.DataDir, "undo")
	}
	if c.BackupDir == "" {
		c.BackupDir = filepath.Join(c.DataDir, "backups")
	}
	if c.JournalDir == "" {
		c.JournalDir = c.DataDir
	}
	if c.IndexPath == "" {
		c.IndexPath = filepath.Join(c.DataDir, "index", "tileworks.sqlite")
	}
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, errors.New("data_dir is empty"))
	}
	if c.MaxUndo <= 0 {
		errs = append(errs, fmt.Errorf("max_undo must be positive, got %d", c.MaxUndo))
	}
	if c.FlushThreshold <= 0 {
		errs = append(errs, fmt.Errorf("flush_threshold must be positive, got %d", c.FlushThreshold))
	}
	if c.KeepBackups < 0 {
		errs = append(errs, fmt.Errorf("keep_backups must not be negative, got %d", c.KeepBackups))
	}
	if c.SaveVersion < 0 {
		errs = append(errs, fmt.Errorf("save_version must not be negative, got %d", c.SaveVersion))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if o := c.Offsite; o.Enabled {
		if o.Endpoint == "" || o.Bucket == "" || o.AccessKeyID == "" || o.SecretAccessKey == "" {
			errs = append(errs, errors.New("offsite.enabled needs endpoint, bucket, access_key_id and secret_access_key"))
		}
	}
	return errors.Join(errs...)
}

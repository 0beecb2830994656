// Package config loads engine configuration from a CUE file.
//
// The schema (schema.cue, embedded) gives every field a default, so a
// missing config file is a valid deployment: the engine runs out of the
// current directory in trust-the-store mode. A present file is unified
// against the schema, which rejects unknown fields and out-of-range
// values with CUE's own error positions.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	_ "embed"
)

//go:embed schema.cue
var schemaCUE string

// DefaultFileName is the config file the CLI looks for when --config is
// not given.
const DefaultFileName = "vend.cue"

// Config is the decoded engine configuration.
type Config struct {
	DataDir      string          `json:"data_dir"`
	StoreName    string          `json:"store_name"`
	AutoFinalize bool            `json:"auto_finalize"`
	Validator    ValidatorConfig `json:"validator"`
	Journal      JournalConfig   `json:"journal"`
	Retention    RetentionConfig `json:"retention"`
}

// ValidatorConfig configures the receipt validation client.
type ValidatorConfig struct {
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// JournalConfig configures the transition journal.
type JournalConfig struct {
	Enabled bool   `json:"enabled"`
	File    string `json:"file"`
}

// RetentionConfig configures the record purge policy.
type RetentionConfig struct {
	MaxAgeDays         int `json:"max_age_days"`
	InitiatedGraceDays int `json:"initiated_grace_days"`
}

// ValidationEnabled reports whether a validation endpoint is configured.
func (c Config) ValidationEnabled() bool {
	return c.Validator.URL != ""
}

// ValidatorTimeout returns the validation request timeout.
func (c Config) ValidatorTimeout() time.Duration {
	return time.Duration(c.Validator.TimeoutSeconds) * time.Second
}

// JournalPath returns the journal database path under the data directory.
func (c Config) JournalPath() string {
	return filepath.Join(c.DataDir, c.Journal.File)
}

// MaxAge returns the purge window for records in any status.
func (c Config) MaxAge() time.Duration {
	return time.Duration(c.Retention.MaxAgeDays) * 24 * time.Hour
}

// InitiatedGrace returns the purge window for unconfirmed records.
func (c Config) InitiatedGrace() time.Duration {
	return time.Duration(c.Retention.InitiatedGraceDays) * 24 * time.Hour
}

// Load reads and validates the config file at path. A missing file is
// not an error: the schema defaults apply.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := parse(string(data), path)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration the schema yields with no file.
func Default() Config {
	cfg, err := parse("", "")
	if err != nil {
		// The embedded schema is validated by the package tests; an
		// error here is a build defect, not a runtime condition.
		panic(fmt.Sprintf("config: embedded schema invalid: %v", err))
	}
	return cfg
}

func parse(src, filename string) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile config schema: %w", err)
	}

	val := schema
	if src != "" {
		user := ctx.CompileString(src, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", filename, err)
		}
		val = schema.Unify(user)
	}

	if err := val.Validate(cue.Concrete(true)); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	cfgVal := val.LookupPath(cue.ParsePath("config"))
	if !cfgVal.Exists() {
		return Config{}, fmt.Errorf("config schema has no config field")
	}

	var cfg Config
	if err := cfgVal.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

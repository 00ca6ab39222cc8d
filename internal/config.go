package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notidx/internal/extract"
	"github.com/starford/notidx/internal/index"
	"github.com/starford/notidx/internal/scheduler"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Storage StorageConfig     `yaml:"storage"`
	Indexer IndexerConfig     `yaml:"indexer"`
	Office  OfficeConfig      `yaml:"office"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Indexer.Validate(); err != nil {
		return err
	}
	if err := c.Office.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// StorageConfig locates attachment payloads and the converter scratch directory.
type StorageConfig struct {
	PayloadDir string `yaml:"payload_dir"`
	ScratchDir string `yaml:"scratch_dir"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PayloadDir, validation.Required),
		validation.Field(&c.ScratchDir, validation.Required),
	)
}

// IndexerConfig holds scheduler timing, budgets and flush sizing.
type IndexerConfig struct {
	Disabled           bool          `yaml:"disabled"`
	MinInterval        time.Duration `yaml:"min_interval"`
	MaxInterval        time.Duration `yaml:"max_interval"`
	NoteBatchLimit     int           `yaml:"note_batch_limit"`
	ResourceBatchLimit int           `yaml:"resource_batch_limit"`
	CommitEvery        int           `yaml:"commit_every"`
	WatchPayloads      bool          `yaml:"watch_payloads"`
	WatchDebounce      time.Duration `yaml:"watch_debounce"`
}

// Validate validates the indexer configuration.
func (c *IndexerConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.MinInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.MaxInterval, validation.Required),
		validation.Field(&c.NoteBatchLimit, validation.Min(0)),
		validation.Field(&c.ResourceBatchLimit, validation.Min(0)),
		validation.Field(&c.CommitEvery, validation.Required, validation.Min(1)),
		validation.Field(&c.WatchDebounce, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	if c.MaxInterval < c.MinInterval {
		return fmt.Errorf("indexer: max_interval %s is shorter than min_interval %s", c.MaxInterval, c.MinInterval)
	}
	return nil
}

// Scheduler converts the section to scheduler settings.
func (c *IndexerConfig) Scheduler() scheduler.Config {
	return scheduler.Config{
		Disabled:           c.Disabled,
		MinInterval:        c.MinInterval,
		MaxInterval:        c.MaxInterval,
		NoteBatchLimit:     c.NoteBatchLimit,
		ResourceBatchLimit: c.ResourceBatchLimit,
	}
}

// OfficeConfig configures the external document converter.
//
// Args may reference the {outdir} and {input} placeholders. The converter
// is off by default; a missing binary is detected on first use and cached
// until reset through the API.
type OfficeConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Command           string        `yaml:"command"`
	Args              []string      `yaml:"args"`
	NotFoundExitCodes []int         `yaml:"not_found_exit_codes"`
	Timeout           time.Duration `yaml:"timeout"`
}

// Validate validates the office configuration.
func (c *OfficeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Command, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.Args, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// Extract converts the section to extractor settings.
func (c *OfficeConfig) Extract() extract.OfficeConfig {
	return extract.OfficeConfig{
		Enabled:           c.Enabled,
		Command:           c.Command,
		Args:              c.Args,
		NotFoundExitCodes: c.NotFoundExitCodes,
		Timeout:           c.Timeout,
	}
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	sched := scheduler.DefaultConfig()
	office := extract.DefaultOfficeConfig()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./notidx.db",
		},
		Storage: StorageConfig{
			PayloadDir: "./data/payload",
			ScratchDir: "./data/tmp",
		},
		Indexer: IndexerConfig{
			MinInterval:        sched.MinInterval,
			MaxInterval:        sched.MaxInterval,
			NoteBatchLimit:     sched.NoteBatchLimit,
			ResourceBatchLimit: sched.ResourceBatchLimit,
			CommitEvery:        index.DefaultCommitEvery,
			WatchPayloads:      true,
			WatchDebounce:      index.DefaultWatchDebounce,
		},
		Office: OfficeConfig{
			Enabled:           office.Enabled,
			Command:           office.Command,
			Args:              office.Args,
			NotFoundExitCodes: office.NotFoundExitCodes,
			Timeout:           office.Timeout,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/cardwatch/cardwatch/pkg/types"
)

// Config defines the runtime configuration for the card watcher.
type Config struct {
	Addr           string
	AssetsDir      string
	WorkDir        string
	LatestViewPath string

	DisplayIndex int
	Region       types.Region

	ModelPath      string
	ClassNamesPath string
	ModelSHA256    string
	MinConfidence  float64

	CyclePeriod   time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
	StaleAfter    time.Duration
	SweepInterval time.Duration
	ErrorCooldown time.Duration

	TelegramToken  string
	TelegramChatID int64

	LogLevel string
	LogColor bool
}

// DefaultConfig returns a config aligned with the previous Flask service.
func DefaultConfig() Config {
	return Config{
		Addr:           ":5001",
		AssetsDir:      filepath.Clean("./frontend"),
		WorkDir:        filepath.Join(os.TempDir(), "cardwatch"),
		LatestViewPath: "cropped_screenshot.png",
		DisplayIndex:   -1,
		Region:         types.Region{Left: 880, Top: 100, Right: 1080, Bottom: 380},
		ModelPath:      "best.onnx",
		MinConfidence:  0.8,
		CyclePeriod:    2 * time.Second,
		RetryAttempts:  3,
		RetryBackoff:   500 * time.Millisecond,
		StaleAfter:     30 * time.Second,
		SweepInterval:  3 * time.Minute,
		ErrorCooldown:  5 * time.Second,
		LogLevel:       "info",
		LogColor:       true,
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if err := c.Region.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.MinConfidence <= 0 || c.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("confidence must be in (0,1], got %v", c.MinConfidence))
	}
	if c.CyclePeriod <= 0 {
		errs = append(errs, fmt.Errorf("cycle period must be positive, got %v", c.CyclePeriod))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry attempts must be >= 1, got %d", c.RetryAttempts))
	}
	if c.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("retry backoff must not be negative, got %v", c.RetryBackoff))
	}
	if c.StaleAfter <= 0 || c.SweepInterval <= 0 {
		errs = append(errs, errors.New("stale-after and sweep interval must be positive"))
	}
	if c.ModelPath == "" {
		errs = append(errs, errors.New("model path is required"))
	}
	if c.LatestViewPath == "" || c.WorkDir == "" {
		errs = append(errs, errors.New("latest view path and work dir are required"))
	}
	return errors.Join(errs...)
}

// ParseRegion parses "left,top,right,bottom".
func ParseRegion(s string) (types.Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return types.Region{}, fmt.Errorf("region %q: want left,top,right,bottom", s)
	}
	var vals [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return types.Region{}, fmt.Errorf("region %q: %w", s, err)
		}
		vals[i] = v
	}
	r := types.Region{Left: vals[0], Top: vals[1], Right: vals[2], Bottom: vals[3]}
	return r, r.Validate()
}

// regionValue adapts types.Region to flag.Value.
type regionValue struct{ r *types.Region }

func (v regionValue) String() string {
	if v.r == nil {
		return ""
	}
	return v.r.String()
}

func (v regionValue) Set(s string) error {
	r, err := ParseRegion(s)
	if err != nil {
		return err
	}
	*v.r = r
	return nil
}

// BindFlags registers command-line flags that override cfg in place.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Addr, "http", c.Addr, "HTTP server address")
	fs.StringVar(&c.AssetsDir, "assets", c.AssetsDir, "Frontend assets directory")
	fs.StringVar(&c.WorkDir, "workdir", c.WorkDir, "Directory for per-cycle capture artifacts")
	fs.StringVar(&c.LatestViewPath, "latest", c.LatestViewPath, "Path of the latest cropped view")
	fs.IntVar(&c.DisplayIndex, "display", c.DisplayIndex, "Display index (negative counts from the last display)")
	fs.Var(regionValue{&c.Region}, "region", "Capture rectangle left,top,right,bottom")
	fs.StringVar(&c.ModelPath, "model", c.ModelPath, "Detection model artifact (ONNX)")
	fs.StringVar(&c.ClassNamesPath, "names", c.ClassNamesPath, "Class names file (data.yaml or one name per line)")
	fs.StringVar(&c.ModelSHA256, "model-sha256", c.ModelSHA256, "Pinned SHA-256 of the model artifact")
	fs.Float64Var(&c.MinConfidence, "conf", c.MinConfidence, "Minimum detection confidence")
	fs.DurationVar(&c.CyclePeriod, "period", c.CyclePeriod, "Delay between detection cycles")
	fs.IntVar(&c.RetryAttempts, "retries", c.RetryAttempts, "Capture attempts per cycle")
	fs.DurationVar(&c.RetryBackoff, "backoff", c.RetryBackoff, "Delay between capture attempts")
	fs.DurationVar(&c.StaleAfter, "stale-after", c.StaleAfter, "Age after which leftover artifacts are swept")
	fs.DurationVar(&c.SweepInterval, "sweep-every", c.SweepInterval, "Minimum interval between stale-artifact sweeps")
	fs.DurationVar(&c.ErrorCooldown, "error-cooldown", c.ErrorCooldown, "Window for suppressing repeated errors")
	fs.StringVar(&c.TelegramToken, "telegram-token", c.TelegramToken, "Telegram bot token (optional)")
	fs.Int64Var(&c.TelegramChatID, "telegram-chat", c.TelegramChatID, "Telegram chat ID for notifications")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error, silent)")
	fs.BoolVar(&c.LogColor, "log-color", c.LogColor, "Enable colored log output")
}

// LoadEnv loads .env files (a missing file is ignored) and overlays the
// process environment onto cfg.
func LoadEnv(cfg *Config, files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}
	return FromEnv(cfg, os.LookupEnv)
}

// FromEnv overlays variables found by lookup onto cfg.
func FromEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	parse := func(key string, set func(string) error) {
		if v, ok := lookup(key); ok && v != "" {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}
	duration := func(key string, dst *time.Duration) {
		parse(key, func(v string) error {
			d, err := time.ParseDuration(v)
			*dst = d
			return err
		})
	}

	str("CARDWATCH_HTTP", &cfg.Addr)
	str("CARDWATCH_ASSETS", &cfg.AssetsDir)
	str("CARDWATCH_WORKDIR", &cfg.WorkDir)
	str("CARDWATCH_LATEST", &cfg.LatestViewPath)
	str("CARDWATCH_MODEL", &cfg.ModelPath)
	str("CARDWATCH_NAMES", &cfg.ClassNamesPath)
	str("CARDWATCH_MODEL_SHA256", &cfg.ModelSHA256)
	str("CARDWATCH_LOG_LEVEL", &cfg.LogLevel)
	str("TELEGRAM_TOKEN", &cfg.TelegramToken)

	parse("CARDWATCH_DISPLAY", func(v string) (err error) {
		cfg.DisplayIndex, err = strconv.Atoi(v)
		return err
	})
	parse("CARDWATCH_REGION", func(v string) (err error) {
		cfg.Region, err = ParseRegion(v)
		return err
	})
	parse("CARDWATCH_CONF", func(v string) (err error) {
		cfg.MinConfidence, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("CARDWATCH_RETRIES", func(v string) (err error) {
		cfg.RetryAttempts, err = strconv.Atoi(v)
		return err
	})
	parse("CARDWATCH_LOG_COLOR", func(v string) (err error) {
		cfg.LogColor, err = strconv.ParseBool(v)
		return err
	})
	parse("TELEGRAM_CHAT_ID", func(v string) (err error) {
		cfg.TelegramChatID, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	duration("CARDWATCH_PERIOD", &cfg.CyclePeriod)
	duration("CARDWATCH_BACKOFF", &cfg.RetryBackoff)
	duration("CARDWATCH_STALE_AFTER", &cfg.StaleAfter)
	duration("CARDWATCH_SWEEP_EVERY", &cfg.SweepInterval)
	duration("CARDWATCH_ERROR_COOLDOWN", &cfg.ErrorCooldown)

	return errors.Join(errs...)
}

package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/knolsched/internal/fsrs"
)

const (
	// EnvPrefix marks environment variables read as configuration.
	// A double underscore separates nested keys: KNOLSCHED_LOG__LEVEL.
	EnvPrefix = "KNOLSCHED_"
	// DefaultDB is the sqlite file used when none is configured.
	DefaultDB = "knolsched.db"
)

// Config is the full runtime configuration.
type Config struct {
	DB        string          `koanf:"db" validate:"required"`
	Log       LogConfig       `koanf:"log"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// SchedulerConfig mirrors fsrs.Params in a shape that files and env can express.
type SchedulerConfig struct {
	Weights          []float64       `koanf:"weights" validate:"len=19"`
	Decay            float64         `koanf:"decay"`
	DesiredRetention float64         `koanf:"desired_retention"`
	LearningSteps    []time.Duration `koanf:"learning_steps"`
	RelearningSteps  []time.Duration `koanf:"relearning_steps"`
	MaximumInterval  int             `koanf:"maximum_interval"`
	EnableFuzz       bool            `koanf:"enable_fuzz"`
	FuzzFactor       float64         `koanf:"fuzz_factor"`
}

// Params converts the section into validated engine parameters.
func (s SchedulerConfig) Params() (fsrs.Params, error) {
	if len(s.Weights) != fsrs.NumWeights {
		return fsrs.Params{}, fmt.Errorf("%w: expected %d weights, got %d", fsrs.ErrInvalidParams, fsrs.NumWeights, len(s.Weights))
	}
	p := fsrs.Params{
		Decay:            s.Decay,
		DesiredRetention: s.DesiredRetention,
		LearningSteps:    append([]time.Duration{}, s.LearningSteps...),
		RelearningSteps:  append([]time.Duration{}, s.RelearningSteps...),
		MaximumInterval:  s.MaximumInterval,
		EnableFuzz:       s.EnableFuzz,
		FuzzFactor:       s.FuzzFactor,
	}
	copy(p.Weights[:], s.Weights)
	if err := p.Validate(); err != nil {
		return fsrs.Params{}, err
	}
	return p, nil
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"db":                "db",
	"log-level":         "log.level",
	"log-format":        "log.format",
	"desired-retention": "scheduler.desired_retention",
	"maximum-interval":  "scheduler.maximum_interval",
	"enable-fuzz":       "scheduler.enable_fuzz",
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := fsrs.DefaultParams()
	fs.String("config", "", "Path to a YAML configuration file")
	fs.String("db", DefaultDB, "Path to the SQLite database file")
	fs.String("log-level", "info", "Log level: debug, info, warn or error")
	fs.String("log-format", "text", "Log format: text or json")
	fs.Float64("desired-retention", d.DesiredRetention, "Target probability of recall at the due date")
	fs.Int("maximum-interval", d.MaximumInterval, "Longest interval between reviews, in days")
	fs.Bool("enable-fuzz", d.EnableFuzz, "Spread review intervals by a small deterministic amount")
}

func setDefaults(k *koanf.Koanf) error {
	d := fsrs.DefaultParams()
	defaults := map[string]any{
		"db":                          DefaultDB,
		"log.level":                   "info",
		"log.format":                  "text",
		"scheduler.weights":           append([]float64{}, d.Weights[:]...),
		"scheduler.decay":             d.Decay,
		"scheduler.desired_retention": d.DesiredRetention,
		"scheduler.learning_steps":    d.LearningSteps,
		"scheduler.relearning_steps":  d.RelearningSteps,
		"scheduler.maximum_interval":  d.MaximumInterval,
		"scheduler.enable_fuzz":       d.EnableFuzz,
		"scheduler.fuzz_factor":       d.FuzzFactor,
	}
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}
	return nil
}

// Load builds the configuration from, in increasing precedence, built-in
// defaults, the YAML file named by the "config" flag, KNOLSCHED_ environment
// variables and flags set explicitly on fs. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	if err := setDefaults(k); err != nil {
		return nil, err
	}

	if fs != nil {
		if path, _ := fs.GetString("config"); path != "" {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("failed to read flags: %w", err)
		}
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.DecodeHookFuncType(splitListHook),
				mapstructure.StringToTimeDurationHookFunc(),
			),
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// envKey turns KNOLSCHED_SCHEDULER__DESIRED_RETENTION into scheduler.desired_retention.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// splitListHook lets a comma-separated string, as found in the environment,
// fill a slice of any element type.
func splitListHook(from, to reflect.Type, data any) (any, error) {
	raw, ok := data.(string)
	if !ok || from.Kind() != reflect.String || to.Kind() != reflect.Slice {
		return data, nil
	}
	if strings.TrimSpace(raw) == "" {
		return []string{}, nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s must satisfy %q, got %v", fe.Namespace(), fe.Tag()+paramSuffix(fe.Param()), fe.Value())
		}
		return err
	}
	if _, err := cfg.Scheduler.Params(); err != nil {
		return err
	}
	return nil
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}

// Package config loads the redisflow host settings from REDISFLOW_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	rf "github.com/unkn0wn-root/redisflow"
)

const envPrefix = "REDISFLOW_"

type Config struct {
	RedisAddr     string `env:"REDIS_ADDR" validate:"required,hostname_port"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" validate:"gte=0,lte=15"`

	// Stream consumer settings.
	PollTimeout   time.Duration `env:"POLL_TIMEOUT" validate:"gt=0"`
	AutoAck       bool          `env:"AUTO_ACK"`
	CancelOnError bool          `env:"CANCEL_ON_ERROR"`

	// CacheTTL 0 => entries never expire.
	CacheTTL     time.Duration `env:"CACHE_TTL" validate:"gte=0"`
	CacheBackend string        `env:"CACHE_BACKEND" validate:"oneof=redis ristretto bigcache"`

	CustomerPeriod time.Duration `env:"CUSTOMER_PERIOD" validate:"gt=0"`
	OrderPeriod    time.Duration `env:"ORDER_PERIOD" validate:"gt=0"`

	LogLevel    string `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat   string `env:"LOG_FORMAT" validate:"oneof=json console logrus"`
	MetricsAddr string `env:"METRICS_ADDR" validate:"omitempty,hostname_port"`
}

// Default mirrors the original demo: local Redis, 5s poll, auto-ack on,
// publishers every 10s, no cache expiry.
func Default() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		PollTimeout:    5 * time.Second,
		AutoAck:        true,
		CacheBackend:   "redis",
		CustomerPeriod: 10 * time.Second,
		OrderPeriod:    10 * time.Second,
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

// FromEnv loads the process environment.
func FromEnv() (Config, error) { return Load(os.LookupEnv) }

// Load starts from Default, applies every variable lookup finds, and validates
// the result. All failures are *redisflow.ConfigError.
func Load(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	v := reflect.ValueOf(&cfg).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name := envPrefix + sf.Tag.Get("env")
		raw, ok := lookup(name)
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		if strings.Contains(sf.Tag.Get("validate"), "oneof") {
			raw = strings.ToLower(raw)
		}
		if err := set(v.Field(i), raw); err != nil {
			return Config{}, &rf.ConfigError{Field: name, Reason: err.Error()}
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		name := fe.StructField()
		if sf, ok := reflect.TypeOf(c).FieldByName(name); ok {
			name = envPrefix + sf.Tag.Get("env")
		}
		return &rf.ConfigError{Field: name, Reason: fmt.Sprintf("failed %q (value %v)", fe.Tag(), fe.Value())}
	}
	return &rf.ConfigError{Field: "config", Reason: err.Error()}
}

var durationType = reflect.TypeOf(time.Duration(0))

func set(f reflect.Value, s string) error {
	if f.Type() == durationType {
		d, err := parseDuration(s)
		if err != nil {
			return err
		}
		f.SetInt(int64(d))
		return nil
	}
	switch f.Kind() {
	case reflect.String:
		f.SetString(s)
	case reflect.Int:
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("not an integer: %q", s)
		}
		f.SetInt(int64(n))
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("not a bool: %q", s)
		}
		f.SetBool(b)
	default:
		return fmt.Errorf("unsupported kind %s", f.Kind())
	}
	return nil
}

// parseDuration accepts Go durations ("5s") and bare integers as milliseconds.
func parseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("not a duration: %q", s)
	}
	return d, nil
}

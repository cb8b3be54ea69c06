package config

import (
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix         = "GOTEAMCHAT_"
	defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	RedisAddr      string
	SigningKey     []byte
	AllowedOrigins []string
	AuthTimeout    time.Duration
	RateLimit      float64
	RateBurst      int
	LogLevel       string
	LogFile        string
}

// Settings are the raw values read from the YAML file, the environment and
// the command line, in that order of precedence (lowest first).
type Settings struct {
	Addr           string        `yaml:"addr"`
	DSN            string        `yaml:"dsn"`
	RedisAddr      string        `yaml:"redis_addr"`
	SigningKey     string        `yaml:"signing_key"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	AuthTimeout    time.Duration `yaml:"auth_timeout"`
	RateLimit      float64       `yaml:"rate_limit"`
	RateBurst      int           `yaml:"rate_burst"`
	LogLevel       string        `yaml:"log_level"`
	LogFile        string        `yaml:"log_file"`
}

func Defaults() Settings {
	return Settings{
		Addr:        "localhost:8000",
		DSN:         "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable",
		SigningKey:  defaultSigningKey,
		AuthTimeout: 30 * time.Second,
		RateLimit:   20,
		RateBurst:   40,
		LogLevel:    "info",
	}
}

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, splitList(value)...)
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Load builds the configuration from command line args. A YAML file named by
// -config and a .env file are read first; GOTEAMCHAT_* variables override
// the file and explicitly set flags override both.
func Load(args []string) (*Config, error) {
	var (
		flags      Settings
		origins    stringSliceFlag
		configPath string
		envFile    string
	)

	fset := flag.NewFlagSet("go-teamchat", flag.ContinueOnError)
	fset.StringVar(&configPath, "config", "", "path to a YAML config file")
	fset.StringVar(&envFile, "env-file", ".env", "path to a dotenv file")
	fset.StringVar(&flags.Addr, "addr", "", "server address")
	fset.StringVar(&flags.DSN, "dsn", "", "database connection string")
	fset.StringVar(&flags.RedisAddr, "redis-addr", "", "redis address for the presence store, empty to disable")
	fset.StringVar(&flags.SigningKey, "signing-key", "", "base64 encoded signing key")
	fset.Var(&origins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	fset.DurationVar(&flags.AuthTimeout, "auth-timeout", 0, "time a connection may stay unauthenticated")
	fset.Float64Var(&flags.RateLimit, "rate-limit", 0, "inbound events per second per connection")
	fset.IntVar(&flags.RateBurst, "rate-burst", 0, "inbound event burst per connection")
	fset.StringVar(&flags.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	fset.StringVar(&flags.LogFile, "log-file", "", "also write JSON logs to this file, rotated")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	settings := Defaults()
	if configPath != "" {
		if err := readFile(configPath, &settings); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	if err := applyEnv(&settings, os.LookupEnv); err != nil {
		return nil, err
	}

	fset.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			settings.Addr = flags.Addr
		case "dsn":
			settings.DSN = flags.DSN
		case "redis-addr":
			settings.RedisAddr = flags.RedisAddr
		case "signing-key":
			settings.SigningKey = flags.SigningKey
		case "allowed-origins":
			settings.AllowedOrigins = origins
		case "auth-timeout":
			settings.AuthTimeout = flags.AuthTimeout
		case "rate-limit":
			settings.RateLimit = flags.RateLimit
		case "rate-burst":
			settings.RateBurst = flags.RateBurst
		case "log-level":
			settings.LogLevel = flags.LogLevel
		case "log-file":
			settings.LogFile = flags.LogFile
		}
	})

	return NewConfig(settings)
}

func readFile(path string, s *Settings) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, s); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(s *Settings, lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		return lookup(envPrefix + name)
	}

	if v, ok := get("ADDR"); ok {
		s.Addr = v
	}
	if v, ok := get("DSN"); ok {
		s.DSN = v
	}
	if v, ok := get("REDIS_ADDR"); ok {
		s.RedisAddr = v
	}
	if v, ok := get("SIGNING_KEY"); ok {
		s.SigningKey = v
	}
	if v, ok := get("ALLOWED_ORIGINS"); ok {
		s.AllowedOrigins = splitList(v)
	}
	if v, ok := get("AUTH_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sAUTH_TIMEOUT: %w", envPrefix, err)
		}
		s.AuthTimeout = d
	}
	if v, ok := get("RATE_LIMIT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sRATE_LIMIT: %w", envPrefix, err)
		}
		s.RateLimit = f
	}
	if v, ok := get("RATE_BURST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sRATE_BURST: %w", envPrefix, err)
		}
		s.RateBurst = n
	}
	if v, ok := get("LOG_LEVEL"); ok {
		s.LogLevel = v
	}
	if v, ok := get("LOG_FILE"); ok {
		s.LogFile = v
	}

	return nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, errors.New("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(s Settings) (*Config, error) {
	if s.Addr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if s.DSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if s.SigningKey == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if s.AuthTimeout <= 0 {
		return nil, fmt.Errorf("auth timeout must be positive")
	}
	if s.RateLimit <= 0 || s.RateBurst < 1 {
		return nil, fmt.Errorf("rate limit and burst must be positive")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(s.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     s.Addr,
		DatabaseDSN:    s.DSN,
		RedisAddr:      s.RedisAddr,
		SigningKey:     signingKey,
		AllowedOrigins: s.AllowedOrigins,
		AuthTimeout:    s.AuthTimeout,
		RateLimit:      s.RateLimit,
		RateBurst:      s.RateBurst,
		LogLevel:       s.LogLevel,
		LogFile:        s.LogFile,
	}, nil
}

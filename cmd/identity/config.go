package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/identity/internal/logger"
)

const (
	defaultListenAddr         = "localhost:8000"
	defaultLoggingLevel       = logger.LevelInfo
	defaultEnvironment        = logger.EnvProduction
	defaultAccessTokenTTL     = time.Hour
	defaultRefreshTokenTTL    = 24 * time.Hour
	defaultRefreshMaxLifetime = 7 * 24 * time.Hour
	defaultEventRetryAttempts = 3
	defaultEventRetryDelay    = time.Second
	defaultLoginRateLimit     = 5
	defaultLoginRateBurst     = 10
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the identity service will be run
	ListenAddr string

	// Database to connect to
	// In-memory storage is used if empty
	DatabaseDSN string

	// Secret key to sign JWT tokens
	SecretKey string

	// Environment: production logs JSON, anything else logs text
	Environment string

	AccessTokenTTL          time.Duration
	RefreshTokenTTL         time.Duration
	RefreshTokenMaxLifetime time.Duration

	// Attempts budget of every event listener
	EventRetryAttempts int
	EventRetryDelay    time.Duration

	// Requests per second and burst allowed for POST /account/validate per client IP
	// Zero rate disables the limit
	LoginRateLimit float64
	LoginRateBurst int
}

func NewConfig() *Config {
	return &Config{
		LogLevel:                defaultLoggingLevel,
		ListenAddr:              defaultListenAddr,
		Environment:             defaultEnvironment,
		AccessTokenTTL:          defaultAccessTokenTTL,
		RefreshTokenTTL:         defaultRefreshTokenTTL,
		RefreshTokenMaxLifetime: defaultRefreshMaxLifetime,
		EventRetryAttempts:      defaultEventRetryAttempts,
		EventRetryDelay:         defaultEventRetryDelay,
		LoginRateLimit:          defaultLoginRateLimit,
		LoginRateBurst:          defaultLoginRateBurst,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			i, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = i
			return nil
		}
	}
	setFloat := func(o *float64) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return err
			}
			*o = f
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":                setString(&c.ListenAddr),
		"DATABASE_URI":               setString(&c.DatabaseDSN),
		"SECRET_KEY":                 setString(&c.SecretKey),
		"LOG_LEVEL":                  setString(&c.LogLevel),
		"ENVIRONMENT":                setString(&c.Environment),
		"ACCESS_TOKEN_TTL":           setDuration(&c.AccessTokenTTL),
		"REFRESH_TOKEN_TTL":          setDuration(&c.RefreshTokenTTL),
		"REFRESH_TOKEN_MAX_LIFETIME": setDuration(&c.RefreshTokenMaxLifetime),
		"EVENT_RETRY_ATTEMPTS":       setInt(&c.EventRetryAttempts),
		"EVENT_RETRY_DELAY":          setDuration(&c.EventRetryDelay),
		"LOGIN_RATE_LIMIT":           setFloat(&c.LoginRateLimit),
		"LOGIN_RATE_BURST":           setInt(&c.LoginRateBurst),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("identity", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string, in-memory storage if empty")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (development, production)")
	fs.DurationVar(&c.AccessTokenTTL, "access-ttl", c.AccessTokenTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTokenTTL, "refresh-ttl", c.RefreshTokenTTL, "Refresh token rolling lifetime")
	fs.DurationVar(&c.RefreshTokenMaxLifetime, "refresh-max-lifetime", c.RefreshTokenMaxLifetime, "Refresh token absolute lifetime")
	fs.IntVar(&c.EventRetryAttempts, "event-retry-attempts", c.EventRetryAttempts, "Attempts per event listener")
	fs.DurationVar(&c.EventRetryDelay, "event-retry-delay", c.EventRetryDelay, "Delay between listener attempts")
	fs.Float64Var(&c.LoginRateLimit, "login-rate-limit", c.LoginRateLimit, "Login requests per second per IP, 0 disables")
	fs.IntVar(&c.LoginRateBurst, "login-rate-burst", c.LoginRateBurst, "Login burst per IP")

	return fs.Parse(args)
}

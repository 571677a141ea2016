package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var (
	ErrMissingSecretKey      = errors.New("SECRET_KEY is required")
	ErrMissingEncryptionKey  = errors.New("ENCRYPTION_KEY and ENCRYPTION_SALT are required")
	ErrUnsupportedAlgorithm  = errors.New("ALGORITHM must be one of HS256, HS384, HS512")
	ErrInvalidTokenLifetimes = errors.New("token lifetimes must be positive")
)

// Config holds the application settings read from the environment.
type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR"    envDefault:":8432"`
	BasePrefix  string `env:"BASE_PREFIX"  envDefault:"/pitchfork-api-account"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"false"`

	SecretKey                string `env:"SECRET_KEY"`
	Algorithm                string `env:"ALGORITHM"                   envDefault:"HS256"`
	AccessTokenExpireMinutes int    `env:"ACCESS_TOKEN_EXPIRE_MINUTES" envDefault:"15"`
	RefreshTokenExpireDays   int    `env:"REFRESH_TOKEN_EXPIRE_DAYS"   envDefault:"7"`
	ResetTokenExpireHours    int    `env:"PASSWORD_RESET_EXPIRE_HOURS" envDefault:"1"`

	EncryptionKey  string `env:"ENCRYPTION_KEY"`
	EncryptionSalt string `env:"ENCRYPTION_SALT"`
	BcryptCost     int    `env:"BCRYPT_COST" envDefault:"12"`

	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"300s"`

	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`

	SMTP SMTPConfig `envPrefix:"SMTP_"`

	PostalLookupURL string        `env:"POSTAL_LOOKUP_URL" envDefault:"https://viacep.com.br/ws"`
	PostalTimeout   time.Duration `env:"POSTAL_TIMEOUT"    envDefault:"5s"`

	LoginRateLimit  int           `env:"LOGIN_RATE_LIMIT"           envDefault:"5"`
	LoginRateWindow time.Duration `env:"LOGIN_RATE_WINDOW"          envDefault:"1m"`
	ResetRateLimit  int           `env:"PASSWORD_RESET_RATE_LIMIT"  envDefault:"3"`
	ResetRateWindow time.Duration `env:"PASSWORD_RESET_RATE_WINDOW" envDefault:"1h"`

	// TrustedProxies lists the CIDRs or addresses whose X-Forwarded-For is believed.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

type SMTPConfig struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT"      envDefault:"587"`
	User     string `env:"USER"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM"      envDefault:"no-reply@pitchfork.local"`
	FromName string `env:"FROM_NAME" envDefault:"Pitchfork"`
	UseTLS   bool   `env:"TLS"`
	StartTLS bool   `env:"STARTTLS"  envDefault:"true"`
}

// Enabled reports whether an SMTP relay is configured.
func (c SMTPConfig) Enabled() bool { return c.Host != "" }

// FromEnv parses and validates the configuration. Missing key material is an error
// so the process can refuse to start.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Algorithm = strings.ToUpper(strings.TrimSpace(cfg.Algorithm))
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	if p := strings.Trim(cfg.BasePrefix, "/"); p != "" {
		cfg.BasePrefix = "/" + p
	} else {
		cfg.BasePrefix = ""
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.SecretKey == "" {
		errs = append(errs, ErrMissingSecretKey)
	}
	if c.EncryptionKey == "" || c.EncryptionSalt == "" {
		errs = append(errs, ErrMissingEncryptionKey)
	}
	switch c.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		errs = append(errs, ErrUnsupportedAlgorithm)
	}
	if c.AccessTokenExpireMinutes <= 0 || c.RefreshTokenExpireDays <= 0 || c.ResetTokenExpireHours <= 0 {
		errs = append(errs, ErrInvalidTokenLifetimes)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST out of range: %d", c.BcryptCost))
	}
	return errors.Join(errs...)
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

func (c Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenExpireDays) * 24 * time.Hour
}

func (c Config) ResetTokenTTL() time.Duration {
	return time.Duration(c.ResetTokenExpireHours) * time.Hour
}

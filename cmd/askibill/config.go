package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/askibill/askibill/internal/handlers/middleware"
	"github.com/askibill/askibill/internal/logger"
	"github.com/askibill/askibill/internal/mailer"
)

const (
	defaultListenAddr       = "localhost:8000"
	defaultLoggingLevel     = logger.LevelInfo
	defaultEnvironment      = logger.EnvProduction
	defaultAlgorithm        = "HS256"
	defaultAccessTTL        = 30 * time.Minute
	defaultRefreshTTL       = 7 * 24 * time.Hour
	defaultResetTTL         = 15 * time.Minute
	defaultResetURL         = "http://localhost:3000/reset-password"
	defaultAuthRateLimitRPM = 10
	defaultMailProvider     = mailer.ProviderLog
	defaultSMTPPort         = 587
	defaultMailTimeout      = 10 * time.Second
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secret key to sign JWT tokens with
	SecretKey string

	// HMAC algorithm for JWT tokens
	Algorithm string

	// Environment: development, production or test
	Environment string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration

	// Frontend page the reset token is appended to
	ResetURL string

	// Allowed CORS origins, any if empty
	CORSOrigins []string

	// Requests per minute per client IP on credential endpoints
	AuthRateLimitRPM int

	// Proxy addresses or CIDR ranges allowed to report client IP
	TrustedProxies []string

	Mail mailer.Config

	// Deadline for single email delivery attempt
	MailTimeout time.Duration
}

func NewConfig() *Config {
	return &Config{
		LogLevel:         defaultLoggingLevel,
		ListenAddr:       defaultListenAddr,
		Environment:      defaultEnvironment,
		Algorithm:        defaultAlgorithm,
		AccessTTL:        defaultAccessTTL,
		RefreshTTL:       defaultRefreshTTL,
		ResetTTL:         defaultResetTTL,
		ResetURL:         defaultResetURL,
		AuthRateLimitRPM: defaultAuthRateLimitRPM,
		MailTimeout:      defaultMailTimeout,
		Mail: mailer.Config{
			Provider: defaultMailProvider,
			SMTP:     mailer.SMTPConfig{Port: defaultSMTPPort},
		},
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

	setList := func(o *[]string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = splitList(value)
			}
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":         setString(&c.ListenAddr),
		"DATABASE_URI":        setString(&c.DatabaseDSN),
		"SECRET_KEY":          setString(&c.SecretKey),
		"ALGORITHM":           setString(&c.Algorithm),
		"LOG_LEVEL":           setString(&c.LogLevel),
		"ENVIRONMENT":         setString(&c.Environment),
		"ACCESS_TOKEN_TTL":    setDuration(&c.AccessTTL),
		"REFRESH_TOKEN_TTL":   setDuration(&c.RefreshTTL),
		"RESET_TOKEN_TTL":     setDuration(&c.ResetTTL),
		"RESET_URL":           setString(&c.ResetURL),
		"CORS_ORIGINS":        setList(&c.CORSOrigins),
		"AUTH_RATE_LIMIT_RPM": setInt(&c.AuthRateLimitRPM),
		"TRUSTED_PROXIES":     setList(&c.TrustedProxies),
		"MAIL_TIMEOUT":        setDuration(&c.MailTimeout),
		"MAIL_PROVIDER":       setString(&c.Mail.Provider),
		"MAIL_FROM":           setString(&c.Mail.From),
		"SMTP_HOST":           setString(&c.Mail.SMTP.Host),
		"SMTP_PORT":           setInt(&c.Mail.SMTP.Port),
		"SMTP_USERNAME":       setString(&c.Mail.SMTP.Username),
		"SMTP_PASSWORD":       setString(&c.Mail.SMTP.Password),
		"MAILGUN_DOMAIN":      setString(&c.Mail.Mailgun.Domain),
		"MAILGUN_API_KEY":     setString(&c.Mail.Mailgun.APIKey),
		"MAILGUN_API_BASE":    setString(&c.Mail.Mailgun.APIBase),
		"SENDGRID_API_KEY":    setString(&c.Mail.SendGrid.APIKey),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s. Err: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("askibill", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVar(&c.Algorithm, "algorithm", c.Algorithm, "JWT signing algorithm (HS256, HS384, HS512)")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (development, production, test)")
	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "Refresh token and session lifetime")
	fs.DurationVar(&c.ResetTTL, "reset-ttl", c.ResetTTL, "Password reset token lifetime")
	fs.StringVar(&c.ResetURL, "reset-url", c.ResetURL, "Frontend password reset page")
	fs.StringSliceVar(&c.CORSOrigins, "cors-origins", c.CORSOrigins, "Allowed CORS origins, comma separated")
	fs.IntVar(&c.AuthRateLimitRPM, "auth-rate-limit", c.AuthRateLimitRPM, "Requests per minute per IP on credential endpoints")
	fs.StringSliceVar(&c.TrustedProxies, "trusted-proxies", c.TrustedProxies, "Proxy addresses or CIDR ranges trusted to set X-Forwarded-For")
	fs.DurationVar(&c.MailTimeout, "mail-timeout", c.MailTimeout, "Deadline for single email delivery attempt")
	fs.StringVarP(&c.Mail.Provider, "mail-provider", "m", c.Mail.Provider, "Mail provider (smtp, mailgun, sendgrid, log)")
	fs.StringVar(&c.Mail.From, "mail-from", c.Mail.From, "Sender address of emails")

	return fs.Parse(args)
}

func (c *Config) Validate() error {
	provider := strings.ToLower(c.Mail.Provider)
	production := strings.EqualFold(c.Environment, logger.EnvProduction)

	switch {
	case c.SecretKey == "":
		return errors.New("secret key must be set")
	case c.DatabaseDSN == "":
		return errors.New("database must be set")
	case c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.ResetTTL <= 0:
		return errors.New("token lifetimes must be positive")
	case c.AuthRateLimitRPM <= 0:
		return errors.New("auth rate limit must be positive")
	case c.MailTimeout <= 0:
		return errors.New("mail timeout must be positive")
	case production && (provider == "" || provider == mailer.ProviderLog):
		return errors.New("mail provider must deliver email in production, log provider is for development only")
	}

	if _, err := middleware.ParseTrustedProxies(c.TrustedProxies); err != nil {
		return err
	}

	return nil
}

func splitList(value string) []string {
	var items []string
	for item := range strings.SplitSeq(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	validRateLimitBackends = []string{"memory", "postgres", "redis"}
	validTransports        = []string{"log", "sendgrid"}
	validLogLevels         = []string{"debug", "info", "warn", "error"}
	validLogFormats        = []string{"json", "text"}
)

// Validate checks cross-field constraints that tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains(validRateLimitBackends, c.RateLimit.Backend) {
		errs = append(errs, fmt.Errorf("rate_limit.backend must be one of %v", validRateLimitBackends))
	}
	if c.RateLimit.Backend == "postgres" && c.Database.DSN == "" {
		errs = append(errs, errors.New("rate_limit.backend postgres requires database.dsn"))
	}
	if c.RateLimit.Backend == "redis" && c.Redis.URL == "" {
		errs = append(errs, errors.New("rate_limit.backend redis requires redis.url"))
	}
	if c.RateLimit.ValidateToken.MaxAttempts < c.RateLimit.CreateAccount.MaxAttempts {
		errs = append(errs, errors.New("rate_limit.validate_token.max_attempts must not be lower than create_account"))
	}

	if !slices.Contains(validTransports, c.Notification.Transport) {
		errs = append(errs, fmt.Errorf("notification.transport must be one of %v", validTransports))
	}
	if c.Notification.Transport == "sendgrid" && c.Notification.SendGrid.APIKey == "" {
		errs = append(errs, errors.New("notification.sendgrid.api_key is required for the sendgrid transport"))
	}
	if c.Notification.MaxAttempts < 1 {
		errs = append(errs, errors.New("notification.max_attempts must be at least 1"))
	}
	if c.Notification.Timeout <= 0 || c.Notification.AttemptTimeout <= 0 {
		errs = append(errs, errors.New("notification timeouts must be positive"))
	}

	if c.Sweep.BatchSize < 1 || c.Sweep.Concurrency < 1 {
		errs = append(errs, errors.New("sweep.batch_size and sweep.concurrency must be at least 1"))
	}
	if c.Sweep.Timeout <= 0 {
		errs = append(errs, errors.New("sweep.timeout must be positive"))
	}

	if c.Invitation.TTL <= 0 {
		errs = append(errs, errors.New("invitation.ttl must be positive"))
	}
	if c.Account.MinPasswordLength < 8 {
		errs = append(errs, errors.New("account.min_password_length must be at least 8"))
	}
	if len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 32 bytes"))
	}

	if !slices.Contains(validLogLevels, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fmt.Errorf("log.level must be one of %v", validLogLevels))
	}
	if !slices.Contains(validLogFormats, strings.ToLower(c.Log.Format)) {
		errs = append(errs, fmt.Errorf("log.format must be one of %v", validLogFormats))
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio must be between 0 and 1"))
	}

	return errors.Join(errs...)
}

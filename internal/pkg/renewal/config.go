package renewal

import (
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/DuesFox/internal/pkg/env"
)

const (
	defaultInterval       = 24 * time.Hour
	defaultGatewayTimeout = 30 * time.Second
	defaultWorkers        = 4
	defaultLockTTL        = 2 * time.Hour
	defaultCurrency       = "RUB"
	defaultTimezone       = "Europe/Moscow"
	defaultLockName       = "renewal:tick"
)

type Config struct {
	// Location decides which calendar date "today" is.
	Location       *time.Location
	GatewayTimeout time.Duration
	Workers        int
	Currency       string
	LockName       string
	LockTTL        time.Duration

	// Manager only.
	Interval   time.Duration
	RunOnStart bool
	// RunAt is an optional "HH:MM" wall time in Location for the first tick.
	RunAt string
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = defaultGatewayTimeout
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if strings.TrimSpace(c.Currency) == "" {
		c.Currency = defaultCurrency
	}
	if c.LockName == "" {
		c.LockName = defaultLockName
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaultLockTTL
	}
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	return c
}

// ConfigFromEnv reads the RENEWAL_* settings and PAYMENT_CURRENCY.
func ConfigFromEnv() (Config, error) {
	tz := env.GetEnv("RENEWAL_TIMEZONE", defaultTimezone)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Config{}, fmt.Errorf("RENEWAL_TIMEZONE %q: %w", tz, err)
	}

	cfg := Config{
		Location:       loc,
		GatewayTimeout: env.GetDuration("RENEWAL_GATEWAY_TIMEOUT", defaultGatewayTimeout),
		Workers:        env.GetInt("RENEWAL_WORKERS", defaultWorkers),
		Currency:       strings.ToUpper(env.GetEnv("PAYMENT_CURRENCY", defaultCurrency)),
		LockTTL:        env.GetDuration("RENEWAL_LOCK_TTL", defaultLockTTL),
		Interval:       env.GetDuration("RENEWAL_TICK_INTERVAL", defaultInterval),
		RunOnStart:     env.GetBool("RENEWAL_RUN_ON_START", false),
		RunAt:          strings.TrimSpace(env.GetEnv("RENEWAL_RUN_AT", "")),
	}
	if cfg.RunAt != "" {
		if _, _, err := parseRunAt(cfg.RunAt); err != nil {
			return Config{}, err
		}
	}
	return cfg.withDefaults(), nil
}

func parseRunAt(raw string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, 0, fmt.Errorf("RENEWAL_RUN_AT %q: want HH:MM", raw)
	}
	return t.Hour(), t.Minute(), nil
}

// nextRunAt returns the next instant at hour:minute in loc strictly after now.
func nextRunAt(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

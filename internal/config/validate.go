package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks required fields and bounded ranges. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if err := ValidateBaseURL(c.OTRS.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("otrs.base_url: %w", err))
	}
	if strings.TrimSpace(c.OTRS.Username) == "" {
		errs = append(errs, errors.New("otrs.username is required"))
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if c.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("telegram.chat_id is required"))
	}
	if c.Telegram.TopicID < 0 {
		errs = append(errs, fmt.Errorf("telegram.topic_id %d must not be negative", c.Telegram.TopicID))
	}
	if err := ValidateSearchLimit(c.OTRS.SearchLimit); err != nil {
		errs = append(errs, err)
	}
	if _, err := time.LoadLocation(c.OTRS.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("otrs.timezone: %w", err))
	}
	if err := ValidateInterval(c.Sync.Interval.Duration); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateFloodCap(c.Sync.FloodCap); err != nil {
		errs = append(errs, err)
	}
	if c.Sync.PaceDelay.Duration < 0 || c.Sync.PaceDelay.Duration > 30*time.Second {
		errs = append(errs, fmt.Errorf("sync.pace_delay %v out of range (0s to 30s)", c.Sync.PaceDelay.Duration))
	}
	if c.Daemon.StopTimeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("daemon.stop_timeout %v must be positive", c.Daemon.StopTimeout.Duration))
	}
	if c.Daemon.TickTimeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("daemon.tick_timeout %v must be positive", c.Daemon.TickTimeout.Duration))
	}

	return errors.Join(errs...)
}

// ValidateInterval validates that a poll interval is within allowed range.
// Interval must be between 5 seconds and 1 hour.
func ValidateInterval(interval time.Duration) error {
	const (
		minInterval = 5 * time.Second
		maxInterval = time.Hour
	)

	if interval < minInterval {
		return fmt.Errorf("sync interval %v is too short (minimum: %v)", interval, minInterval)
	}
	if interval > maxInterval {
		return fmt.Errorf("sync interval %v is too long (maximum: %v)", interval, maxInterval)
	}
	return nil
}

// ValidateFloodCap validates the per-tick send limit.
func ValidateFloodCap(floodCap int) error {
	const maxFloodCap = 30 // Bot API allows ~30 messages/s per bot

	if floodCap < 1 {
		return fmt.Errorf("flood cap %d is too small (minimum: 1)", floodCap)
	}
	if floodCap > maxFloodCap {
		return fmt.Errorf("flood cap %d is too large (maximum: %d)", floodCap, maxFloodCap)
	}
	return nil
}

// ValidateSearchLimit validates the TicketSearch result limit.
func ValidateSearchLimit(limit int) error {
	if limit < 1 || limit > 1000 {
		return fmt.Errorf("otrs.search_limit %d out of range (1 to 1000)", limit)
	}
	return nil
}

// ValidateBaseURL requires an absolute http(s) URL.
func ValidateBaseURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid scheme %q (must be http or https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

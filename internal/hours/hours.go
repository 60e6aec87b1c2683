// Package hours implements the business-hours oracle that decides whether a
// callback request routes to an outbound call or an SMS notification.
package hours

import (
	"fmt"
	"time"

	"callback_backend/platform/config"
	"callback_backend/platform/logger"
)

// Oracle answers whether the business is currently open. It is a pure
// function of the supplied time and the configured window; the configured
// timezone governs both the clock and the weekend check.
type Oracle struct {
	start        string
	end          string
	timezone     string
	weekdaysOnly bool
	log          *logger.Logger
}

// New creates an oracle from configuration.
func New(cfg config.HoursConfig, log *logger.Logger) *Oracle {
	return &Oracle{
		start:        cfg.GetBusinessHoursStart(),
		end:          cfg.GetBusinessHoursEnd(),
		timezone:     cfg.GetBusinessTimezone(),
		weekdaysOnly: cfg.GetBusinessWeekdaysOnly(),
		log:          log,
	}
}

// IsOpen reports whether now falls inside the configured business window,
// with a human-readable reason. Configuration errors fail open: an unwanted
// call is preferred over a silently dropped lead.
func (o *Oracle) IsOpen(now time.Time) (bool, string) {
	loc, err := time.LoadLocation(o.timezone)
	if err != nil {
		if o.log != nil {
			o.log.Warn("invalid business timezone, treating as open", "timezone", o.timezone, "error", err)
		}
		return true, "Business hours check unavailable"
	}

	startMin, err := parseClock(o.start)
	if err != nil {
		if o.log != nil {
			o.log.Warn("invalid business hours start, treating as open", "start", o.start, "error", err)
		}
		return true, "Business hours check unavailable"
	}
	endMin, err := parseClock(o.end)
	if err != nil {
		if o.log != nil {
			o.log.Warn("invalid business hours end, treating as open", "end", o.end, "error", err)
		}
		return true, "Business hours check unavailable"
	}

	// Overnight windows (end before start) are unsupported: treat as always
	// closed rather than guessing a wraparound interpretation.
	if endMin < startMin {
		return false, "Outside business hours (overnight window not supported)"
	}

	local := now.In(loc)

	if o.weekdaysOnly {
		switch local.Weekday() {
		case time.Saturday, time.Sunday:
			return false, "Outside business hours (weekend)"
		}
	}

	nowMin := local.Hour()*60 + local.Minute()
	if nowMin < startMin || nowMin > endMin {
		return false, fmt.Sprintf("Outside business hours (%s-%s %s)", o.start, o.end, o.timezone)
	}

	return true, "Within business hours"
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

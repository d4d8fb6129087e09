// Package pipeline runs the scheduled background jobs of the pool service.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// Archiver moves pool events older than the retention window to cold
// storage.
type Archiver struct {
	blobArchiver domain.Archiver
	retention    time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewArchiver creates a new Archiver keeping retentionDays of events hot.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver: blobArchiver,
		retention:    time.Duration(retentionDays) * 24 * time.Hour,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive run and returns the number of events moved.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	cutoff := a.now().Add(-a.retention)
	a.logger.InfoContext(ctx, "starting archive run", slog.Time("cutoff", cutoff))

	n, err := a.blobArchiver.ArchiveEvents(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archiving events before %v: %w", cutoff, err)
	}
	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("events_archived", n))
	return n, nil
}

// RunCron runs the archiver on a 5-field cron schedule ("minute hour
// day-of-month month day-of-week") until ctx is cancelled. Fields accept
// "*", single values, comma lists, ranges "a-b" and steps "*/n" or "a-b/n".
// A receive on trigger runs the archiver immediately; trigger may be nil.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string, trigger <-chan struct{}) error {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := cron.next(a.now())
		if err != nil {
			return fmt.Errorf("cron %q: %w", cronExpr, err)
		}
		wait := time.Until(next)
		a.logger.DebugContext(ctx, "archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-trigger:
			timer.Stop()
			a.runLogged(ctx)
		case <-timer.C:
			a.runLogged(ctx)
		}
	}
}

func (a *Archiver) runLogged(ctx context.Context) {
	if _, err := a.Run(ctx); err != nil {
		a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
	}
}

// cronField matches one time component; nil values means any.
type cronField struct {
	values []int
}

func (f cronField) matches(val int) bool {
	return f.values == nil || slices.Contains(f.values, val)
}

// parseCronField parses one field whose values lie in [lo, hi].
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{}, nil
	}
	var values []int
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		step := 1
		if base, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("invalid step %q", s)
			}
			part, step = base, n
		}
		from, to := lo, hi
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			a, b, _ := strings.Cut(part, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return cronField{}, fmt.Errorf("invalid range start %q: %w", a, err)
			}
			if to, err = strconv.Atoi(b); err != nil {
				return cronField{}, fmt.Errorf("invalid range end %q: %w", b, err)
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid cron field value %q: %w", part, err)
			}
			from, to = v, v
			if step != 1 {
				to = hi
			}
		}
		if from < lo || to > hi || from > to {
			return cronField{}, fmt.Errorf("value %q outside %d-%d", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			values = append(values, v)
		}
	}
	slices.Sort(values)
	return cronField{values: slices.Compact(values)}, nil
}

type parsedCron struct {
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

func (c parsedCron) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	var parsed [5]cronField
	for i, f := range fields {
		cf, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return parsedCron{}, fmt.Errorf("parsing %s field: %w", names[i], err)
		}
		parsed[i] = cf
	}
	return parsedCron{
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  parsed[4],
	}, nil
}

// next returns the first minute strictly after after that matches, looking
// at most one year ahead.
func (c parsedCron) next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if c.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching time within one year")
}

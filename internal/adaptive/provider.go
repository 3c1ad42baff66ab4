package adaptive

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/attaboy/adaptiveauth/internal/domain"
	"github.com/attaboy/adaptiveauth/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// ContextProvider gathers context values for an attempt. Collect is called
// once per attempt and may do I/O. A provider that gathered some values but
// hit an error returns both; one that could gather nothing returns
// ErrContextUnavailable (or any error with no values).
type ContextProvider interface {
	Name() string
	Collect(ctx context.Context, attempt *domain.LoginAttempt) ([]ContextValue, error)
}

// ProviderStatus classifies how a provider fared for one attempt.
type ProviderStatus string

const (
	ProviderOK          ProviderStatus = "ok"
	ProviderPartial     ProviderStatus = "partial"
	ProviderUnavailable ProviderStatus = "unavailable"
	ProviderFailed      ProviderStatus = "failed"
	ProviderTimeout     ProviderStatus = "timeout"
)

// ProviderReport records one provider's collection result.
type ProviderReport struct {
	Provider string         `json:"provider"`
	Status   ProviderStatus `json:"status"`
	Values   int            `json:"values"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration_ns"`
}

type collected struct {
	values []ContextValue
	report ProviderReport
}

// collectContext runs every provider concurrently and merges their values in
// provider order, so when two providers emit the same tag the earlier
// registered provider wins. Provider failures never fail the collection.
func collectContext(ctx context.Context, providers []ContextProvider, attempt *domain.LoginAttempt, timeout time.Duration, limit int, logger *slog.Logger) (ContextSet, []ProviderReport) {
	results := make([]collected, len(providers))

	g := new(errgroup.Group)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, p := range providers {
		g.Go(func() error {
			results[i] = collectOne(ctx, p, attempt, timeout)
			return nil
		})
	}
	_ = g.Wait()

	set := NewContextSet()
	reports := make([]ProviderReport, 0, len(providers))
	for _, r := range results {
		for _, v := range r.values {
			set.add(v)
		}
		reports = append(reports, r.report)
		metrics.ProviderOutcomesTotal.WithLabelValues(r.report.Provider, string(r.report.Status)).Inc()

		switch r.report.Status {
		case ProviderFailed, ProviderTimeout, ProviderPartial:
			logger.Warn("context provider degraded",
				"provider", r.report.Provider,
				"status", r.report.Status,
				"error", r.report.Error,
				"attempt_id", attempt.ID,
			)
		case ProviderUnavailable:
			logger.Debug("context provider contributed nothing",
				"provider", r.report.Provider,
				"attempt_id", attempt.ID,
			)
		}
	}
	return set, reports
}

func collectOne(ctx context.Context, p ContextProvider, attempt *domain.LoginAttempt, timeout time.Duration) collected {
	start := time.Now()
	values, err := runWithTimeout(ctx, timeout, func(ctx context.Context) ([]ContextValue, error) {
		return p.Collect(ctx, attempt)
	})
	report := ProviderReport{
		Provider: p.Name(),
		Values:   len(values),
		Duration: time.Since(start),
	}

	switch {
	case err == nil && len(values) > 0:
		report.Status = ProviderOK
	case err == nil:
		report.Status = ProviderUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		report.Status = ProviderTimeout
	case len(values) > 0:
		report.Status = ProviderPartial
	case errors.Is(err, ErrContextUnavailable):
		report.Status = ProviderUnavailable
	default:
		report.Status = ProviderFailed
	}
	if err != nil {
		report.Error = err.Error()
	}
	return collected{values: values, report: report}
}

// Package fetch runs store reads in two tiers: a primary joined query guarded
// by a circuit breaker, and a secondary sequence of per-entity fetches merged
// in memory. Callers get one result shape and never learn which tier served
// the request.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/3eLLenKa/review-nominations/internal/domain"
	"github.com/3eLLenKa/review-nominations/internal/metrics"
)

type Settings struct {
	Name string
	// Timeout bounds every single tier attempt.
	Timeout time.Duration

	MaxRequests  uint32
	Interval     time.Duration
	OpenTimeout  time.Duration
	MinRequests  uint32
	FailureRatio float64
}

type Fetcher struct {
	log     *slog.Logger
	name    string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[any]
}

func New(log *slog.Logger, st Settings) *Fetcher {
	if st.Name == "" {
		st.Name = "nominations-primary"
	}
	if st.Timeout <= 0 {
		st.Timeout = 5 * time.Second
	}

	metrics.CircuitBreakerState.WithLabelValues(st.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        st.Name,
		MaxRequests: st.MaxRequests,
		Interval:    st.Interval,
		Timeout:     st.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < st.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= st.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("fetch: primary tier breaker changed state",
				slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
		// Domain answers such as "not found" mean the store is healthy.
		IsSuccessful: func(err error) bool {
			return err == nil || IsDomain(err)
		},
	})

	return &Fetcher{
		log:     log,
		name:    st.Name,
		timeout: st.Timeout,
		cb:      cb,
	}
}

// WithFallback serves op from primary and, when primary fails for an
// infrastructure reason or its breaker is open, from secondary. Both tiers
// must return the same shape for the same data. When both fail the error
// wraps domain.ErrStorageUnavailable.
func WithFallback[T any](ctx context.Context, f *Fetcher, op string, primary, secondary func(context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()
	defer func() {
		metrics.FetchDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	res, primaryErr := f.cb.Execute(func() (any, error) {
		tctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		return primary(tctx)
	})
	if primaryErr == nil {
		v, ok := res.(T)
		if ok {
			metrics.FetchTier.WithLabelValues(op, "primary", "success").Inc()
			return v, nil
		}
		primaryErr = fmt.Errorf("fetch: unexpected primary result type %T", res)
	}
	if IsDomain(primaryErr) {
		metrics.FetchTier.WithLabelValues(op, "primary", "success").Inc()
		return zero, primaryErr
	}

	outcome := "failure"
	if errors.Is(primaryErr, gobreaker.ErrOpenState) || errors.Is(primaryErr, gobreaker.ErrTooManyRequests) {
		outcome = "rejected"
	}
	metrics.FetchTier.WithLabelValues(op, "primary", outcome).Inc()

	if ctx.Err() != nil {
		return zero, fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, ctx.Err())
	}

	f.log.Warn("fetch.WithFallback: primary tier failed, using per-entity fetch",
		slog.String("operation", op), slog.Any("error", primaryErr))

	tctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	v, err := secondary(tctx)
	if err != nil {
		if IsDomain(err) {
			metrics.FetchTier.WithLabelValues(op, "secondary", "success").Inc()
			return zero, err
		}
		metrics.FetchTier.WithLabelValues(op, "secondary", "failure").Inc()
		f.log.Error("fetch.WithFallback: both tiers failed",
			slog.String("operation", op), slog.Any("primary_error", primaryErr), slog.Any("error", err))
		return zero, fmt.Errorf("%w: %s: %w", domain.ErrStorageUnavailable, op, errors.Join(primaryErr, err))
	}

	metrics.FetchTier.WithLabelValues(op, "secondary", "success").Inc()
	return v, nil
}

// Single runs a one-tier store call (mutations, point reads) under the fetch
// timeout and maps infrastructure failures to domain.ErrStorageUnavailable.
func Single[T any](ctx context.Context, f *Fetcher, op string, call func(context.Context) (T, error)) (T, error) {
	tctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	v, err := call(tctx)
	if err != nil {
		if IsDomain(err) {
			return v, err
		}
		if IsInfrastructure(err) || tctx.Err() != nil {
			f.log.Error("fetch.Single: storage unavailable", slog.String("operation", op), slog.Any("error", err))
			return v, fmt.Errorf("%w: %s: %w", domain.ErrStorageUnavailable, op, err)
		}
		return v, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}

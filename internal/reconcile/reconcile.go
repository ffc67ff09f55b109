// Package reconcile owns the two nomination state machines. Request:
// pending -> accepted | rejected, both terminal. Review, reachable only from
// accepted requests: not_started -> in_progress -> completed, one step at a
// time and never backwards.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/3eLLenKa/review-nominations/internal/domain"
	"github.com/3eLLenKa/review-nominations/internal/metrics"
)

type Store interface {
	GetNomination(ctx context.Context, id string) (domain.Nomination, error)
	GetUnifiedReviewStatus(ctx context.Context, n domain.Nomination) (domain.ReviewStatus, error)
	DecideRequest(ctx context.Context, id string, decision domain.RequestStatus, at time.Time) (domain.Nomination, error)
	SetReviewStatus(ctx context.Context, n domain.Nomination, from, to domain.ReviewStatus, at time.Time) (domain.Nomination, error)
}

// ReviewState is the canonical view of a nomination. Nothing outside this
// package and the store reads review columns directly.
type ReviewState struct {
	RequestStatus domain.RequestStatus
	ReviewStatus  domain.ReviewStatus
	Source        domain.ReviewSourceKind
	Stale         bool
	ChangedAt     time.Time
}

// Progressed reports a review that has started on an accepted request.
// Review status on pending or rejected requests carries no meaning.
func (s ReviewState) Progressed() bool {
	return s.RequestStatus == domain.RequestAccepted && s.ReviewStatus != domain.ReviewNotStarted
}

type Engine struct {
	log   *slog.Logger
	store Store
	now   func() time.Time
}

func New(log *slog.Logger, store Store, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		log:   log,
		store: store,
		now:   now,
	}
}

func CanDecide(current, decision domain.RequestStatus) bool {
	if current != domain.RequestPending {
		return false
	}
	return decision == domain.RequestAccepted || decision == domain.RequestRejected
}

func CanProgress(request domain.RequestStatus, current, to domain.ReviewStatus) bool {
	return request == domain.RequestAccepted && current.Next(to)
}

// Normalize is pure: the nomination's review source was already resolved by
// the store when it was loaded.
func Normalize(n domain.Nomination) ReviewState {
	changed := n.CreatedAt
	if n.RequestStatus != domain.RequestPending {
		changed = later(changed, n.DecidedAt())
	}
	if at := n.Review.UpdatedAt(); at != nil {
		changed = later(changed, *at)
	}

	return ReviewState{
		RequestStatus: n.RequestStatus,
		ReviewStatus:  n.Review.Status(),
		Source:        n.Review.Kind(),
		Stale:         n.Review.Stale(),
		ChangedAt:     changed,
	}
}

// ApplyRequestDecision moves a pending request to accepted or rejected. The
// review status is left as it is.
func (e *Engine) ApplyRequestDecision(ctx context.Context, id string, decision domain.RequestStatus) (domain.Nomination, error) {
	n, err := e.store.GetNomination(ctx, id)
	if err != nil {
		return domain.Nomination{}, err
	}

	if !CanDecide(n.RequestStatus, decision) {
		metrics.Transitions.WithLabelValues("request", string(decision), "rejected").Inc()
		return domain.Nomination{}, fmt.Errorf("%w: request %s is %s, cannot become %s",
			domain.ErrInvalidTransition, id, n.RequestStatus, decision)
	}

	updated, err := e.store.DecideRequest(ctx, id, decision, e.now().UTC())
	if err != nil {
		metrics.Transitions.WithLabelValues("request", string(decision), outcome(err)).Inc()
		if errors.Is(err, domain.ErrInvalidTransition) {
			e.log.Info("reconcile.ApplyRequestDecision: lost concurrent decision", slog.String("nomination_id", id))
		}
		return domain.Nomination{}, err
	}

	metrics.Transitions.WithLabelValues("request", string(decision), "applied").Inc()
	return updated, nil
}

// ApplyReviewProgress advances the review of an accepted nomination by one
// step, writing to whichever record owns the review status.
func (e *Engine) ApplyReviewProgress(ctx context.Context, id string, to domain.ReviewStatus) (domain.Nomination, error) {
	n, err := e.store.GetNomination(ctx, id)
	if err != nil {
		return domain.Nomination{}, err
	}

	current, err := e.store.GetUnifiedReviewStatus(ctx, n)
	if err != nil {
		return domain.Nomination{}, err
	}

	return e.step(ctx, n, current, to)
}

// ReconcileAnswers derives review progress from a response session: no
// answers is not_started, some is in_progress, all is completed. Progress
// is only ever moved forward.
func (e *Engine) ReconcileAnswers(ctx context.Context, id string, answered, total int) (domain.Nomination, error) {
	if answered < 0 || total < 0 {
		return domain.Nomination{}, fmt.Errorf("%w: answer counts must not be negative", domain.ErrInvalidTransition)
	}

	n, err := e.store.GetNomination(ctx, id)
	if err != nil {
		return domain.Nomination{}, err
	}

	target := AnswersStatus(answered, total)
	current, err := e.store.GetUnifiedReviewStatus(ctx, n)
	if err != nil {
		return domain.Nomination{}, err
	}
	if !current.Precedes(target) {
		return n, nil
	}

	for current.Precedes(target) {
		next, _ := current.Successor()
		n, err = e.step(ctx, n, current, next)
		if err != nil {
			return domain.Nomination{}, err
		}
		current = next
	}
	return n, nil
}

// AnswersStatus maps an answer count to a review status. A session with zero
// answers has not started.
func AnswersStatus(answered, total int) domain.ReviewStatus {
	switch {
	case answered <= 0:
		return domain.ReviewNotStarted
	case answered < total:
		return domain.ReviewInProgress
	}
	return domain.ReviewCompleted
}

func (e *Engine) step(ctx context.Context, n domain.Nomination, current, to domain.ReviewStatus) (domain.Nomination, error) {
	if !CanProgress(n.RequestStatus, current, to) {
		metrics.Transitions.WithLabelValues("review", string(to), "rejected").Inc()
		return domain.Nomination{}, fmt.Errorf("%w: review of %s (request %s) is %s, cannot become %s",
			domain.ErrInvalidTransition, n.ID, n.RequestStatus, current, to)
	}

	updated, err := e.store.SetReviewStatus(ctx, n, current, to, e.now().UTC())
	if err != nil {
		metrics.Transitions.WithLabelValues("review", string(to), outcome(err)).Inc()
		return domain.Nomination{}, err
	}

	metrics.Transitions.WithLabelValues("review", string(to), "applied").Inc()
	e.log.Debug("reconcile.step: review progressed",
		slog.String("nomination_id", n.ID), slog.String("from", string(current)), slog.String("to", string(to)),
		slog.String("source", string(n.Review.Kind())))
	return updated, nil
}

func outcome(err error) string {
	if errors.Is(err, domain.ErrInvalidTransition) {
		return "rejected"
	}
	return "error"
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

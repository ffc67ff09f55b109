// Package notify computes a user's notifications and unseen badge count from
// nomination state, gated by a server-side watermark. The watermark is
// session_start, fixed at login, and last_checked, moved every time the user
// opens the list. Only the count depends on last_checked; the list always
// shows everything since session_start.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/3eLLenKa/review-nominations/internal/directory"
	"github.com/3eLLenKa/review-nominations/internal/domain"
	"github.com/3eLLenKa/review-nominations/internal/fetch"
)

type Store interface {
	PendingRequestsFor(ctx context.Context, memberID string, externalIDs []string) ([]domain.Nomination, error)
	DecisionsOnNominationsBy(ctx context.Context, nominatorID string) ([]domain.Nomination, error)
}

type WatermarkRepo interface {
	Ensure(ctx context.Context, userID string, now time.Time) (domain.Watermark, error)
	ResetSession(ctx context.Context, userID string, now time.Time) (domain.Watermark, error)
	MarkChecked(ctx context.Context, userID string, now time.Time) (domain.Watermark, error)
}

type Directory interface {
	ExternalIdentities(ctx context.Context, email string) ([]domain.ExternalReviewer, error)
	Load(ctx context.Context, nominations []domain.Nomination, memberIDs ...string) *directory.Snapshot
}

type Service struct {
	log        *slog.Logger
	fetcher    *fetch.Fetcher
	store      Store
	watermarks WatermarkRepo
	directory  Directory
	now        func() time.Time
}

func New(log *slog.Logger, fetcher *fetch.Fetcher, store Store, watermarks WatermarkRepo, dir Directory, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		log:        log,
		fetcher:    fetcher,
		store:      store,
		watermarks: watermarks,
		directory:  dir,
		now:        now,
	}
}

// SelfNominated reports an external nomination the actor created for
// themselves. Such nominations never notify that actor.
func SelfNominated(n domain.Nomination, actor domain.Actor) bool {
	return n.IsExternal && n.NominatedByID == actor.ID
}

func (s *Service) watermark(ctx context.Context, userID string) (domain.Watermark, error) {
	return fetch.Single(ctx, s.fetcher, "watermark.ensure", func(ctx context.Context) (domain.Watermark, error) {
		return s.watermarks.Ensure(ctx, userID, s.now().UTC())
	})
}

// CountFromTime is last_checked when set, otherwise session_start. A user
// without a watermark gets a session opened now.
func (s *Service) CountFromTime(ctx context.Context, userID string) (time.Time, error) {
	w, err := s.watermark(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	return w.CountFrom(), nil
}

func (s *Service) ComputeUnseenCount(ctx context.Context, actor domain.Actor) (int, error) {
	from, err := s.CountFromTime(ctx, actor.ID)
	if err != nil {
		return 0, err
	}

	requests, decisions, err := s.collect(ctx, actor)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, n := range requests {
		if n.CreatedAt.After(from) {
			count++
		}
	}
	for _, n := range decisions {
		if n.DecidedAt().After(from) {
			count++
		}
	}
	return count, nil
}

// MarkChecked resets the badge count. Concurrent calls from one user's tabs
// are last-write-wins.
func (s *Service) MarkChecked(ctx context.Context, userID string) (domain.Watermark, error) {
	return fetch.Single(ctx, s.fetcher, "watermark.mark_checked", func(ctx context.Context) (domain.Watermark, error) {
		return s.watermarks.MarkChecked(ctx, userID, s.now().UTC())
	})
}

// ResetSession starts a new login session: session_start moves to now and
// last_checked is cleared.
func (s *Service) ResetSession(ctx context.Context, userID string) (domain.Watermark, error) {
	return fetch.Single(ctx, s.fetcher, "watermark.reset_session", func(ctx context.Context) (domain.Watermark, error) {
		return s.watermarks.ResetSession(ctx, userID, s.now().UTC())
	})
}

// ListNotifications returns every notification since session_start, newest
// first, flagging the ones the badge count includes.
func (s *Service) ListNotifications(ctx context.Context, actor domain.Actor) ([]domain.Notification, error) {
	w, err := s.watermark(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	from := w.CountFrom()

	requests, decisions, err := s.collect(ctx, actor)
	if err != nil {
		return nil, err
	}

	all := make([]domain.Nomination, 0, len(requests)+len(decisions))
	all = append(all, requests...)
	all = append(all, decisions...)
	dir := s.directory.Load(ctx, all)

	out := make([]domain.Notification, 0, len(all))
	for _, n := range requests {
		if !n.CreatedAt.After(w.SessionStart) {
			continue
		}
		out = append(out, domain.Notification{
			NominationID: n.ID,
			Kind:         domain.NotificationReviewRequested,
			Message:      fmt.Sprintf("%s asked you to review an assessment", dir.Member(n.NominatedByID).DisplayName()),
			Timestamp:    n.CreatedAt,
			Unseen:       n.CreatedAt.After(from),
		})
	}
	for _, n := range decisions {
		at := n.DecidedAt()
		if !at.After(w.SessionStart) {
			continue
		}
		kind, verb := domain.NotificationRequestAccepted, "accepted"
		if n.RequestStatus == domain.RequestRejected {
			kind, verb = domain.NotificationRequestRejected, "declined"
		}
		out = append(out, domain.Notification{
			NominationID: n.ID,
			Kind:         kind,
			Message:      fmt.Sprintf("%s %s your review request", dir.Reviewer(n).DisplayName(), verb),
			Timestamp:    at,
			Unseen:       at.After(from),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].NominationID > out[j].NominationID
	})
	return out, nil
}

// collect returns the pending requests addressed to actor and the decided
// nominations actor created, with self-nominations removed from both.
func (s *Service) collect(ctx context.Context, actor domain.Actor) ([]domain.Nomination, []domain.Nomination, error) {
	identities, err := s.directory.ExternalIdentities(ctx, actor.Email)
	if err != nil {
		return nil, nil, err
	}
	externalIDs := make([]string, len(identities))
	for i, er := range identities {
		externalIDs[i] = er.ID
	}

	pending, err := s.store.PendingRequestsFor(ctx, actor.ID, externalIDs)
	if err != nil {
		return nil, nil, err
	}
	decided, err := s.store.DecisionsOnNominationsBy(ctx, actor.ID)
	if err != nil {
		return nil, nil, err
	}

	own := make(map[string]bool, len(externalIDs))
	for _, id := range externalIDs {
		own[id] = true
	}

	// Every pending row here is addressed to actor, so the nominator check
	// alone identifies a self-nomination. Decided rows were all created by
	// actor; only those whose reviewer is one of actor's identities are self.
	requests := keep(pending, func(n domain.Nomination) bool { return !SelfNominated(n, actor) })
	decisions := keep(decided, func(n domain.Nomination) bool { return !(n.IsExternal && own[n.ReviewerRef()]) })
	if dropped := len(pending) - len(requests) + len(decided) - len(decisions); dropped > 0 {
		s.log.Debug("notify.collect: suppressed self-nominations",
			slog.String("user_id", actor.ID), slog.Int("count", dropped))
	}
	return requests, decisions, nil
}

func keep(list []domain.Nomination, ok func(domain.Nomination) bool) []domain.Nomination {
	out := make([]domain.Nomination, 0, len(list))
	for _, n := range list {
		if ok(n) {
			out = append(out, n)
		}
	}
	return out
}

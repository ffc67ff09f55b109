// Package activity reconstructs a tenant's activity feed from the current
// state of nominations and participant assessments. There is no event log:
// every event is derived from a row's status and timestamps.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/3eLLenKa/review-nominations/internal/directory"
	"github.com/3eLLenKa/review-nominations/internal/domain"
	"github.com/3eLLenKa/review-nominations/internal/metrics"
	"github.com/3eLLenKa/review-nominations/internal/reconcile"
)

const (
	DefaultWindowSize  = 50
	DefaultOutputLimit = 30
)

type Source string

const (
	SourceNominations Source = "nominations"
	SourceAssessments Source = "assessments"
	SourceReviews     Source = "reviews"
	SourceContexts    Source = "contexts"
)

type Store interface {
	RecentNominations(ctx context.Context, clientID string, limit int) ([]domain.Nomination, error)
	RecentAssessmentProgress(ctx context.Context, clientID string, limit int) ([]domain.ParticipantAssessment, error)
	RecentReviewActivity(ctx context.Context, clientID string, limit int) ([]domain.Nomination, error)
	AssessmentContexts(ctx context.Context, participantAssessmentIDs []string) (map[string]domain.AssessmentContext, error)
}

type Directory interface {
	Load(ctx context.Context, nominations []domain.Nomination, memberIDs ...string) *directory.Snapshot
}

type Options struct {
	// WindowSize is how many rows are read from each source.
	WindowSize int
	// OutputLimit caps the merged feed.
	OutputLimit int
}

func (o Options) withDefaults() Options {
	if o.WindowSize <= 0 {
		o.WindowSize = DefaultWindowSize
	}
	if o.OutputLimit <= 0 {
		o.OutputLimit = DefaultOutputLimit
	}
	return o
}

type SourceError struct {
	Source Source
	Err    error
}

func (e SourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e SourceError) Unwrap() error { return e.Err }

// Feed is the merged feed plus the sources that could not be read. A source
// that failed on both fetch tiers contributes no events.
type Feed struct {
	Events []domain.ActivityEvent
	Errors []SourceError
}

type Builder struct {
	log       *slog.Logger
	store     Store
	directory Directory
}

func New(log *slog.Logger, store Store, dir Directory) *Builder {
	return &Builder{
		log:       log,
		store:     store,
		directory: dir,
	}
}

func (b *Builder) BuildFeed(ctx context.Context, clientID string, opts Options) Feed {
	opts = opts.withDefaults()

	var (
		nominations []domain.Nomination
		progress    []domain.ParticipantAssessment
		reviews     []domain.Nomination
		errs        [3]error
	)

	// Sources never return an error to the group so one failing source does
	// not cancel the others.
	var g errgroup.Group
	g.Go(func() error {
		nominations, errs[0] = b.store.RecentNominations(ctx, clientID, opts.WindowSize)
		return nil
	})
	g.Go(func() error {
		progress, errs[1] = b.store.RecentAssessmentProgress(ctx, clientID, opts.WindowSize)
		return nil
	})
	g.Go(func() error {
		reviews, errs[2] = b.store.RecentReviewActivity(ctx, clientID, opts.WindowSize)
		return nil
	})
	_ = g.Wait()

	feed := Feed{Events: make([]domain.ActivityEvent, 0), Errors: make([]SourceError, 0)}
	for i, src := range []Source{SourceNominations, SourceAssessments, SourceReviews} {
		if errs[i] != nil {
			feed.Errors = append(feed.Errors, b.sourceFailed(clientID, src, errs[i]))
		}
	}

	contexts := b.contexts(ctx, clientID, nominations, progress, reviews, &feed)

	participants := make([]string, 0, len(contexts)+len(progress))
	for _, c := range contexts {
		participants = append(participants, c.ParticipantID)
	}
	for _, pa := range progress {
		participants = append(participants, pa.ParticipantID)
	}
	all := make([]domain.Nomination, 0, len(nominations)+len(reviews))
	all = append(all, nominations...)
	all = append(all, reviews...)
	dir := b.directory.Load(ctx, all, participants...)

	c := classifier{dir: dir, contexts: contexts}
	for _, n := range nominations {
		if ev, ok := c.request(n); ok {
			feed.Events = append(feed.Events, ev)
		}
	}
	for _, pa := range progress {
		if ev, ok := c.assessment(pa); ok {
			feed.Events = append(feed.Events, ev)
		}
	}
	for _, n := range reviews {
		if ev, ok := c.review(n); ok {
			feed.Events = append(feed.Events, ev)
		}
	}

	// Stable: equal timestamps keep source order.
	sort.SliceStable(feed.Events, func(i, j int) bool {
		return feed.Events[i].Timestamp.After(feed.Events[j].Timestamp)
	})
	if len(feed.Events) > opts.OutputLimit {
		feed.Events = feed.Events[:opts.OutputLimit]
	}

	return feed
}

func (b *Builder) contexts(ctx context.Context, clientID string, nominations []domain.Nomination, progress []domain.ParticipantAssessment, reviews []domain.Nomination, feed *Feed) map[string]domain.AssessmentContext {
	seen := make(map[string]bool)
	ids := make([]string, 0)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, n := range nominations {
		add(n.ParticipantAssessmentID)
	}
	for _, pa := range progress {
		add(pa.ID)
	}
	for _, n := range reviews {
		add(n.ParticipantAssessmentID)
	}

	contexts, err := b.store.AssessmentContexts(ctx, ids)
	if err != nil {
		feed.Errors = append(feed.Errors, b.sourceFailed(clientID, SourceContexts, err))
		return map[string]domain.AssessmentContext{}
	}
	return contexts
}

func (b *Builder) sourceFailed(clientID string, src Source, err error) SourceError {
	metrics.FeedSourceErrors.WithLabelValues(string(src)).Inc()
	b.log.Error("activity.BuildFeed: source unavailable",
		slog.String("client_id", clientID), slog.String("source", string(src)), slog.Any("error", err))
	return SourceError{Source: src, Err: err}
}

type classifier struct {
	dir      *directory.Snapshot
	contexts map[string]domain.AssessmentContext
}

func (c classifier) request(n domain.Nomination) (domain.ActivityEvent, bool) {
	nominator := c.dir.Member(n.NominatedByID)
	reviewer := c.dir.Reviewer(n)
	subject := c.participant(n.ParticipantAssessmentID)

	switch n.RequestStatus {
	case domain.RequestPending:
		if SelfNominated(n, nominator, reviewer) {
			return domain.ActivityEvent{}, false
		}
		return c.event(domain.KindNominationRequested, n.ID, nominator, n.CreatedAt, n.ParticipantAssessmentID,
			fmt.Sprintf("%s requested a review from %s for %s", nominator.DisplayName(), reviewer.DisplayName(), subject)), true
	case domain.RequestAccepted:
		return c.event(domain.KindNominationAccepted, n.ID, reviewer, n.DecidedAt(), n.ParticipantAssessmentID,
			fmt.Sprintf("%s accepted the review request for %s", reviewer.DisplayName(), subject)), true
	case domain.RequestRejected:
		return c.event(domain.KindNominationRejected, n.ID, reviewer, n.DecidedAt(), n.ParticipantAssessmentID,
			fmt.Sprintf("%s declined the review request for %s", reviewer.DisplayName(), subject)), true
	}
	return domain.ActivityEvent{}, false
}

func (c classifier) assessment(pa domain.ParticipantAssessment) (domain.ActivityEvent, bool) {
	participant := c.dir.Member(pa.ParticipantID)
	name := c.assessmentName(pa.ID)

	switch pa.Status {
	case domain.AssessmentInProgress:
		return c.event(domain.KindAssessmentStarted, pa.ID, participant, orUpdated(pa.StartedAt, pa), pa.ID,
			fmt.Sprintf("%s started %s", participant.DisplayName(), name)), true
	case domain.AssessmentCompleted:
		return c.event(domain.KindAssessmentCompleted, pa.ID, participant, orUpdated(pa.CompletedAt, pa), pa.ID,
			fmt.Sprintf("%s completed %s", participant.DisplayName(), name)), true
	}
	return domain.ActivityEvent{}, false
}

func (c classifier) review(n domain.Nomination) (domain.ActivityEvent, bool) {
	state := reconcile.Normalize(n)
	if !state.Progressed() {
		return domain.ActivityEvent{}, false
	}

	reviewer := c.dir.Reviewer(n)
	subject := c.participant(n.ParticipantAssessmentID)

	switch state.ReviewStatus {
	case domain.ReviewInProgress:
		return c.event(domain.KindReviewStarted, n.ID, reviewer, n.ReviewActivityAt(), n.ParticipantAssessmentID,
			fmt.Sprintf("%s started reviewing %s", reviewer.DisplayName(), subject)), true
	case domain.ReviewCompleted:
		return c.event(domain.KindReviewCompleted, n.ID, reviewer, n.ReviewActivityAt(), n.ParticipantAssessmentID,
			fmt.Sprintf("%s completed the review of %s", reviewer.DisplayName(), subject)), true
	}
	return domain.ActivityEvent{}, false
}

func (c classifier) event(kind domain.ActivityKind, rowID string, actor directory.ReviewerDescriptor, at time.Time, paID, detail string) domain.ActivityEvent {
	ev := domain.ActivityEvent{
		ID:         string(kind) + ":" + rowID,
		Kind:       kind,
		ActorName:  actor.DisplayName(),
		ActorEmail: actor.Email,
		DetailText: detail,
		Timestamp:  at,
	}
	if ac, ok := c.contexts[paID]; ok {
		cohort, assessment := ac.CohortName, ac.AssessmentName
		ev.CohortName = &cohort
		ev.AssessmentName = &assessment
	}
	return ev
}

func (c classifier) participant(paID string) string {
	ac, ok := c.contexts[paID]
	if !ok {
		return "a participant"
	}
	return c.dir.Member(ac.ParticipantID).DisplayName()
}

func (c classifier) assessmentName(paID string) string {
	if ac, ok := c.contexts[paID]; ok && ac.AssessmentName != "" {
		return ac.AssessmentName
	}
	return "an assessment"
}

// SelfNominated reports an external nomination whose reviewer is the person
// who created it.
func SelfNominated(n domain.Nomination, nominator, reviewer directory.ReviewerDescriptor) bool {
	if !n.IsExternal || !nominator.Known || !reviewer.Known {
		return false
	}
	return nominator.Email != "" && strings.EqualFold(nominator.Email, reviewer.Email)
}

func orUpdated(at *time.Time, pa domain.ParticipantAssessment) time.Time {
	if at != nil {
		return *at
	}
	return pa.UpdatedAt
}

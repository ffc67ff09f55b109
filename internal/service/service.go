package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/3eLLenKa/review-nominations/internal/activity"
	"github.com/3eLLenKa/review-nominations/internal/directory"
	"github.com/3eLLenKa/review-nominations/internal/domain"
	"github.com/3eLLenKa/review-nominations/internal/reconcile"
)

type NominationStore interface {
	GetNomination(ctx context.Context, id string) (domain.Nomination, error)
	ListNominationsForAssessment(ctx context.Context, participantAssessmentID string) ([]domain.Nomination, error)
	AssessmentContexts(ctx context.Context, participantAssessmentIDs []string) (map[string]domain.AssessmentContext, error)
	CreateNomination(ctx context.Context, rec domain.NominationRecord) (domain.Nomination, error)
}

type Directory interface {
	LookupMember(ctx context.Context, id string) (*domain.Member, error)
	EnsureExternal(ctx context.Context, clientID, email, name string, now time.Time) (*domain.ExternalReviewer, bool, error)
	Load(ctx context.Context, nominations []domain.Nomination, memberIDs ...string) *directory.Snapshot
}

type Reconciler interface {
	ApplyRequestDecision(ctx context.Context, id string, decision domain.RequestStatus) (domain.Nomination, error)
	ApplyReviewProgress(ctx context.Context, id string, to domain.ReviewStatus) (domain.Nomination, error)
	ReconcileAnswers(ctx context.Context, id string, answered, total int) (domain.Nomination, error)
}

type FeedBuilder interface {
	BuildFeed(ctx context.Context, clientID string, opts activity.Options) activity.Feed
}

type Notifier interface {
	ComputeUnseenCount(ctx context.Context, actor domain.Actor) (int, error)
	MarkChecked(ctx context.Context, userID string) (domain.Watermark, error)
	ResetSession(ctx context.Context, userID string) (domain.Watermark, error)
	ListNotifications(ctx context.Context, actor domain.Actor) ([]domain.Notification, error)
}

type Service struct {
	log       *slog.Logger
	validate  *validator.Validate
	store     NominationStore
	directory Directory
	reconcile Reconciler
	feed      FeedBuilder
	notify    Notifier
	feedOpts  activity.Options
	now       func() time.Time
}

func New(log *slog.Logger, store NominationStore, dir Directory, rec Reconciler, feed FeedBuilder, notify Notifier, feedOpts activity.Options, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		log:       log,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		store:     store,
		directory: dir,
		reconcile: rec,
		feed:      feed,
		notify:    notify,
		feedOpts:  feedOpts,
		now:       now,
	}
}

// NominateInput names exactly one reviewer: a member by id or an external
// reviewer by email.
type NominateInput struct {
	ParticipantAssessmentID string `validate:"required"`
	ReviewerID              string `validate:"required_without=ExternalEmail,excluded_with=ExternalEmail"`
	ExternalEmail           string `validate:"omitempty,email,excluded_with=ReviewerID"`
	ExternalName            string `validate:"omitempty,max=200"`
}

type NominationView struct {
	Nomination domain.Nomination
	Reviewer   directory.ReviewerDescriptor
	State      reconcile.ReviewState
}

func (s *Service) Nominate(ctx context.Context, actor domain.Actor, in NominateInput) (*NominationView, error) {
	in.ExternalEmail = strings.TrimSpace(in.ExternalEmail)
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidNomination, err)
	}

	contexts, err := s.store.AssessmentContexts(ctx, []string{in.ParticipantAssessmentID})
	if err != nil {
		s.log.Error("service.Nominate: failed to load assessment", slog.String("participant_assessment_id", in.ParticipantAssessmentID), slog.Any("error", err))
		return nil, err
	}
	assessment, ok := contexts[in.ParticipantAssessmentID]
	if !ok {
		return nil, domain.ErrAssessmentNotFound
	}

	now := s.now().UTC()
	rec := domain.NominationRecord{
		ID:                      uuid.NewString(),
		ParticipantAssessmentID: in.ParticipantAssessmentID,
		NominatedByID:           actor.ID,
		RequestStatus:           domain.RequestPending,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	if in.ExternalEmail != "" {
		er, _, err := s.directory.EnsureExternal(ctx, assessment.ClientID, in.ExternalEmail, in.ExternalName, now)
		if err != nil {
			s.log.Error("service.Nominate: failed to resolve external reviewer", slog.String("client_id", assessment.ClientID), slog.Any("error", err))
			return nil, err
		}
		rec.IsExternal = true
		rec.ExternalReviewerID = &er.ID
		if strings.EqualFold(er.Email, actor.Email) {
			s.log.Info("service.Nominate: self-nomination as external reviewer", slog.String("user_id", actor.ID))
		}
	} else {
		if _, err := s.directory.LookupMember(ctx, in.ReviewerID); err != nil {
			s.log.Error("service.Nominate: failed to get reviewer", slog.String("reviewer_id", in.ReviewerID), slog.Any("error", err))
			return nil, err
		}
		reviewerID := in.ReviewerID
		rec.ReviewerID = &reviewerID
	}

	if err := domain.BuildNomination(rec, nil).Validate(); err != nil {
		return nil, err
	}

	n, err := s.store.CreateNomination(ctx, rec)
	if err != nil {
		s.log.Error("service.Nominate: failed to create nomination", slog.String("nomination_id", rec.ID), slog.Any("error", err))
		return nil, err
	}

	return s.view(ctx, n), nil
}

func (s *Service) DecideNomination(ctx context.Context, actor domain.Actor, id string, decision domain.RequestStatus) (*NominationView, error) {
	n, err := s.reconcile.ApplyRequestDecision(ctx, id, decision)
	if err != nil {
		s.logMutation("service.DecideNomination", actor, id, err)
		return nil, err
	}
	s.log.Info("service.DecideNomination: request decided",
		slog.String("nomination_id", id), slog.String("user_id", actor.ID), slog.String("decision", string(decision)))
	return s.view(ctx, n), nil
}

func (s *Service) ProgressReview(ctx context.Context, actor domain.Actor, id string, status domain.ReviewStatus) (*NominationView, error) {
	n, err := s.reconcile.ApplyReviewProgress(ctx, id, status)
	if err != nil {
		s.logMutation("service.ProgressReview", actor, id, err)
		return nil, err
	}
	return s.view(ctx, n), nil
}

func (s *Service) ReconcileAnswers(ctx context.Context, actor domain.Actor, id string, answered, total int) (*NominationView, error) {
	n, err := s.reconcile.ReconcileAnswers(ctx, id, answered, total)
	if err != nil {
		s.logMutation("service.ReconcileAnswers", actor, id, err)
		return nil, err
	}
	return s.view(ctx, n), nil
}

func (s *Service) ReviewState(ctx context.Context, id string) (*NominationView, error) {
	n, err := s.store.GetNomination(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Error("service.ReviewState: failed to get nomination", slog.String("nomination_id", id), slog.Any("error", err))
		}
		return nil, err
	}
	return s.view(ctx, n), nil
}

func (s *Service) ListAssessmentNominations(ctx context.Context, participantAssessmentID string) ([]NominationView, error) {
	list, err := s.store.ListNominationsForAssessment(ctx, participantAssessmentID)
	if err != nil {
		s.log.Error("service.ListAssessmentNominations: failed to list nominations",
			slog.String("participant_assessment_id", participantAssessmentID), slog.Any("error", err))
		return nil, err
	}

	dir := s.directory.Load(ctx, list)
	out := make([]NominationView, 0, len(list))
	for _, n := range list {
		out = append(out, NominationView{Nomination: n, Reviewer: dir.Reviewer(n), State: reconcile.Normalize(n)})
	}
	return out, nil
}

// ListActivity never fails: sources that could not be read are reported in
// Feed.Errors.
func (s *Service) ListActivity(ctx context.Context, clientID string, limit int) activity.Feed {
	opts := s.feedOpts
	if limit > 0 {
		opts.OutputLimit = limit
	}
	return s.feed.BuildFeed(ctx, clientID, opts)
}

func (s *Service) GetUnseenCount(ctx context.Context, actor domain.Actor) (int, error) {
	count, err := s.notify.ComputeUnseenCount(ctx, actor)
	if err != nil {
		s.log.Error("service.GetUnseenCount: failed to compute count", slog.String("user_id", actor.ID), slog.Any("error", err))
		return 0, err
	}
	return count, nil
}

func (s *Service) MarkNotificationsChecked(ctx context.Context, actor domain.Actor) (domain.Watermark, error) {
	w, err := s.notify.MarkChecked(ctx, actor.ID)
	if err != nil {
		s.log.Error("service.MarkNotificationsChecked: failed to move watermark", slog.String("user_id", actor.ID), slog.Any("error", err))
		return domain.Watermark{}, err
	}
	return w, nil
}

func (s *Service) StartSession(ctx context.Context, actor domain.Actor) (domain.Watermark, error) {
	w, err := s.notify.ResetSession(ctx, actor.ID)
	if err != nil {
		s.log.Error("service.StartSession: failed to reset session", slog.String("user_id", actor.ID), slog.Any("error", err))
		return domain.Watermark{}, err
	}
	return w, nil
}

func (s *Service) ListNotifications(ctx context.Context, actor domain.Actor) ([]domain.Notification, error) {
	list, err := s.notify.ListNotifications(ctx, actor)
	if err != nil {
		s.log.Error("service.ListNotifications: failed to list notifications", slog.String("user_id", actor.ID), slog.Any("error", err))
		return nil, err
	}
	return list, nil
}

func (s *Service) view(ctx context.Context, n domain.Nomination) *NominationView {
	dir := s.directory.Load(ctx, []domain.Nomination{n})
	return &NominationView{Nomination: n, Reviewer: dir.Reviewer(n), State: reconcile.Normalize(n)}
}

func (s *Service) logMutation(op string, actor domain.Actor, id string, err error) {
	if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
		s.log.Info(op+": rejected", slog.String("nomination_id", id), slog.String("user_id", actor.ID), slog.Any("error", err))
		return
	}
	s.log.Error(op+": failed", slog.String("nomination_id", id), slog.String("user_id", actor.ID), slog.Any("error", err))
}

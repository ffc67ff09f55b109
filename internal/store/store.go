// Package store is the nomination read model. Every list read runs through
// fetch.WithFallback: a joined query first, then per-entity fetches merged in
// memory by foreign key. Both tiers build nominations with
// domain.BuildNomination and sort them identically.
package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/3eLLenKa/review-nominations/internal/domain"
	"github.com/3eLLenKa/review-nominations/internal/fetch"
)

type NominationRepo interface {
	JoinedByID(ctx context.Context, id string) (domain.Nomination, error)
	JoinedByParticipantAssessments(ctx context.Context, ids []string) ([]domain.Nomination, error)
	JoinedByReviewer(ctx context.Context, reviewerID string, isExternal bool) ([]domain.Nomination, error)
	JoinedByExternalReviewers(ctx context.Context, externalIDs []string) ([]domain.Nomination, error)
	JoinedByNominator(ctx context.Context, nominatorID string) ([]domain.Nomination, error)
	JoinedRecentForClient(ctx context.Context, clientID string, limit int) ([]domain.Nomination, error)
	JoinedRecentReviewActivity(ctx context.Context, clientID string, limit int) ([]domain.Nomination, error)

	RecordByID(ctx context.Context, id string) (domain.NominationRecord, error)
	RecordsByParticipantAssessments(ctx context.Context, ids []string) ([]domain.NominationRecord, error)
	RecordsByReviewer(ctx context.Context, reviewerID string, isExternal bool) ([]domain.NominationRecord, error)
	RecordsByExternalReviewers(ctx context.Context, externalIDs []string) ([]domain.NominationRecord, error)
	RecordsByNominator(ctx context.Context, nominatorID string) ([]domain.NominationRecord, error)

	Create(ctx context.Context, rec domain.NominationRecord) error
	Decide(ctx context.Context, id string, decision domain.RequestStatus, at time.Time) (domain.NominationRecord, error)
	SetOwnReviewStatus(ctx context.Context, id string, from, to domain.ReviewStatus, at time.Time) (domain.NominationRecord, error)
	SetExternalReviewStatus(ctx context.Context, id, externalID string, from, to domain.ReviewStatus, at time.Time) (domain.NominationRecord, error)
}

type ExternalRepo interface {
	GetExternalById(ctx context.Context, id string) (*domain.ExternalReviewer, error)
	ListExternalByIds(ctx context.Context, ids []string) ([]domain.ExternalReviewer, error)
}

type AssessmentRepo interface {
	JoinedRecentProgress(ctx context.Context, clientID string, limit int) ([]domain.ParticipantAssessment, error)
	JoinedContexts(ctx context.Context, participantAssessmentIDs []string) ([]domain.AssessmentContext, error)

	ListCohortsByClient(ctx context.Context, clientID string) ([]domain.Cohort, error)
	ListCohortsByIds(ctx context.Context, ids []string) ([]domain.Cohort, error)
	ListAssessmentsByCohorts(ctx context.Context, cohortIDs []string) ([]domain.Assessment, error)
	ListAssessmentsByIds(ctx context.Context, ids []string) ([]domain.Assessment, error)
	ListParticipantAssessmentsByAssessments(ctx context.Context, assessmentIDs []string) ([]domain.ParticipantAssessment, error)
	ListParticipantAssessmentsByIds(ctx context.Context, ids []string) ([]domain.ParticipantAssessment, error)
}

type Adapter struct {
	log        *slog.Logger
	fetcher    *fetch.Fetcher
	nomination NominationRepo
	external   ExternalRepo
	assessment AssessmentRepo
}

func New(log *slog.Logger, fetcher *fetch.Fetcher, nomination NominationRepo, external ExternalRepo, assessment AssessmentRepo) *Adapter {
	return &Adapter{
		log:        log,
		fetcher:    fetcher,
		nomination: nomination,
		external:   external,
		assessment: assessment,
	}
}

func (a *Adapter) GetNomination(ctx context.Context, id string) (domain.Nomination, error) {
	return fetch.WithFallback(ctx, a.fetcher, "nomination.get",
		func(ctx context.Context) (domain.Nomination, error) {
			return a.nomination.JoinedByID(ctx, id)
		},
		func(ctx context.Context) (domain.Nomination, error) {
			rec, err := a.nomination.RecordByID(ctx, id)
			if err != nil {
				return domain.Nomination{}, err
			}
			list, err := a.resolve(ctx, []domain.NominationRecord{rec})
			if err != nil {
				return domain.Nomination{}, err
			}
			return list[0], nil
		},
	)
}

func (a *Adapter) ListNominationsForAssessment(ctx context.Context, participantAssessmentID string) ([]domain.Nomination, error) {
	return a.ListNominationsForAssessments(ctx, []string{participantAssessmentID})
}

func (a *Adapter) ListNominationsForAssessments(ctx context.Context, participantAssessmentIDs []string) ([]domain.Nomination, error) {
	if len(participantAssessmentIDs) == 0 {
		return []domain.Nomination{}, nil
	}
	return fetch.WithFallback(ctx, a.fetcher, "nomination.by_assessments",
		func(ctx context.Context) ([]domain.Nomination, error) {
			return a.nomination.JoinedByParticipantAssessments(ctx, participantAssessmentIDs)
		},
		func(ctx context.Context) ([]domain.Nomination, error) {
			recs, err := a.nomination.RecordsByParticipantAssessments(ctx, participantAssessmentIDs)
			if err != nil {
				return nil, err
			}
			return a.resolveSorted(ctx, recs, chronological)
		},
	)
}

func (a *Adapter) ListNominationsForReviewer(ctx context.Context, reviewerID string, isExternal bool) ([]domain.Nomination, error) {
	return fetch.WithFallback(ctx, a.fetcher, "nomination.by_reviewer",
		func(ctx context.Context) ([]domain.Nomination, error) {
			return a.nomination.JoinedByReviewer(ctx, reviewerID, isExternal)
		},
		func(ctx context.Context) ([]domain.Nomination, error) {
			recs, err := a.nomination.RecordsByReviewer(ctx, reviewerID, isExternal)
			if err != nil {
				return nil, err
			}
			return a.resolveSorted(ctx, recs, chronological)
		},
	)
}

func (a *Adapter) ListNominationsForExternalReviewers(ctx context.Context, externalIDs []string) ([]domain.Nomination, error) {
	if len(externalIDs) == 0 {
		return []domain.Nomination{}, nil
	}
	return fetch.WithFallback(ctx, a.fetcher, "nomination.by_external_reviewers",
		func(ctx context.Context) ([]domain.Nomination, error) {
			return a.nomination.JoinedByExternalReviewers(ctx, externalIDs)
		},
		func(ctx context.Context) ([]domain.Nomination, error) {
			recs, err := a.nomination.RecordsByExternalReviewers(ctx, externalIDs)
			if err != nil {
				return nil, err
			}
			return a.resolveSorted(ctx, recs, chronological)
		},
	)
}

func (a *Adapter) ListNominationsByNominator(ctx context.Context, nominatorID string) ([]domain.Nomination, error) {
	return fetch.WithFallback(ctx, a.fetcher, "nomination.by_nominator",
		func(ctx context.Context) ([]domain.Nomination, error) {
			return a.nomination.JoinedByNominator(ctx, nominatorID)
		},
		func(ctx context.Context) ([]domain.Nomination, error) {
			recs, err := a.nomination.RecordsByNominator(ctx, nominatorID)
			if err != nil {
				return nil, err
			}
			return a.resolveSorted(ctx, recs, chronological)
		},
	)
}

// GetUnifiedReviewStatus reads the authoritative review status of n: the
// external reviewer's for external nominations, the nomination's own
// otherwise. A missing external reviewer falls back to the nomination's
// stored copy.
func (a *Adapter) GetUnifiedReviewStatus(ctx context.Context, n domain.Nomination) (domain.ReviewStatus, error) {
	if !n.IsExternal || n.ExternalReviewerID == nil {
		return n.Review.Status(), nil
	}

	ext, err := fetch.Single(ctx, a.fetcher, "external.get", func(ctx context.Context) (*domain.ExternalReviewer, error) {
		return a.external.GetExternalById(ctx, *n.ExternalReviewerID)
	})
	if err == nil {
		return ext.ReviewStatus, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	a.log.Warn("store.GetUnifiedReviewStatus: external reviewer missing, using nomination copy",
		slog.String("nomination_id", n.ID), slog.String("external_reviewer_id", *n.ExternalReviewerID))

	rec, err := fetch.Single(ctx, a.fetcher, "nomination.record", func(ctx context.Context) (domain.NominationRecord, error) {
		return a.nomination.RecordByID(ctx, n.ID)
	})
	if err != nil {
		return "", err
	}
	return domain.ParseReviewStatus(rec.ReviewStatus), nil
}

// RecentNominations returns up to limit nominations of a client, newest
// first by creation time.
func (a *Adapter) RecentNominations(ctx context.Context, clientID string, limit int) ([]domain.Nomination, error) {
	return fetch.WithFallback(ctx, a.fetcher, "nomination.recent",
		func(ctx context.Context) ([]domain.Nomination, error) {
			return a.nomination.JoinedRecentForClient(ctx, clientID, limit)
		},
		func(ctx context.Context) ([]domain.Nomination, error) {
			recs, err := a.clientRecords(ctx, clientID)
			if err != nil {
				return nil, err
			}
			list, err := a.resolveSorted(ctx, recs, recentFirst)
			if err != nil {
				return nil, err
			}
			return truncate(list, limit), nil
		},
	)
}

// RecentReviewActivity returns up to limit accepted nominations of a client
// whose resolved review status is in_progress or completed, newest review
// activity first.
func (a *Adapter) RecentReviewActivity(ctx context.Context, clientID string, limit int) ([]domain.Nomination, error) {
	return fetch.WithFallback(ctx, a.fetcher, "nomination.review_activity",
		func(ctx context.Context) ([]domain.Nomination, error) {
			return a.nomination.JoinedRecentReviewActivity(ctx, clientID, limit)
		},
		func(ctx context.Context) ([]domain.Nomination, error) {
			recs, err := a.clientRecords(ctx, clientID)
			if err != nil {
				return nil, err
			}

			accepted := make([]domain.NominationRecord, 0, len(recs))
			for _, rec := range recs {
				if rec.RequestStatus == domain.RequestAccepted {
					accepted = append(accepted, rec)
				}
			}

			list, err := a.resolve(ctx, accepted)
			if err != nil {
				return nil, err
			}

			active := make([]domain.Nomination, 0, len(list))
			for _, n := range list {
				switch n.Review.Status() {
				case domain.ReviewInProgress, domain.ReviewCompleted:
					active = append(active, n)
				}
			}
			sortNominations(active, reviewRecent)
			return truncate(active, limit), nil
		},
	)
}

// RecentAssessmentProgress returns up to limit started or completed
// participant assessments of a client, most recently updated first.
func (a *Adapter) RecentAssessmentProgress(ctx context.Context, clientID string, limit int) ([]domain.ParticipantAssessment, error) {
	return fetch.WithFallback(ctx, a.fetcher, "assessment.recent_progress",
		func(ctx context.Context) ([]domain.ParticipantAssessment, error) {
			return a.assessment.JoinedRecentProgress(ctx, clientID, limit)
		},
		func(ctx context.Context) ([]domain.ParticipantAssessment, error) {
			pas, err := a.clientParticipantAssessments(ctx, clientID)
			if err != nil {
				return nil, err
			}

			progressed := make([]domain.ParticipantAssessment, 0, len(pas))
			for _, pa := range pas {
				if pa.Status == domain.AssessmentInProgress || pa.Status == domain.AssessmentCompleted {
					progressed = append(progressed, pa)
				}
			}
			sortParticipantAssessments(progressed)
			return truncate(progressed, limit), nil
		},
	)
}

// AssessmentContexts returns display names keyed by participant assessment id.
func (a *Adapter) AssessmentContexts(ctx context.Context, participantAssessmentIDs []string) (map[string]domain.AssessmentContext, error) {
	if len(participantAssessmentIDs) == 0 {
		return map[string]domain.AssessmentContext{}, nil
	}
	return fetch.WithFallback(ctx, a.fetcher, "assessment.contexts",
		func(ctx context.Context) (map[string]domain.AssessmentContext, error) {
			list, err := a.assessment.JoinedContexts(ctx, participantAssessmentIDs)
			if err != nil {
				return nil, err
			}
			out := make(map[string]domain.AssessmentContext, len(list))
			for _, c := range list {
				out[c.ParticipantAssessmentID] = c
			}
			return out, nil
		},
		func(ctx context.Context) (map[string]domain.AssessmentContext, error) {
			return a.mergeContexts(ctx, participantAssessmentIDs)
		},
	)
}

// CreateNomination stores rec and returns it as a resolved nomination.
func (a *Adapter) CreateNomination(ctx context.Context, rec domain.NominationRecord) (domain.Nomination, error) {
	_, err := fetch.Single(ctx, a.fetcher, "nomination.create", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.nomination.Create(ctx, rec)
	})
	if err != nil {
		return domain.Nomination{}, err
	}
	return a.GetNomination(ctx, rec.ID)
}

// DecideRequest applies decision only while the request is still pending.
func (a *Adapter) DecideRequest(ctx context.Context, id string, decision domain.RequestStatus, at time.Time) (domain.Nomination, error) {
	_, err := fetch.Single(ctx, a.fetcher, "nomination.decide", func(ctx context.Context) (domain.NominationRecord, error) {
		return a.nomination.Decide(ctx, id, decision, at)
	})
	if err != nil {
		return domain.Nomination{}, err
	}
	return a.GetNomination(ctx, id)
}

// SetReviewStatus writes to the source n's review status was resolved from,
// conditional on that source still holding from.
func (a *Adapter) SetReviewStatus(ctx context.Context, n domain.Nomination, from, to domain.ReviewStatus, at time.Time) (domain.Nomination, error) {
	_, err := fetch.Single(ctx, a.fetcher, "nomination.review_status", func(ctx context.Context) (domain.NominationRecord, error) {
		if n.IsExternal && !n.Review.Stale() && n.ExternalReviewerID != nil {
			return a.nomination.SetExternalReviewStatus(ctx, n.ID, *n.ExternalReviewerID, from, to, at)
		}
		return a.nomination.SetOwnReviewStatus(ctx, n.ID, from, to, at)
	})
	if err != nil {
		return domain.Nomination{}, err
	}
	return a.GetNomination(ctx, n.ID)
}

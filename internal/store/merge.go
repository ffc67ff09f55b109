package store

import (
	"context"
	"sort"

	"github.com/3eLLenKa/review-nominations/internal/domain"
)

type ordering int

const (
	chronological ordering = iota
	recentFirst
	reviewRecent
)

// resolve joins records with their external reviewers in memory. Records
// whose external reviewer is missing keep their own stale status.
func (a *Adapter) resolve(ctx context.Context, recs []domain.NominationRecord) ([]domain.Nomination, error) {
	ids := make([]string, 0)
	seen := make(map[string]bool)
	for _, rec := range recs {
		if !rec.IsExternal || rec.ExternalReviewerID == nil || seen[*rec.ExternalReviewerID] {
			continue
		}
		seen[*rec.ExternalReviewerID] = true
		ids = append(ids, *rec.ExternalReviewerID)
	}

	byID := make(map[string]*domain.ExternalReviewer, len(ids))
	if len(ids) > 0 {
		externals, err := a.external.ListExternalByIds(ctx, ids)
		if err != nil {
			return nil, err
		}
		for i := range externals {
			byID[externals[i].ID] = &externals[i]
		}
	}

	out := make([]domain.Nomination, 0, len(recs))
	for _, rec := range recs {
		var ext *domain.ExternalReviewer
		if rec.IsExternal && rec.ExternalReviewerID != nil {
			ext = byID[*rec.ExternalReviewerID]
		}
		out = append(out, domain.BuildNomination(rec, ext))
	}
	return out, nil
}

func (a *Adapter) resolveSorted(ctx context.Context, recs []domain.NominationRecord, o ordering) ([]domain.Nomination, error) {
	list, err := a.resolve(ctx, recs)
	if err != nil {
		return nil, err
	}
	sortNominations(list, o)
	return list, nil
}

func (a *Adapter) clientParticipantAssessments(ctx context.Context, clientID string) ([]domain.ParticipantAssessment, error) {
	cohorts, err := a.assessment.ListCohortsByClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if len(cohorts) == 0 {
		return []domain.ParticipantAssessment{}, nil
	}

	cohortIDs := make([]string, len(cohorts))
	for i, c := range cohorts {
		cohortIDs[i] = c.ID
	}

	assessments, err := a.assessment.ListAssessmentsByCohorts(ctx, cohortIDs)
	if err != nil {
		return nil, err
	}
	if len(assessments) == 0 {
		return []domain.ParticipantAssessment{}, nil
	}

	assessmentIDs := make([]string, len(assessments))
	for i, as := range assessments {
		assessmentIDs[i] = as.ID
	}

	return a.assessment.ListParticipantAssessmentsByAssessments(ctx, assessmentIDs)
}

func (a *Adapter) clientRecords(ctx context.Context, clientID string) ([]domain.NominationRecord, error) {
	pas, err := a.clientParticipantAssessments(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if len(pas) == 0 {
		return []domain.NominationRecord{}, nil
	}

	ids := make([]string, len(pas))
	for i, pa := range pas {
		ids[i] = pa.ID
	}
	return a.nomination.RecordsByParticipantAssessments(ctx, ids)
}

func (a *Adapter) mergeContexts(ctx context.Context, participantAssessmentIDs []string) (map[string]domain.AssessmentContext, error) {
	pas, err := a.assessment.ListParticipantAssessmentsByIds(ctx, participantAssessmentIDs)
	if err != nil {
		return nil, err
	}

	assessmentIDs := uniq(pas, func(pa domain.ParticipantAssessment) string { return pa.AssessmentID })
	assessments, err := a.assessment.ListAssessmentsByIds(ctx, assessmentIDs)
	if err != nil {
		return nil, err
	}
	assessmentByID := make(map[string]domain.Assessment, len(assessments))
	for _, as := range assessments {
		assessmentByID[as.ID] = as
	}

	cohortIDs := uniq(assessments, func(as domain.Assessment) string { return as.CohortID })
	cohorts, err := a.assessment.ListCohortsByIds(ctx, cohortIDs)
	if err != nil {
		return nil, err
	}
	cohortByID := make(map[string]domain.Cohort, len(cohorts))
	for _, c := range cohorts {
		cohortByID[c.ID] = c
	}

	// Inner-join semantics: a participant assessment without its assessment
	// or cohort is left out, exactly as the joined query drops it.
	out := make(map[string]domain.AssessmentContext, len(pas))
	for _, pa := range pas {
		as, ok := assessmentByID[pa.AssessmentID]
		if !ok {
			continue
		}
		c, ok := cohortByID[as.CohortID]
		if !ok {
			continue
		}
		out[pa.ID] = domain.AssessmentContext{
			ParticipantAssessmentID: pa.ID,
			ParticipantID:           pa.ParticipantID,
			AssessmentName:          as.Name,
			CohortName:              c.Name,
			ClientID:                c.ClientID,
		}
	}
	return out, nil
}

func sortNominations(list []domain.Nomination, o ordering) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch o {
		case recentFirst:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.ID > b.ID
		case reviewRecent:
			at, bt := a.ReviewActivityAt(), b.ReviewActivityAt()
			if !at.Equal(bt) {
				return at.After(bt)
			}
			return a.ID > b.ID
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		}
	})
}

func sortParticipantAssessments(list []domain.ParticipantAssessment) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID > b.ID
	})
}

func truncate[T any](list []T, limit int) []T {
	if limit >= 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}

func uniq[T any](items []T, key func(T) string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		k := key(it)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

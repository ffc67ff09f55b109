package store

import (
	"context"

	"github.com/3eLLenKa/review-nominations/internal/domain"
)

// PendingRequestsFor returns pending nominations addressed to a member or to
// any of the given external reviewer identities, oldest first.
func (a *Adapter) PendingRequestsFor(ctx context.Context, memberID string, externalIDs []string) ([]domain.Nomination, error) {
	out := make([]domain.Nomination, 0)

	if memberID != "" {
		internal, err := a.ListNominationsForReviewer(ctx, memberID, false)
		if err != nil {
			return nil, err
		}
		out = append(out, pending(internal)...)
	}

	external, err := a.ListNominationsForExternalReviewers(ctx, externalIDs)
	if err != nil {
		return nil, err
	}
	out = append(out, pending(external)...)

	sortNominations(out, chronological)
	return out, nil
}

// DecisionsOnNominationsBy returns the nominations a member created that have
// been accepted or rejected.
func (a *Adapter) DecisionsOnNominationsBy(ctx context.Context, nominatorID string) ([]domain.Nomination, error) {
	list, err := a.ListNominationsByNominator(ctx, nominatorID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Nomination, 0, len(list))
	for _, n := range list {
		if n.RequestStatus != domain.RequestPending {
			out = append(out, n)
		}
	}
	return out, nil
}

func pending(list []domain.Nomination) []domain.Nomination {
	out := make([]domain.Nomination, 0, len(list))
	for _, n := range list {
		if n.RequestStatus == domain.RequestPending {
			out = append(out, n)
		}
	}
	return out
}

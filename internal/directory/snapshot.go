package directory

import (
	"context"
	"log/slog"

	"github.com/3eLLenKa/review-nominations/internal/domain"
	"github.com/3eLLenKa/review-nominations/internal/fetch"
)

// Snapshot holds descriptors loaded in bulk for one feed or notification
// list, so each row does not cost a lookup.
type Snapshot struct {
	members  map[string]ReviewerDescriptor
	external map[string]ReviewerDescriptor
}

// Load fetches every member and external reviewer referenced by nominations,
// plus the extra member ids given. Failed bulk lookups leave the snapshot
// partially empty and the affected ids resolve to unknown descriptors.
func (r *Resolver) Load(ctx context.Context, nominations []domain.Nomination, memberIDs ...string) *Snapshot {
	s := &Snapshot{
		members:  make(map[string]ReviewerDescriptor),
		external: make(map[string]ReviewerDescriptor),
	}

	memberSet := make(map[string]bool)
	externalSet := make(map[string]bool)
	for _, id := range memberIDs {
		if id != "" {
			memberSet[id] = true
		}
	}
	for _, n := range nominations {
		if n.NominatedByID != "" {
			memberSet[n.NominatedByID] = true
		}
		ref := n.ReviewerRef()
		if ref == "" {
			continue
		}
		if n.IsExternal {
			externalSet[ref] = true
		} else {
			memberSet[ref] = true
		}
	}

	if len(memberSet) > 0 {
		members, err := fetch.Single(ctx, r.fetcher, "member.list", func(ctx context.Context) ([]domain.Member, error) {
			return r.members.ListMembersByIds(ctx, keys(memberSet))
		})
		if err != nil {
			r.log.Error("directory.Load: member lookup failed", slog.Int("ids", len(memberSet)), slog.Any("error", err))
		}
		for _, m := range members {
			s.members[m.ID] = memberDescriptor(m)
		}
	}

	if len(externalSet) > 0 {
		externals, err := fetch.Single(ctx, r.fetcher, "external.list", func(ctx context.Context) ([]domain.ExternalReviewer, error) {
			return r.external.ListExternalByIds(ctx, keys(externalSet))
		})
		if err != nil {
			r.log.Error("directory.Load: external reviewer lookup failed", slog.Int("ids", len(externalSet)), slog.Any("error", err))
		}
		for _, er := range externals {
			s.external[er.ID] = externalDescriptor(er)
		}
	}

	return s
}

func (s *Snapshot) Member(id string) ReviewerDescriptor {
	if d, ok := s.members[id]; ok {
		return d
	}
	return Unknown(id)
}

func (s *Snapshot) Reviewer(n domain.Nomination) ReviewerDescriptor {
	ref := n.ReviewerRef()
	if n.IsExternal {
		if d, ok := s.external[ref]; ok {
			return d
		}
		return Unknown(ref)
	}
	return s.Member(ref)
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

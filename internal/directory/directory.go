// Package directory turns member and external reviewer ids into display-safe
// descriptors. Lookups that fail resolve to an unknown descriptor; they are
// logged and never fail the caller.
package directory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/3eLLenKa/review-nominations/internal/domain"
	"github.com/3eLLenKa/review-nominations/internal/fetch"
)

type Kind string

const (
	KindInternal Kind = "internal"
	KindExternal Kind = "external"
	KindUnknown  Kind = "unknown"
)

const unknownName = "Unknown"

type ReviewerDescriptor struct {
	ID      string
	Name    string
	Surname string
	Email   string
	Kind    Kind
	Known   bool
}

// DisplayName prefers the full name, then the email.
func (d ReviewerDescriptor) DisplayName() string {
	full := strings.TrimSpace(d.Name + " " + d.Surname)
	switch {
	case full != "":
		return full
	case d.Email != "":
		return d.Email
	}
	return unknownName
}

func Unknown(id string) ReviewerDescriptor {
	return ReviewerDescriptor{ID: id, Kind: KindUnknown}
}

type MemberRepo interface {
	GetMemberById(ctx context.Context, id string) (*domain.Member, error)
	ListMembersByIds(ctx context.Context, ids []string) ([]domain.Member, error)
}

type ExternalRepo interface {
	GetExternalById(ctx context.Context, id string) (*domain.ExternalReviewer, error)
	ListExternalByIds(ctx context.Context, ids []string) ([]domain.ExternalReviewer, error)
	ListExternalByEmail(ctx context.Context, clientID, email string) ([]domain.ExternalReviewer, error)
	CreateExternal(ctx context.Context, er domain.ExternalReviewer) (domain.ExternalReviewer, error)
}

type Resolver struct {
	log      *slog.Logger
	fetcher  *fetch.Fetcher
	members  MemberRepo
	external ExternalRepo
}

func New(log *slog.Logger, fetcher *fetch.Fetcher, members MemberRepo, external ExternalRepo) *Resolver {
	return &Resolver{
		log:      log,
		fetcher:  fetcher,
		members:  members,
		external: external,
	}
}

func memberDescriptor(m domain.Member) ReviewerDescriptor {
	return ReviewerDescriptor{
		ID:      m.ID,
		Name:    m.Name,
		Surname: m.Surname,
		Email:   m.Email,
		Kind:    KindInternal,
		Known:   true,
	}
}

func externalDescriptor(er domain.ExternalReviewer) ReviewerDescriptor {
	return ReviewerDescriptor{
		ID:    er.ID,
		Name:  er.Name,
		Email: er.Email,
		Kind:  KindExternal,
		Known: true,
	}
}

// ResolveReviewer describes whoever n points at.
func (r *Resolver) ResolveReviewer(ctx context.Context, n domain.Nomination) ReviewerDescriptor {
	ref := n.ReviewerRef()
	if ref == "" {
		r.log.Warn("directory.ResolveReviewer: nomination has no reviewer reference", slog.String("nomination_id", n.ID))
		return Unknown(ref)
	}

	if !n.IsExternal {
		return r.DescribeMember(ctx, ref)
	}

	er, err := fetch.Single(ctx, r.fetcher, "external.get", func(ctx context.Context) (*domain.ExternalReviewer, error) {
		return r.external.GetExternalById(ctx, ref)
	})
	if err != nil {
		r.logLookup("directory.ResolveReviewer", ref, err)
		return Unknown(ref)
	}
	return externalDescriptor(*er)
}

// LookupMember returns the member or domain.ErrMemberNotFound.
func (r *Resolver) LookupMember(ctx context.Context, id string) (*domain.Member, error) {
	return fetch.Single(ctx, r.fetcher, "member.get", func(ctx context.Context) (*domain.Member, error) {
		return r.members.GetMemberById(ctx, id)
	})
}

// DescribeMember describes a member such as a nominator or a participant.
func (r *Resolver) DescribeMember(ctx context.Context, id string) ReviewerDescriptor {
	m, err := r.LookupMember(ctx, id)
	if err != nil {
		r.logLookup("directory.DescribeMember", id, err)
		return Unknown(id)
	}
	return memberDescriptor(*m)
}

// ResolveActorByEmail reports whether email is registered as an external
// reviewer of clientID. It returns nil when it is not and
// domain.ErrAmbiguousReviewerIdentity when several records match.
func (r *Resolver) ResolveActorByEmail(ctx context.Context, clientID, email string) (*domain.ExternalReviewer, error) {
	matches, err := r.listByEmail(ctx, clientID, email)
	if err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return &matches[0], nil
	}

	r.log.Warn("directory.ResolveActorByEmail: email matches several external reviewers",
		slog.String("client_id", clientID), slog.Int("matches", len(matches)))
	return nil, domain.ErrAmbiguousReviewerIdentity
}

// EnsureExternal returns the client's external reviewer for email, registering
// one when there is none. created reports whether a record was inserted.
func (r *Resolver) EnsureExternal(ctx context.Context, clientID, email, name string, now time.Time) (*domain.ExternalReviewer, bool, error) {
	existing, err := r.ResolveActorByEmail(ctx, clientID, email)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	er := domain.ExternalReviewer{
		ID:           uuid.NewString(),
		ClientID:     clientID,
		Email:        strings.TrimSpace(email),
		Name:         strings.TrimSpace(name),
		ReviewStatus: domain.ReviewNotStarted,
		CreatedAt:    now,
	}
	// A concurrent registration of the same email wins the insert; its row
	// comes back instead of ours.
	stored, err := fetch.Single(ctx, r.fetcher, "external.create", func(ctx context.Context) (domain.ExternalReviewer, error) {
		return r.external.CreateExternal(ctx, er)
	})
	if err != nil {
		return nil, false, err
	}

	created := stored.ID == er.ID
	if created {
		r.log.Info("directory.EnsureExternal: registered external reviewer",
			slog.String("client_id", clientID), slog.String("external_reviewer_id", er.ID))
	}
	return &stored, created, nil
}

// ExternalIdentities returns every external reviewer record registered for
// email, across all clients.
func (r *Resolver) ExternalIdentities(ctx context.Context, email string) ([]domain.ExternalReviewer, error) {
	if strings.TrimSpace(email) == "" {
		return []domain.ExternalReviewer{}, nil
	}
	return r.listByEmail(ctx, "", email)
}

func (r *Resolver) listByEmail(ctx context.Context, clientID, email string) ([]domain.ExternalReviewer, error) {
	return fetch.Single(ctx, r.fetcher, "external.by_email", func(ctx context.Context) ([]domain.ExternalReviewer, error) {
		return r.external.ListExternalByEmail(ctx, clientID, strings.TrimSpace(email))
	})
}

func (r *Resolver) logLookup(op, id string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		r.log.Info(op+": reference not found", slog.String("id", id))
		return
	}
	r.log.Error(op+": lookup failed", slog.String("id", id), slog.Any("error", err))
}

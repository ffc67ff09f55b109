package domain

import "time"

type ReviewStatus string

const (
	ReviewNotStarted ReviewStatus = "not_started"
	ReviewInProgress ReviewStatus = "in_progress"
	ReviewCompleted  ReviewStatus = "completed"
)

func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewNotStarted, ReviewInProgress, ReviewCompleted:
		return true
	}
	return false
}

func (s ReviewStatus) rank() int {
	switch s {
	case ReviewInProgress:
		return 1
	case ReviewCompleted:
		return 2
	}
	return 0
}

// Next reports whether to directly follows s in the review lifecycle.
func (s ReviewStatus) Next(to ReviewStatus) bool {
	return to.Valid() && to.rank() == s.rank()+1
}

// ParseReviewStatus treats a missing or unknown column value as not_started.
func ParseReviewStatus(raw *string) ReviewStatus {
	if raw == nil {
		return ReviewNotStarted
	}
	s := ReviewStatus(*raw)
	if !s.Valid() {
		return ReviewNotStarted
	}
	return s
}

type ReviewSourceKind string

const (
	SourceInternal ReviewSourceKind = "internal"
	SourceExternal ReviewSourceKind = "external"
)

// ReviewSource is where a nomination's review status lives: the nomination row
// for internal reviewers, the external reviewer row for external ones. It is
// resolved when the nomination is loaded.
type ReviewSource struct {
	kind      ReviewSourceKind
	status    ReviewStatus
	updatedAt *time.Time
	stale     bool
}

func InternalReviewSource(status ReviewStatus, updatedAt *time.Time) ReviewSource {
	return ReviewSource{kind: SourceInternal, status: orNotStarted(status), updatedAt: updatedAt}
}

func ExternalReviewSource(status ReviewStatus, updatedAt *time.Time) ReviewSource {
	return ReviewSource{kind: SourceExternal, status: orNotStarted(status), updatedAt: updatedAt}
}

// StaleExternalReviewSource is used when the external reviewer row is gone and
// only the nomination's own copy of the status is left.
func StaleExternalReviewSource(status ReviewStatus, updatedAt *time.Time) ReviewSource {
	return ReviewSource{kind: SourceExternal, status: orNotStarted(status), updatedAt: updatedAt, stale: true}
}

func (s ReviewSource) Kind() ReviewSourceKind { return s.kind }
func (s ReviewSource) Status() ReviewStatus   { return orNotStarted(s.status) }
func (s ReviewSource) UpdatedAt() *time.Time  { return s.updatedAt }
func (s ReviewSource) Stale() bool            { return s.stale }

func orNotStarted(s ReviewStatus) ReviewStatus {
	if s == "" {
		return ReviewNotStarted
	}
	return s
}

// Precedes reports whether s comes strictly before o in the review lifecycle.
func (s ReviewStatus) Precedes(o ReviewStatus) bool {
	return s.rank() < o.rank()
}

// Successor returns the status that directly follows s, if any.
func (s ReviewStatus) Successor() (ReviewStatus, bool) {
	switch s.rank() {
	case 0:
		return ReviewInProgress, true
	case 1:
		return ReviewCompleted, true
	}
	return "", false
}

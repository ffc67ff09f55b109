package domain

import (
	"fmt"
	"time"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestAccepted, RequestRejected:
		return true
	}
	return false
}

type AssessmentStatus string

const (
	AssessmentNotStarted AssessmentStatus = "not_started"
	AssessmentInProgress AssessmentStatus = "in_progress"
	AssessmentCompleted  AssessmentStatus = "completed"
)

type Member struct {
	ID       string
	ClientID string
	Name     string
	Surname  string
	Email    string
}

// ExternalReviewer is a reviewer without an account, identified by email
// within a client. Its ReviewStatus is authoritative for every external
// nomination that points at it.
type ExternalReviewer struct {
	ID              string
	ClientID        string
	Email           string
	Name            string
	ReviewStatus    ReviewStatus
	ReviewUpdatedAt *time.Time
	CreatedAt       time.Time
}

type Cohort struct {
	ID       string
	ClientID string
	Name     string
}

type Assessment struct {
	ID       string
	CohortID string
	Name     string
}

type ParticipantAssessment struct {
	ID            string
	AssessmentID  string
	ParticipantID string
	Status        AssessmentStatus
	StartedAt     *time.Time
	CompletedAt   *time.Time
	UpdatedAt     time.Time
}

// AssessmentContext carries the display names around a participant assessment.
type AssessmentContext struct {
	ParticipantAssessmentID string
	ParticipantID           string
	AssessmentName          string
	CohortName              string
	ClientID                string
}

// NominationRecord is the storage shape of a nomination row. The raw review
// columns are only meaningful together with the reviewer kind, so business
// code reads nominations through BuildNomination and never through a record.
type NominationRecord struct {
	ID                      string
	ParticipantAssessmentID string
	NominatedByID           string
	IsExternal              bool
	ReviewerID              *string
	ExternalReviewerID      *string
	RequestStatus           RequestStatus
	ReviewStatus            *string
	ReviewUpdatedAt         *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
	RespondedAt             *time.Time
	ReviewSubmittedAt       *time.Time
}

type Nomination struct {
	ID                      string
	ParticipantAssessmentID string
	NominatedByID           string
	IsExternal              bool
	ReviewerID              *string
	ExternalReviewerID      *string
	RequestStatus           RequestStatus
	Review                  ReviewSource
	CreatedAt               time.Time
	UpdatedAt               time.Time
	RespondedAt             *time.Time
	ReviewSubmittedAt       *time.Time
}

// BuildNomination resolves the review source of a record. ext is the external
// reviewer row for external nominations and may be nil when it could not be
// found, in which case the nomination's own column is used as a stale value.
func BuildNomination(rec NominationRecord, ext *ExternalReviewer) Nomination {
	n := Nomination{
		ID:                      rec.ID,
		ParticipantAssessmentID: rec.ParticipantAssessmentID,
		NominatedByID:           rec.NominatedByID,
		IsExternal:              rec.IsExternal,
		ReviewerID:              rec.ReviewerID,
		ExternalReviewerID:      rec.ExternalReviewerID,
		RequestStatus:           rec.RequestStatus,
		CreatedAt:               rec.CreatedAt,
		UpdatedAt:               rec.UpdatedAt,
		RespondedAt:             rec.RespondedAt,
		ReviewSubmittedAt:       rec.ReviewSubmittedAt,
	}

	own := ParseReviewStatus(rec.ReviewStatus)
	switch {
	case !rec.IsExternal:
		n.Review = InternalReviewSource(own, rec.ReviewUpdatedAt)
	case ext != nil:
		n.Review = ExternalReviewSource(ext.ReviewStatus, ext.ReviewUpdatedAt)
	default:
		n.Review = StaleExternalReviewSource(own, rec.ReviewUpdatedAt)
	}

	return n
}

// Validate checks that exactly one reviewer reference is set and that it
// agrees with IsExternal.
func (n Nomination) Validate() error {
	hasInternal := n.ReviewerID != nil && *n.ReviewerID != ""
	hasExternal := n.ExternalReviewerID != nil && *n.ExternalReviewerID != ""

	if hasInternal == hasExternal {
		return fmt.Errorf("%w: nomination %s must reference exactly one reviewer", ErrInvalidNomination, n.ID)
	}
	if n.IsExternal != hasExternal {
		return fmt.Errorf("%w: nomination %s reviewer reference disagrees with is_external", ErrInvalidNomination, n.ID)
	}
	if !n.RequestStatus.Valid() {
		return fmt.Errorf("%w: nomination %s has unknown request status %q", ErrInvalidNomination, n.ID, n.RequestStatus)
	}
	return nil
}

// ReviewerRef returns the id of whichever reviewer the nomination points at.
func (n Nomination) ReviewerRef() string {
	if n.IsExternal {
		if n.ExternalReviewerID != nil {
			return *n.ExternalReviewerID
		}
		return ""
	}
	if n.ReviewerID != nil {
		return *n.ReviewerID
	}
	return ""
}

// DecidedAt is when the reviewer answered the request, falling back to the
// last update of the row for data written before responded_at existed.
func (n Nomination) DecidedAt() time.Time {
	if n.RespondedAt != nil {
		return *n.RespondedAt
	}
	return n.UpdatedAt
}

// ReviewActivityAt is the last time the resolved review source changed.
func (n Nomination) ReviewActivityAt() time.Time {
	if at := n.Review.UpdatedAt(); at != nil {
		return *at
	}
	return n.UpdatedAt
}

type Watermark struct {
	UserID       string
	SessionStart time.Time
	LastChecked  *time.Time
}

// CountFrom is the lower bound for events that still count as unseen.
func (w Watermark) CountFrom() time.Time {
	if w.LastChecked != nil {
		return *w.LastChecked
	}
	return w.SessionStart
}

// Actor is the calling user as supplied by the identity boundary.
type Actor struct {
	ID    string
	Email string
}

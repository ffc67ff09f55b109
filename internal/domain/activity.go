package domain

import "time"

type ActivityKind string

const (
	KindNominationRequested ActivityKind = "nomination-requested"
	KindNominationAccepted  ActivityKind = "nomination-accepted"
	KindNominationRejected  ActivityKind = "nomination-rejected"
	KindAssessmentStarted   ActivityKind = "assessment-started"
	KindAssessmentCompleted ActivityKind = "assessment-completed"
	KindReviewStarted       ActivityKind = "review-started"
	KindReviewCompleted     ActivityKind = "review-completed"
)

// ActivityEvent is built on demand from nomination and assessment rows and is
// never stored.
type ActivityEvent struct {
	ID             string
	Kind           ActivityKind
	ActorName      string
	ActorEmail     string
	DetailText     string
	Timestamp      time.Time
	CohortName     *string
	AssessmentName *string
}

type NotificationKind string

const (
	NotificationReviewRequested NotificationKind = "review-requested"
	NotificationRequestAccepted NotificationKind = "request-accepted"
	NotificationRequestRejected NotificationKind = "request-rejected"
)

type Notification struct {
	NominationID string
	Kind         NotificationKind
	Message      string
	Timestamp    time.Time
	Unseen       bool
}

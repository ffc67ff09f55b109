package handlers

import (
	"time"

	"github.com/3eLLenKa/review-nominations/internal/activity"
	"github.com/3eLLenKa/review-nominations/internal/domain"
	"github.com/3eLLenKa/review-nominations/internal/service"
)

type ErrorCode string

const (
	ErrorCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrorCodeInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrorCodeAmbiguousReviewer  ErrorCode = "AMBIGUOUS_REVIEWER"
	ErrorCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	ErrorCodeInvalidNomination  ErrorCode = "INVALID_NOMINATION"
	ErrorCodeBadRequest         ErrorCode = "BAD_REQUEST"
	ErrorCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrorCodeInternal           ErrorCode = "INTERNAL"
)

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

type NominateRequest struct {
	ParticipantAssessmentID string `json:"participant_assessment_id" binding:"required"`
	ReviewerID              string `json:"reviewer_id"`
	ExternalEmail           string `json:"external_email"`
	ExternalName            string `json:"external_name"`
}

type DecisionRequest struct {
	Decision string `json:"decision" binding:"required,oneof=accepted rejected"`
}

type ProgressRequest struct {
	Status string `json:"status" binding:"required,oneof=in_progress completed"`
}

type AnswersRequest struct {
	Answered *int `json:"answered" binding:"required,min=0"`
	Total    *int `json:"total" binding:"required,min=0"`
}

type Reviewer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Kind  string `json:"kind"`
}

type Nomination struct {
	ID                      string     `json:"id"`
	ParticipantAssessmentID string     `json:"participant_assessment_id"`
	NominatedByID           string     `json:"nominated_by_id"`
	IsExternal              bool       `json:"is_external"`
	ReviewerID              *string    `json:"reviewer_id,omitempty"`
	ExternalReviewerID      *string    `json:"external_reviewer_id,omitempty"`
	Reviewer                Reviewer   `json:"reviewer"`
	RequestStatus           string     `json:"request_status"`
	ReviewStatus            string     `json:"review_status"`
	ReviewSource            string     `json:"review_source"`
	ReviewSourceStale       bool       `json:"review_source_stale,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
	RespondedAt             *time.Time `json:"responded_at,omitempty"`
	ReviewSubmittedAt       *time.Time `json:"review_submitted_at,omitempty"`
	StateChangedAt          time.Time  `json:"state_changed_at"`
}

type ActivityEvent struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	ActorName      string    `json:"actor_name"`
	ActorEmail     string    `json:"actor_email,omitempty"`
	DetailText     string    `json:"detail_text"`
	Timestamp      time.Time `json:"timestamp"`
	CohortName     *string   `json:"cohort_name,omitempty"`
	AssessmentName *string   `json:"assessment_name,omitempty"`
}

type FeedError struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

type ActivityResponse struct {
	Events []ActivityEvent `json:"events"`
	Errors []FeedError     `json:"errors"`
}

type Notification struct {
	NominationID string    `json:"nomination_id"`
	Kind         string    `json:"kind"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	Unseen       bool      `json:"unseen"`
}

type NotificationsResponse struct {
	Notifications []Notification `json:"notifications"`
	Errors        []FeedError    `json:"errors"`
}

type UnseenCountResponse struct {
	Unseen int         `json:"unseen"`
	Errors []FeedError `json:"errors"`
}

type Watermark struct {
	SessionStart time.Time  `json:"session_start"`
	LastChecked  *time.Time `json:"last_checked"`
}

func toNomination(v *service.NominationView) Nomination {
	n := v.Nomination
	return Nomination{
		ID:                      n.ID,
		ParticipantAssessmentID: n.ParticipantAssessmentID,
		NominatedByID:           n.NominatedByID,
		IsExternal:              n.IsExternal,
		ReviewerID:              n.ReviewerID,
		ExternalReviewerID:      n.ExternalReviewerID,
		Reviewer: Reviewer{
			ID:    v.Reviewer.ID,
			Name:  v.Reviewer.DisplayName(),
			Email: v.Reviewer.Email,
			Kind:  string(v.Reviewer.Kind),
		},
		RequestStatus:     string(v.State.RequestStatus),
		ReviewStatus:      string(v.State.ReviewStatus),
		ReviewSource:      string(v.State.Source),
		ReviewSourceStale: v.State.Stale,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
		RespondedAt:       n.RespondedAt,
		ReviewSubmittedAt: n.ReviewSubmittedAt,
		StateChangedAt:    v.State.ChangedAt,
	}
}

func toActivity(feed activity.Feed) ActivityResponse {
	resp := ActivityResponse{
		Events: make([]ActivityEvent, 0, len(feed.Events)),
		Errors: make([]FeedError, 0, len(feed.Errors)),
	}
	for _, ev := range feed.Events {
		resp.Events = append(resp.Events, ActivityEvent{
			ID:             ev.ID,
			Kind:           string(ev.Kind),
			ActorName:      ev.ActorName,
			ActorEmail:     ev.ActorEmail,
			DetailText:     ev.DetailText,
			Timestamp:      ev.Timestamp,
			CohortName:     ev.CohortName,
			AssessmentName: ev.AssessmentName,
		})
	}
	for _, e := range feed.Errors {
		resp.Errors = append(resp.Errors, FeedError{Source: string(e.Source), Message: e.Err.Error()})
	}
	return resp
}

func toNotifications(list []domain.Notification) []Notification {
	out := make([]Notification, 0, len(list))
	for _, n := range list {
		out = append(out, Notification{
			NominationID: n.NominationID,
			Kind:         string(n.Kind),
			Message:      n.Message,
			Timestamp:    n.Timestamp,
			Unseen:       n.Unseen,
		})
	}
	return out
}

func toWatermark(w domain.Watermark) Watermark {
	return Watermark{SessionStart: w.SessionStart, LastChecked: w.LastChecked}
}

func errorResponse(code ErrorCode, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorBody{Code: code, Message: message}}
}

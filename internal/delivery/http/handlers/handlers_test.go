package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3eLLenKa/review-nominations/internal/activity"
	"github.com/3eLLenKa/review-nominations/internal/directory"
	"github.com/3eLLenKa/review-nominations/internal/delivery/http/handlers"
	"github.com/3eLLenKa/review-nominations/internal/domain"
	"github.com/3eLLenKa/review-nominations/internal/reconcile"
	"github.com/3eLLenKa/review-nominations/internal/service"
	"github.com/3eLLenKa/review-nominations/internal/testutil"
)

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

type fakeService struct {
	actor domain.Actor
	err   error

	nominateIn service.NominateInput
	decision   domain.RequestStatus
	progress   domain.ReviewStatus
	answered   int
	total      int
	limit      int
	feed       activity.Feed
	unseen     int
}

func (f *fakeService) view(id string) *service.NominationView {
	reviewer := "u2"
	return &service.NominationView{
		Nomination: domain.Nomination{ID: id, ParticipantAssessmentID: "pa1", NominatedByID: "u1",
			ReviewerID: &reviewer, RequestStatus: domain.RequestPending, CreatedAt: t0, UpdatedAt: t0},
		Reviewer: directory.ReviewerDescriptor{ID: "u2", Name: "Alan", Surname: "Turing", Kind: directory.KindInternal, Known: true},
		State:    reconcile.ReviewState{RequestStatus: domain.RequestPending, ReviewStatus: domain.ReviewNotStarted, Source: domain.SourceInternal, ChangedAt: t0},
	}
}

func (f *fakeService) Nominate(ctx context.Context, actor domain.Actor, in service.NominateInput) (*service.NominationView, error) {
	f.actor, f.nominateIn = actor, in
	if f.err != nil {
		return nil, f.err
	}
	return f.view("n1"), nil
}

func (f *fakeService) DecideNomination(ctx context.Context, actor domain.Actor, id string, decision domain.RequestStatus) (*service.NominationView, error) {
	f.actor, f.decision = actor, decision
	if f.err != nil {
		return nil, f.err
	}
	return f.view(id), nil
}

func (f *fakeService) ProgressReview(ctx context.Context, actor domain.Actor, id string, status domain.ReviewStatus) (*service.NominationView, error) {
	f.actor, f.progress = actor, status
	if f.err != nil {
		return nil, f.err
	}
	return f.view(id), nil
}

func (f *fakeService) ReconcileAnswers(ctx context.Context, actor domain.Actor, id string, answered, total int) (*service.NominationView, error) {
	f.actor, f.answered, f.total = actor, answered, total
	if f.err != nil {
		return nil, f.err
	}
	return f.view(id), nil
}

func (f *fakeService) ReviewState(ctx context.Context, id string) (*service.NominationView, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.view(id), nil
}

func (f *fakeService) ListAssessmentNominations(ctx context.Context, participantAssessmentID string) ([]service.NominationView, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []service.NominationView{*f.view("n1"), *f.view("n2")}, nil
}

func (f *fakeService) ListActivity(ctx context.Context, clientID string, limit int) activity.Feed {
	f.limit = limit
	return f.feed
}

func (f *fakeService) GetUnseenCount(ctx context.Context, actor domain.Actor) (int, error) {
	f.actor = actor
	return f.unseen, f.err
}

func (f *fakeService) MarkNotificationsChecked(ctx context.Context, actor domain.Actor) (domain.Watermark, error) {
	f.actor = actor
	return domain.Watermark{UserID: actor.ID, SessionStart: t0, LastChecked: &t0}, f.err
}

func (f *fakeService) StartSession(ctx context.Context, actor domain.Actor) (domain.Watermark, error) {
	f.actor = actor
	return domain.Watermark{UserID: actor.ID, SessionStart: t0}, f.err
}

func (f *fakeService) ListNotifications(ctx context.Context, actor domain.Actor) ([]domain.Notification, error) {
	f.actor = actor
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Notification{{NominationID: "n1", Kind: domain.NotificationReviewRequested, Message: "Ada Lovelace asked you to review an assessment", Timestamp: t0, Unseen: true}}, nil
}

func newRouter(svc handlers.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers.NewHandlers(testutil.Discard(), svc).Register(r)
	return r
}

func do(r http.Handler, method, path, body string, identified bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if identified {
		req.Header.Set(handlers.HeaderUserID, "u1")
		req.Header.Set(handlers.HeaderUserEmail, "ada@example.com")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) handlers.ErrorResponse {
	t.Helper()
	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestMissingIdentity(t *testing.T) {
	r := newRouter(&fakeService{})

	w := do(r, http.MethodGet, "/notifications/unseen-count", "", false)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, handlers.ErrorCodeUnauthorized, decodeError(t, w).Error.Code)
}

func TestPostNomination(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc)

	w := do(r, http.MethodPost, "/nominations",
		`{"participant_assessment_id":"pa1","external_email":"bob@partner.org","external_name":"Bob"}`, true)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, domain.Actor{ID: "u1", Email: "ada@example.com"}, svc.actor)
	assert.Equal(t, service.NominateInput{ParticipantAssessmentID: "pa1", ExternalEmail: "bob@partner.org", ExternalName: "Bob"}, svc.nominateIn)

	var resp struct {
		Nomination handlers.Nomination `json:"nomination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "n1", resp.Nomination.ID)
	assert.Equal(t, "Alan Turing", resp.Nomination.Reviewer.Name)
	assert.Equal(t, "pending", resp.Nomination.RequestStatus)
	assert.Equal(t, "not_started", resp.Nomination.ReviewStatus)
	assert.Equal(t, "internal", resp.Nomination.ReviewSource)
}

func TestPostNominationBadBody(t *testing.T) {
	r := newRouter(&fakeService{})

	w := do(r, http.MethodPost, "/nominations", `{"reviewer_id":"u2"}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, handlers.ErrorCodeBadRequest, decodeError(t, w).Error.Code)

	w = do(r, http.MethodPost, "/nominations", `{`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostDecision(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc)

	w := do(r, http.MethodPost, "/nominations/n1/decision", `{"decision":"accepted"}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.RequestAccepted, svc.decision)

	w = do(r, http.MethodPost, "/nominations/n1/decision", `{"decision":"pending"}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostProgressAndAnswers(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc)

	w := do(r, http.MethodPost, "/nominations/n1/progress", `{"status":"completed"}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.ReviewCompleted, svc.progress)

	w = do(r, http.MethodPost, "/nominations/n1/progress", `{"status":"not_started"}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/nominations/n1/answers", `{"answered":0,"total":12}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, svc.answered)
	assert.Equal(t, 12, svc.total)

	w = do(r, http.MethodPost, "/nominations/n1/answers", `{"answered":3}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
		body handlers.ErrorCode
	}{
		{domain.ErrNominationNotFound, http.StatusNotFound, handlers.ErrorCodeNotFound},
		{fmt.Errorf("%w: review is completed", domain.ErrInvalidTransition), http.StatusConflict, handlers.ErrorCodeInvalidTransition},
		{domain.ErrAmbiguousReviewerIdentity, http.StatusUnprocessableEntity, handlers.ErrorCodeAmbiguousReviewer},
		{domain.ErrInvalidNomination, http.StatusBadRequest, handlers.ErrorCodeInvalidNomination},
		{fmt.Errorf("%w: nomination.get", domain.ErrStorageUnavailable), http.StatusServiceUnavailable, handlers.ErrorCodeStorageUnavailable},
		{errors.New("boom"), http.StatusInternalServerError, handlers.ErrorCodeInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.body), func(t *testing.T) {
			r := newRouter(&fakeService{err: tt.err})

			w := do(r, http.MethodGet, "/nominations/n1/state", "", true)

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.body, decodeError(t, w).Error.Code)
		})
	}
}

func TestGetAssessmentNominations(t *testing.T) {
	r := newRouter(&fakeService{})

	w := do(r, http.MethodGet, "/assessments/pa1/nominations", "", true)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Nominations []handlers.Nomination `json:"nominations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Nominations, 2)
}

func TestGetActivity(t *testing.T) {
	cohort := "Spring"
	svc := &fakeService{feed: activity.Feed{
		Events: []domain.ActivityEvent{{ID: "nomination-requested:n1", Kind: domain.KindNominationRequested,
			ActorName: "Ada Lovelace", DetailText: "Ada Lovelace requested a review", Timestamp: t0, CohortName: &cohort}},
		Errors: []activity.SourceError{{Source: activity.SourceAssessments, Err: domain.ErrStorageUnavailable}},
	}}
	r := newRouter(svc)

	w := do(r, http.MethodGet, "/clients/c1/activity?limit=5", "", true)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, svc.limit)

	var resp handlers.ActivityResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "nomination-requested", resp.Events[0].Kind)
	require.NotNil(t, resp.Events[0].CohortName)
	assert.Nil(t, resp.Events[0].AssessmentName)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "assessments", resp.Errors[0].Source)
}

func TestGetActivityLimit(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc)

	w := do(r, http.MethodGet, "/clients/c1/activity", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, svc.limit)

	w = do(r, http.MethodGet, "/clients/c1/activity?limit=many", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/clients/c1/activity?limit=-1", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotificationRoutes(t *testing.T) {
	svc := &fakeService{unseen: 3}
	r := newRouter(svc)

	w := do(r, http.MethodGet, "/notifications/unseen-count", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"unseen":3,"errors":[]}`, w.Body.String())

	w = do(r, http.MethodGet, "/notifications", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var list handlers.NotificationsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Notifications, 1)
	assert.True(t, list.Notifications[0].Unseen)
	assert.Empty(t, list.Errors)

	w = do(r, http.MethodPost, "/notifications/checked", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var checked struct {
		Watermark handlers.Watermark `json:"watermark"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &checked))
	require.NotNil(t, checked.Watermark.LastChecked)

	w = do(r, http.MethodPost, "/sessions", "", true)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "u1", svc.actor.ID)
}

func TestNotificationReadsDegrade(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{"storage down", fmt.Errorf("unseen: %w", domain.ErrStorageUnavailable), "storage unavailable, retry later"},
		{"unexpected", errors.New("boom"), "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(&fakeService{unseen: 3, err: tt.err})

			w := do(r, http.MethodGet, "/notifications/unseen-count", "", true)
			require.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, `{"unseen":0,"errors":[{"source":"notifications","message":"`+tt.message+`"}]}`, w.Body.String())

			w = do(r, http.MethodGet, "/notifications", "", true)
			require.Equal(t, http.StatusOK, w.Code)
			var list handlers.NotificationsResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
			assert.Empty(t, list.Notifications)
			require.Len(t, list.Errors, 1)
			assert.Equal(t, tt.message, list.Errors[0].Message)
		})
	}
}

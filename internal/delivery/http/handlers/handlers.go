package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oapi-codegen/runtime"

	"github.com/3eLLenKa/review-nominations/internal/activity"
	"github.com/3eLLenKa/review-nominations/internal/domain"
	"github.com/3eLLenKa/review-nominations/internal/service"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"

	actorKey = "actor"

	sourceNotifications = "notifications"
)

type Service interface {
	Nominate(ctx context.Context, actor domain.Actor, in service.NominateInput) (*service.NominationView, error)
	DecideNomination(ctx context.Context, actor domain.Actor, id string, decision domain.RequestStatus) (*service.NominationView, error)
	ProgressReview(ctx context.Context, actor domain.Actor, id string, status domain.ReviewStatus) (*service.NominationView, error)
	ReconcileAnswers(ctx context.Context, actor domain.Actor, id string, answered, total int) (*service.NominationView, error)
	ReviewState(ctx context.Context, id string) (*service.NominationView, error)
	ListAssessmentNominations(ctx context.Context, participantAssessmentID string) ([]service.NominationView, error)
	ListActivity(ctx context.Context, clientID string, limit int) activity.Feed
	GetUnseenCount(ctx context.Context, actor domain.Actor) (int, error)
	MarkNotificationsChecked(ctx context.Context, actor domain.Actor) (domain.Watermark, error)
	StartSession(ctx context.Context, actor domain.Actor) (domain.Watermark, error)
	ListNotifications(ctx context.Context, actor domain.Actor) ([]domain.Notification, error)
}

type Handlers struct {
	log *slog.Logger
	svc Service
}

func NewHandlers(log *slog.Logger, svc Service) *Handlers {
	return &Handlers{log: log, svc: svc}
}

// Register mounts every route that needs a caller identity on r.
func (h *Handlers) Register(r gin.IRouter) {
	g := r.Group("/", Identity())

	g.POST("/nominations", h.PostNomination)
	g.POST("/nominations/:id/decision", h.PostDecision)
	g.POST("/nominations/:id/progress", h.PostProgress)
	g.POST("/nominations/:id/answers", h.PostAnswers)
	g.GET("/nominations/:id/state", h.GetState)
	g.GET("/assessments/:id/nominations", h.GetAssessmentNominations)
	g.GET("/clients/:id/activity", h.GetActivity)

	g.GET("/notifications", h.GetNotifications)
	g.GET("/notifications/unseen-count", h.GetUnseenCount)
	g.POST("/notifications/checked", h.PostNotificationsChecked)
	g.POST("/sessions", h.PostSession)
}

// Identity reads the caller supplied by the gateway in front of the service.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderUserID)
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(ErrorCodeUnauthorized, "missing caller identity"))
			return
		}
		c.Set(actorKey, domain.Actor{ID: id, Email: c.GetHeader(HeaderUserEmail)})
		c.Next()
	}
}

func actor(c *gin.Context) domain.Actor {
	a, _ := c.MustGet(actorKey).(domain.Actor)
	return a
}

func (h *Handlers) PostNomination(c *gin.Context) {
	var req NominateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(ErrorCodeBadRequest, err.Error()))
		return
	}

	v, err := h.svc.Nominate(c.Request.Context(), actor(c), service.NominateInput{
		ParticipantAssessmentID: req.ParticipantAssessmentID,
		ReviewerID:              req.ReviewerID,
		ExternalEmail:           req.ExternalEmail,
		ExternalName:            req.ExternalName,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"nomination": toNomination(v)})
}

func (h *Handlers) PostDecision(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(ErrorCodeBadRequest, err.Error()))
		return
	}

	v, err := h.svc.DecideNomination(c.Request.Context(), actor(c), c.Param("id"), domain.RequestStatus(req.Decision))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nomination": toNomination(v)})
}

func (h *Handlers) PostProgress(c *gin.Context) {
	var req ProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(ErrorCodeBadRequest, err.Error()))
		return
	}

	v, err := h.svc.ProgressReview(c.Request.Context(), actor(c), c.Param("id"), domain.ReviewStatus(req.Status))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nomination": toNomination(v)})
}

func (h *Handlers) PostAnswers(c *gin.Context) {
	var req AnswersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(ErrorCodeBadRequest, err.Error()))
		return
	}

	v, err := h.svc.ReconcileAnswers(c.Request.Context(), actor(c), c.Param("id"), *req.Answered, *req.Total)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nomination": toNomination(v)})
}

func (h *Handlers) GetState(c *gin.Context) {
	v, err := h.svc.ReviewState(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nomination": toNomination(v)})
}

func (h *Handlers) GetAssessmentNominations(c *gin.Context) {
	list, err := h.svc.ListAssessmentNominations(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	out := make([]Nomination, 0, len(list))
	for i := range list {
		out = append(out, toNomination(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{"nominations": out})
}

func (h *Handlers) GetActivity(c *gin.Context) {
	var limit int
	if err := runtime.BindQueryParameter("form", true, false, "limit", c.Request.URL.Query(), &limit); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(ErrorCodeBadRequest, "invalid limit: "+err.Error()))
		return
	}
	if limit < 0 {
		c.JSON(http.StatusBadRequest, errorResponse(ErrorCodeBadRequest, "limit must not be negative"))
		return
	}

	feed := h.svc.ListActivity(c.Request.Context(), c.Param("id"), limit)
	c.JSON(http.StatusOK, toActivity(feed))
}

// GetNotifications and GetUnseenCount answer 200 with an empty result and
// the error attached when storage fails, like the activity feed.
func (h *Handlers) GetNotifications(c *gin.Context) {
	resp := NotificationsResponse{Notifications: []Notification{}, Errors: []FeedError{}}

	list, err := h.svc.ListNotifications(c.Request.Context(), actor(c))
	if err != nil {
		resp.Errors = append(resp.Errors, h.degraded(c, err))
	} else {
		resp.Notifications = toNotifications(list)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) GetUnseenCount(c *gin.Context) {
	resp := UnseenCountResponse{Errors: []FeedError{}}

	count, err := h.svc.GetUnseenCount(c.Request.Context(), actor(c))
	if err != nil {
		resp.Errors = append(resp.Errors, h.degraded(c, err))
	} else {
		resp.Unseen = count
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) PostNotificationsChecked(c *gin.Context) {
	w, err := h.svc.MarkNotificationsChecked(c.Request.Context(), actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"watermark": toWatermark(w)})
}

func (h *Handlers) PostSession(c *gin.Context) {
	w, err := h.svc.StartSession(c.Request.Context(), actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"watermark": toWatermark(w)})
}

func (h *Handlers) degraded(c *gin.Context, err error) FeedError {
	h.log.Warn("handlers: serving empty notifications", slog.String("path", c.FullPath()), slog.Any("error", err))
	if errors.Is(err, domain.ErrStorageUnavailable) {
		return FeedError{Source: sourceNotifications, Message: "storage unavailable, retry later"}
	}
	return FeedError{Source: sourceNotifications, Message: "internal error"}
}

func (h *Handlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(ErrorCodeNotFound, err.Error()))
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, errorResponse(ErrorCodeInvalidTransition, err.Error()))
	case errors.Is(err, domain.ErrAmbiguousReviewerIdentity):
		c.JSON(http.StatusUnprocessableEntity, errorResponse(ErrorCodeAmbiguousReviewer, err.Error()))
	case errors.Is(err, domain.ErrInvalidNomination):
		c.JSON(http.StatusBadRequest, errorResponse(ErrorCodeInvalidNomination, err.Error()))
	case errors.Is(err, domain.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, errorResponse(ErrorCodeStorageUnavailable, "storage unavailable, retry later"))
	default:
		h.log.Error("handlers: unexpected error", slog.String("path", c.FullPath()), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, errorResponse(ErrorCodeInternal, "internal error"))
	}
}

package controller

import (
	"errors"
	"net/http"
	"tutor_backend/internal/model"
	"tutor_backend/internal/service"
	"tutor_backend/internal/util"
	"tutor_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SessionController struct {
	SessionService     *service.SessionService
	TurnService        *service.TurnService
	AchievementService *service.AchievementService
}

func NewSessionController(
	sessionService *service.SessionService,
	turnService *service.TurnService,
	achievementService *service.AchievementService,
) *SessionController {
	return &SessionController{
		SessionService:     sessionService,
		TurnService:        turnService,
		AchievementService: achievementService,
	}
}

type StartSessionRequest struct {
	Type               string `json:"type"`
	PlannedDurationMin *int   `json:"plannedDurationMin"`
}

type TurnRequest struct {
	Message string `json:"message" binding:"required"`
}

type CompleteOnboardingRequest struct {
	PersonalContext  model.JSONMap `json:"personalContext"`
	TutorPreferences model.JSONMap `json:"tutorPreferences"`
}

// Start opens (or resumes) a session and streams the tutor's opening
// turn over SSE. A conflicting active session is a plain 409 before any
// streaming starts.
func (c *SessionController) Start(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req StartSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if req.Type == "" {
		req.Type = "medium"
	}

	result, err := c.SessionService.Start(ctx.Request.Context(), claims.UserID, req.Type, req.PlannedDurationMin)
	if err != nil {
		var conflict *util.SessionConflictError
		if errors.As(err, &conflict) {
			util.Conflict(ctx, gin.H{"activeSessionId": conflict.ActiveSessionID}, "an active session already exists")
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	sseHeaders(ctx)
	ctx.SSEvent("session_created", gin.H{
		"session": result.Session,
		"resumed": result.Resumed,
	})
	ctx.Writer.Flush()

	// The opening turn has no user message: the directive alone drives
	// the tutor's greeting.
	c.streamTurn(ctx, result.Session, claims.UserID, "")
}

// Turn runs one conversation turn over SSE.
func (c *SessionController) Turn(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req TurnRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	session, err := c.SessionService.Get(ctx.Param("id"), claims.UserID)
	if err != nil {
		util.NotFound(ctx)
		return
	}
	if session.State != model.SessionActive {
		util.Error(ctx, http.StatusConflict, "session is not active")
		return
	}

	sseHeaders(ctx)
	c.streamTurn(ctx, session, claims.UserID, req.Message)
}

func (c *SessionController) streamTurn(ctx *gin.Context, session *model.Session, userID uint, message string) {
	for ev := range c.TurnService.ExecuteTurn(ctx.Request.Context(), session.ID, userID, message) {
		ctx.SSEvent(ev.Event, ev.Data)
		ctx.Writer.Flush()
	}

	if session.Orchestrator.Resumed {
		if err := c.SessionService.ClearResumedFlag(session.ID); err != nil {
			logger.Log.Warn("Could not clear resumed flag",
				zap.String("session_id", session.ID), zap.Error(err))
		}
	}
}

// CompleteOnboarding finalizes an onboarding session: profile saved,
// session closed, node states initialized from the suggested starting
// point.
func (c *SessionController) CompleteOnboarding(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req CompleteOnboardingRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.SessionService.CompleteOnboarding(
		ctx.Param("id"), claims.UserID, req.PersonalContext, req.TutorPreferences)
	if err != nil {
		c.sessionError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

func (c *SessionController) Suspend(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	session, err := c.SessionService.Suspend(ctx.Param("id"), claims.UserID)
	if err != nil {
		c.sessionError(ctx, err)
		return
	}
	util.Success(ctx, session)
}

func (c *SessionController) Terminate(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	session, err := c.SessionService.Terminate(ctx.Param("id"), claims.UserID)
	if err != nil {
		c.sessionError(ctx, err)
		return
	}

	// Gamification is best-effort at session close as well.
	c.AchievementService.RefreshDailyStats(claims.UserID)
	unlocked := c.AchievementService.CheckAchievements(claims.UserID)

	util.Success(ctx, gin.H{
		"session":         session,
		"newAchievements": unlocked,
	})
}

func (c *SessionController) Get(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	session, err := c.SessionService.Get(ctx.Param("id"), claims.UserID)
	if err != nil {
		util.NotFound(ctx)
		return
	}
	util.Success(ctx, session)
}

func (c *SessionController) List(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	page := util.MustParseInt(ctx.DefaultQuery("page", "1"))
	limit := util.MustParseInt(ctx.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	sessions, total, err := c.SessionService.List(claims.UserID, page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{
		List:  sessions,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

func (c *SessionController) Turns(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	turns, err := c.SessionService.Turns(ctx.Param("id"), claims.UserID)
	if err != nil {
		util.NotFound(ctx)
		return
	}
	util.Success(ctx, turns)
}

func (c *SessionController) sessionError(ctx *gin.Context, err error) {
	var invalid *util.InvalidStateError
	switch {
	case errors.Is(err, util.ErrSessionNotFound):
		util.NotFound(ctx)
	case errors.As(err, &invalid):
		util.Error(ctx, http.StatusConflict, invalid.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}

func sseHeaders(ctx *gin.Context) {
	ctx.Header("Content-Type", "text/event-stream")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")
	ctx.Header("Transfer-Encoding", "chunked")
}

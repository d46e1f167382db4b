package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/billsync/backend/internal/domain/billing"
	"github.com/billsync/backend/internal/infrastructure/scheduler"
	"github.com/billsync/backend/internal/interfaces/http/dto"
)

// SyncTrigger is the part of the scheduler the sync endpoints need.
type SyncTrigger interface {
	TriggerNow(ctx context.Context) (*billing.RunReport, error)
	TriggerAsync() error
	History() []scheduler.RunRecord
}

// SyncHandler exposes the migration trigger and its run history.
type SyncHandler struct {
	trigger SyncTrigger
	logger  *zap.Logger
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(trigger SyncTrigger, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{trigger: trigger, logger: logger}
}

// RegisterRoutes registers the sync routes
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sync := rg.Group("/sync")
	{
		sync.POST("/trigger", h.Trigger)
		sync.GET("/runs", h.Runs)
	}
}

// TriggerRequest controls how a manual run is executed.
type TriggerRequest struct {
	// Wait makes the request block until the run finishes and return its
	// report. Runs can take minutes; the default is fire-and-forget.
	Wait bool `form:"wait"`
}

// Trigger starts a manual sync run
func (h *SyncHandler) Trigger(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("INVALID_REQUEST", err.Error()))
		return
	}

	if req.Wait {
		report, err := h.trigger.TriggerNow(c.Request.Context())
		if err != nil {
			h.respondRunError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.NewSuccessResponse(report))
		return
	}

	if err := h.trigger.TriggerAsync(); err != nil {
		h.respondRunError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(gin.H{"message": "sync run started"}))
}

// Runs returns the recent run history, newest first
func (h *SyncHandler) Runs(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(h.trigger.History()))
}

func (h *SyncHandler) respondRunError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scheduler.ErrSyncInProgress):
		c.JSON(http.StatusConflict, dto.NewErrorResponse("SYNC_IN_PROGRESS", err.Error()))
	case errors.Is(err, billing.ErrNoAccounts):
		c.JSON(http.StatusFailedDependency, dto.NewErrorResponse("NO_ACCOUNTS", err.Error()))
	default:
		h.logger.Error("Manual sync run failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("SYNC_FAILED", err.Error()))
	}
}

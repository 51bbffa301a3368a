package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/medchat/internal/analytics"
	"github.com/suPer8Hu/medchat/internal/httpapi/middleware"
)

// The ledger endpoints keep their own {status, message, data} envelope since
// browser clients already depend on it.

func trackOK(c *gin.Context, data any) {
	body := gin.H{"status": "success"}
	if data != nil {
		body["data"] = data
	}
	c.JSON(http.StatusOK, body)
}

func trackFail(c *gin.Context, httpStatus int, msg string) {
	c.JSON(httpStatus, gin.H{"status": "error", "message": msg})
}

// TrackEvent appends one analytics event to the ledger.
func (h *Handler) TrackEvent(c *gin.Context) {
	var req analytics.TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		trackFail(c, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	ev, err := h.Ledger.Track(c.Request.Context(), req)
	if err != nil {
		var verr *analytics.ValidationError
		if errors.As(err, &verr) {
			trackFail(c, http.StatusBadRequest, verr.Error())
			return
		}
		h.Logger.Error("failed to track analytics",
			"request_id", middleware.RequestIDFrom(c),
			"event_type", req.EventType,
			"err", err,
		)
		trackFail(c, http.StatusInternalServerError, "Failed to track analytics")
		return
	}

	h.Logger.Debug("tracked event", "event_type", ev.EventType, "agent_type", ev.AgentType, "session_id", ev.SessionID)
	trackOK(c, nil)
}

// AnalyticsSummary aggregates the whole ledger.
func (h *Handler) AnalyticsSummary(c *gin.Context) {
	sum, err := h.Ledger.Summarize(c.Request.Context())
	if err != nil {
		h.Logger.Error("failed to fetch analytics", "request_id", middleware.RequestIDFrom(c), "err", err)
		trackFail(c, http.StatusInternalServerError, "Failed to fetch analytics")
		return
	}
	trackOK(c, sum)
}

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/medchat/internal/analytics"
	"github.com/suPer8Hu/medchat/internal/chat"
	"github.com/suPer8Hu/medchat/internal/common"
)

type Handler struct {
	Ledger *analytics.Ledger
	Chat   *chat.Controller
	Logger *slog.Logger
}

func NewHandler(ledger *analytics.Ledger, ctrl *chat.Controller, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Ledger: ledger,
		Chat:   ctrl,
		Logger: logger.With("component", "httpapi"),
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func (h *Handler) NotFound(c *gin.Context) {
	common.Fail(c, http.StatusNotFound, 40400, "route not found")
}

func (h *Handler) MethodNotAllowed(c *gin.Context) {
	common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
}

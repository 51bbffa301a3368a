package httpapi

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/medchat/internal/analytics"
	"github.com/suPer8Hu/medchat/internal/chat"
	"github.com/suPer8Hu/medchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/medchat/internal/httpapi/middleware"
	"github.com/suPer8Hu/medchat/internal/metrics"
)

type Deps struct {
	Ledger  *analytics.Ledger
	Chat    *chat.Controller
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	h := handlers.NewHandler(d.Ledger, d.Chat, d.Logger)

	r.NoRoute(h.NotFound)
	r.NoMethod(h.MethodNotAllowed)

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	// analytics ledger
	if d.Ledger != nil {
		r.POST("/api/analytics/track", h.TrackEvent)
		r.GET("/api/analytics/track", h.AnalyticsSummary)
	}

	// chat
	if d.Chat != nil {
		g := r.Group("/chat")
		g.POST("/sessions", h.CreateChatSession)
		g.GET("/sessions", h.ListChatSessions)
		g.POST("/sessions/resolve", h.ResolveChatSession)
		g.GET("/sessions/:session_id/messages", h.ListChatMessages)
		g.POST("/sessions/:session_id/clear", h.ClearChatSession)
		g.POST("/sessions/:session_id/cancel", h.CancelChatTurn)
		g.DELETE("/sessions/:session_id", h.DeleteChatSession)
		g.POST("/messages", h.SendChatMessage)
	}
	return r
}

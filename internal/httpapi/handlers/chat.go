package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/medchat/internal/agent"
	"github.com/suPer8Hu/medchat/internal/chat"
	"github.com/suPer8Hu/medchat/internal/common"
	"github.com/suPer8Hu/medchat/internal/httpapi/middleware"
)

type sessionView struct {
	ID           string         `json:"id"`
	Type         agent.Kind     `json:"type"`
	Title        string         `json:"title"`
	MessageCount int            `json:"message_count"`
	CreatedAt    time.Time      `json:"created_at"`
	State        chat.TurnState `json:"state"`
	Messages     []chat.Message `json:"messages,omitempty"`
}

func (h *Handler) view(s chat.Session, withMessages bool) sessionView {
	v := sessionView{
		ID:           s.ID,
		Type:         s.Type,
		Title:        chat.Title(s.Type),
		MessageCount: len(s.Messages),
		CreatedAt:    s.CreatedAt,
		State:        h.Chat.State(s.ID),
	}
	if withMessages {
		v.Messages = s.Messages
	}
	return v
}

func parseKind(raw string) (agent.Kind, bool) {
	k := agent.Kind(strings.ToLower(strings.TrimSpace(raw)))
	return k, k.Valid()
}

type createSessionReq struct {
	Type string `json:"type" binding:"required"`
}

func (h *Handler) CreateChatSession(c *gin.Context) {
	var req createSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	kind, ok := parseKind(req.Type)
	if !ok {
		common.Fail(c, http.StatusBadRequest, 10002, "unknown session type")
		return
	}

	id := h.Chat.NewSession(kind)
	sess, _ := h.Chat.Store().Get(id)
	common.OK(c, gin.H{"session_id": id, "session": h.view(sess, true)})
}

func (h *Handler) ListChatSessions(c *gin.Context) {
	var filter agent.Kind
	if raw := c.Query("type"); raw != "" {
		k, ok := parseKind(raw)
		if !ok {
			common.Fail(c, http.StatusBadRequest, 10002, "unknown session type")
			return
		}
		filter = k
	}

	out := []sessionView{}
	for _, s := range h.Chat.Store().List() {
		if filter != "" && s.Type != filter {
			continue
		}
		out = append(out, h.view(s, false))
	}
	common.OK(c, gin.H{
		"sessions":  out,
		"active_id": h.Chat.Store().ActiveID(),
	})
}

type resolveSessionReq struct {
	Type      string `json:"type" binding:"required"`
	SessionID string `json:"session_id"`
}

// ResolveChatSession opens the session a view of the given type should show,
// creating and welcoming one when needed.
func (h *Handler) ResolveChatSession(c *gin.Context) {
	var req resolveSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	kind, ok := parseKind(req.Type)
	if !ok {
		common.Fail(c, http.StatusBadRequest, 10002, "unknown session type")
		return
	}

	id := h.Chat.Open(kind, req.SessionID)
	sess, ok := h.Chat.Store().Get(id)
	if !ok {
		// deleted between open and read
		common.Fail(c, http.StatusConflict, 40901, "session changed, retry")
		return
	}
	common.OK(c, gin.H{"session_id": id, "session": h.view(sess, true)})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	sess, ok := h.Chat.Store().Get(c.Param("session_id"))
	if !ok {
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
		return
	}
	common.OK(c, gin.H{
		"session_id": sess.ID,
		"state":      h.Chat.State(sess.ID),
		"messages":   sess.Messages,
	})
}

func (h *Handler) ClearChatSession(c *gin.Context) {
	id := c.Param("session_id")
	if !h.Chat.ClearSession(id) {
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
		return
	}
	common.OK(c, gin.H{"session_id": id})
}

func (h *Handler) DeleteChatSession(c *gin.Context) {
	id := c.Param("session_id")
	if !h.Chat.DeleteSession(id) {
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
		return
	}
	common.OK(c, gin.H{"session_id": id})
}

func (h *Handler) CancelChatTurn(c *gin.Context) {
	id := c.Param("session_id")
	if !h.Chat.Store().Exists(id) {
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
		return
	}
	common.OK(c, gin.H{"session_id": id, "canceled": h.Chat.Cancel(id)})
}

type sendMessageReq struct {
	SessionID string `json:"session_id" binding:"required"`
	Message   string `json:"message"`
	Type      string `json:"type"`
}

func (h *Handler) SendChatMessage(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	var kind agent.Kind
	if req.Type != "" {
		k, ok := parseKind(req.Type)
		if !ok {
			common.Fail(c, http.StatusBadRequest, 10002, "unknown session type")
			return
		}
		kind = k
	}

	res, err := h.Chat.SubmitTurn(c.Request.Context(), req.SessionID, kind, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			common.Fail(c, http.StatusBadRequest, 10003, "message is empty")
		case errors.Is(err, chat.ErrSessionNotFound):
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
		case errors.Is(err, chat.ErrTurnInFlight):
			common.Fail(c, http.StatusConflict, 40901, "a reply is already pending for this session")
		default:
			h.Logger.Error("send message failed", "request_id", middleware.RequestIDFrom(c), "session_id", req.SessionID, "err", err)
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		}
		return
	}
	common.OK(c, res)
}

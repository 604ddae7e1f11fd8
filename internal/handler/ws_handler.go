package handler

import (
	"net/http"
	"strings"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/middleware"
	"github.com/damoang/angple-chat/internal/service"
	"github.com/damoang/angple-chat/internal/ws"
	pkglogger "github.com/damoang/angple-chat/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WSHandler handles scope subscriptions over WebSocket
type WSHandler struct {
	hub            *ws.Hub
	auth           service.Authorizer
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler
func NewWSHandler(hub *ws.Hub, auth service.Authorizer, allowedOrigins string) *WSHandler {
	h := &WSHandler{
		hub:            hub,
		auth:           auth,
		allowedOrigins: parseOrigins(allowedOrigins),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// parseOrigins parses comma-separated origins string
func parseOrigins(origins string) []string {
	if origins == "" {
		return nil
	}
	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" && trimmed != "*" {
			result = append(result, trimmed)
		}
	}
	return result
}

// checkOrigin validates the request origin against allowed origins
func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients
	}
	if len(h.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Connect handles GET /ws/scopes/:scope_id
// The first frame is {"type":"subscribed"}; events committed after it are
// delivered in commit order. Close code 4000 asks the client to resync.
// @Summary 스코프 실시간 구독 WebSocket
// @Tags realtime
// @Param scope_id path string true "스코프 ID"
// @Router /ws/scopes/{scope_id} [get]
func (h *WSHandler) Connect(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		common.ErrorResponse(c, http.StatusUnauthorized, "로그인이 필요합니다", nil)
		return
	}
	scopeID := c.Param("scope_id")

	// 업그레이드 전에 읽기 권한 확인 (HTTP 상태로 거절)
	if err := h.auth.Authorize(c.Request.Context(), userID, scopeID, domain.ActionRead); err != nil {
		common.FailFromError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		pkglogger.GetLogger().Debug().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(h.hub, conn, scopeID, userID)
	go client.WritePump()
	go client.ReadPump()
}

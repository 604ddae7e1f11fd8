package handler

import (
	"net/http"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/middleware"
	"github.com/damoang/angple-chat/internal/service"
	"github.com/damoang/angple-chat/pkg/ginutil"
	"github.com/gin-gonic/gin"
)

// ResolveRequest is the body of POST /messages/resolve
type ResolveRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=200,dive,required,max=36"`
}

// MessageHandler handles the durable message log of a scope
type MessageHandler struct {
	messages  service.MessageService
	reactions *service.ReactionService
	replies   service.ReplyService
}

// NewMessageHandler creates a new MessageHandler
func NewMessageHandler(messages service.MessageService, reactions *service.ReactionService, replies service.ReplyService) *MessageHandler {
	return &MessageHandler{messages: messages, reactions: reactions, replies: replies}
}

// Append handles POST /api/v1/scopes/:scope_id/messages
// @Summary 메시지 전송
// @Tags messages
// @Accept json
// @Produce json
// @Param scope_id path string true "스코프 ID"
// @Param request body domain.AppendRequest true "전송 내용"
// @Success 201 {object} common.APIResponse{data=domain.MessageResponse}
// @Router /scopes/{scope_id}/messages [post]
func (h *MessageHandler) Append(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		common.ErrorResponse(c, http.StatusUnauthorized, "로그인이 필요합니다", nil)
		return
	}

	var req domain.AppendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailFromError(c, common.Validationf("%v", err))
		return
	}
	req.ScopeID = c.Param("scope_id")
	req.AuthorID = userID

	msg, err := h.messages.Append(c.Request.Context(), &req)
	if err != nil {
		common.FailFromError(c, err)
		return
	}
	common.CreatedResponse(c, msg.ToResponse())
}

// FetchRecent handles GET /api/v1/scopes/:scope_id/messages
// @Summary 메시지 목록 (커서 페이지)
// @Tags messages
// @Produce json
// @Param scope_id path string true "스코프 ID"
// @Param limit query int false "페이지 크기"
// @Param before query string false "이 커서보다 오래된 메시지"
// @Param after query string false "이 커서보다 새로운 메시지"
// @Success 200 {object} common.APIResponse{data=domain.MessagePage}
// @Router /scopes/{scope_id}/messages [get]
func (h *MessageHandler) FetchRecent(c *gin.Context) {
	userID := middleware.GetUserID(c)

	q := service.PageQuery{Before: c.Query("before"), After: c.Query("after")}
	limit, _, err := ginutil.QueryInt(c, "limit")
	if err != nil {
		common.FailFromError(c, common.Validationf("limit must be a positive number"))
		return
	}
	q.Limit = limit

	page, err := h.messages.FetchRecent(c.Request.Context(), userID, c.Param("scope_id"), q)
	if err != nil {
		common.FailFromError(c, err)
		return
	}
	if err := service.EnrichPage(c.Request.Context(), page, userID, h.reactions, h.replies); err != nil {
		common.FailFromError(c, err)
		return
	}
	common.SuccessResponse(c, page, &common.Meta{
		Limit:      len(page.Messages),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	})
}

// Resolve handles POST /api/v1/messages/resolve
// @Summary 메시지 일괄 조회 (삭제 포함)
// @Tags messages
// @Accept json
// @Produce json
// @Param request body ResolveRequest true "메시지 ID 목록"
// @Success 200 {object} common.APIResponse{data=map[string]domain.Message}
// @Router /messages/resolve [post]
func (h *MessageHandler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := bindAndValidate(c, &req); err != nil {
		common.FailFromError(c, err)
		return
	}

	found, err := h.messages.Resolve(c.Request.Context(), middleware.GetUserID(c), req.IDs)
	if err != nil {
		common.FailFromError(c, err)
		return
	}
	common.SuccessResponse(c, found, nil)
}

// Delete handles DELETE /api/v1/messages/:id
// @Summary 메시지 삭제 (작성자만)
// @Tags messages
// @Param id path string true "메시지 ID"
// @Param hard query bool false "완전 삭제"
// @Success 200 {object} common.APIResponse
// @Router /messages/{id} [delete]
func (h *MessageHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	hard := c.Query("hard") == "true"

	del := h.messages.SoftDelete
	if hard {
		del = h.messages.Purge
	}
	if err := del(c.Request.Context(), id, middleware.GetUserID(c)); err != nil {
		common.FailFromError(c, err)
		return
	}
	common.SuccessResponse(c, gin.H{"id": id, "deleted": true, "purged": hard}, nil)
}

// ReplyPreview handles GET /api/v1/messages/:id/reply-preview
// @Summary 답장 대상 미리보기
// @Tags messages
// @Produce json
// @Param id path string true "대상 메시지 ID"
// @Success 200 {object} common.APIResponse{data=domain.Preview}
// @Router /messages/{id}/reply-preview [get]
func (h *MessageHandler) ReplyPreview(c *gin.Context) {
	p, err := h.replies.PreviewOf(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		common.FailFromError(c, err)
		return
	}
	common.SuccessResponse(c, p, nil)
}

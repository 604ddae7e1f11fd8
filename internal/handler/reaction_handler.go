package handler

import (
	"context"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/middleware"
	"github.com/gin-gonic/gin"
)

// SetReactionRequest is the body of PUT /messages/:id/reactions
type SetReactionRequest struct {
	Kind   string `json:"kind" validate:"required,max=50"`
	Active *bool  `json:"active" validate:"required"`
}

// ToggleReactionRequest is the body of POST /messages/:id/reactions/toggle
type ToggleReactionRequest struct {
	Kind string `json:"kind" validate:"required,max=50"`
}

// ReactionLedger is the part of the reaction service the handler needs
type ReactionLedger interface {
	Set(ctx context.Context, actorID, messageID, kind string, active bool) (*domain.ReactionState, error)
	Toggle(ctx context.Context, actorID, messageID, kind string) (*domain.ReactionState, error)
}

// ReactionHandler handles reaction requests
type ReactionHandler struct {
	ledger ReactionLedger
}

// NewReactionHandler creates a new ReactionHandler
func NewReactionHandler(ledger ReactionLedger) *ReactionHandler {
	return &ReactionHandler{ledger: ledger}
}

// Set handles PUT /api/v1/messages/:id/reactions
// @Summary 반응 설정 (멱등)
// @Description active=true 는 추가, false 는 제거. 같은 요청을 반복해도 결과는 같습니다
// @Tags reactions
// @Accept json
// @Produce json
// @Param id path string true "메시지 ID"
// @Param request body SetReactionRequest true "반응"
// @Success 200 {object} common.APIResponse{data=domain.ReactionState}
// @Router /messages/{id}/reactions [put]
func (h *ReactionHandler) Set(c *gin.Context) {
	var req SetReactionRequest
	if err := bindAndValidate(c, &req); err != nil {
		common.FailFromError(c, err)
		return
	}

	st, err := h.ledger.Set(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req.Kind, *req.Active)
	if err != nil {
		common.FailFromError(c, err)
		return
	}
	common.SuccessResponse(c, st, nil)
}

// Toggle handles POST /api/v1/messages/:id/reactions/toggle
// @Summary 반응 토글
// @Tags reactions
// @Accept json
// @Produce json
// @Param id path string true "메시지 ID"
// @Param request body ToggleReactionRequest true "반응"
// @Success 200 {object} common.APIResponse{data=domain.ReactionState}
// @Router /messages/{id}/reactions/toggle [post]
func (h *ReactionHandler) Toggle(c *gin.Context) {
	var req ToggleReactionRequest
	if err := bindAndValidate(c, &req); err != nil {
		common.FailFromError(c, err)
		return
	}

	st, err := h.ledger.Toggle(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req.Kind)
	if err != nil {
		common.FailFromError(c, err)
		return
	}
	common.SuccessResponse(c, st, nil)
}

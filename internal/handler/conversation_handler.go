package handler

import (
	"net/http"

	"health-smart-go/internal/middleware"
	"health-smart-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理对话历史相关的请求。
type ConversationHandler struct {
	conversationService service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(conversationService service.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversationService: conversationService}
}

// GetConversations 返回当前用户最近的对话消息。
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	history, err := h.conversationService.GetConversationHistory(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		respondError(c, "GetConversations", err)
		return
	}
	respond(c, http.StatusOK, "获取对话历史成功", history)
}

// ClearConversations 清空当前用户的对话历史。
func (h *ConversationHandler) ClearConversations(c *gin.Context) {
	if err := h.conversationService.ClearConversationHistory(c.Request.Context(), middleware.CurrentUserID(c)); err != nil {
		respondError(c, "ClearConversations", err)
		return
	}
	c.Status(http.StatusNoContent)
}

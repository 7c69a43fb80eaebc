package service

import (
	"context"

	"health-smart-go/internal/model"
	"health-smart-go/internal/repository"
)

// ConversationService 定义了对话历史的业务逻辑接口。
type ConversationService interface {
	GetConversationHistory(ctx context.Context, userID string) ([]model.ChatMessage, error)
	ClearConversationHistory(ctx context.Context, userID string) error
}

type conversationService struct {
	repo repository.ConversationRepository
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.ConversationRepository) ConversationService {
	return &conversationService{repo: repo}
}

// GetConversationHistory 获取用户最近的对话消息。
func (s *conversationService) GetConversationHistory(ctx context.Context, userID string) ([]model.ChatMessage, error) {
	return s.repo.GetHistory(ctx, userID)
}

// ClearConversationHistory 清空用户的对话历史。
func (s *conversationService) ClearConversationHistory(ctx context.Context, userID string) error {
	return s.repo.Clear(ctx, userID)
}

package model

import "time"

// 对话消息的角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage 代表对话中的单条消息，也是 Redis 历史中的存储单元。
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// ChatChunk 是聊天流中的一个单元：文本分块，或者结束/截断标记。
type ChatChunk struct {
	Text      string
	Done      bool
	Truncated bool
	// Reason 仅在 Truncated 时设置：timeout 或 upstream_error
	Reason   string
	Keywords []string
}

// 截断原因
const (
	TruncatedTimeout       = "timeout"
	TruncatedUpstreamError = "upstream_error"
)

package handler

import (
	"net/http"
	"time"

	"health-smart-go/internal/middleware"
	"health-smart-go/internal/model"
	"health-smart-go/internal/service"
	"health-smart-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// UserHandler 负责处理账号与会话相关的 API 请求。
type UserHandler struct {
	userService         service.UserService
	sessionService      service.SessionService
	conversationService service.ConversationService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService, sessionService service.SessionService, conversationService service.ConversationService) *UserHandler {
	return &UserHandler{
		userService:         userService,
		sessionService:      sessionService,
		conversationService: conversationService,
	}
}

// CredentialsRequest 是注册与登录的请求体。
type CredentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// ProfileResponse 是对外暴露的用户信息，不包含密码哈希。
type ProfileResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

func profileOf(u *model.User) ProfileResponse {
	return ProfileResponse{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
}

// Register 处理用户注册请求。
func (h *UserHandler) Register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Register", err)
		return
	}

	user, err := h.userService.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, "Register", err)
		return
	}
	respond(c, http.StatusCreated, "注册成功", gin.H{"userId": user.ID, "email": user.Email})
}

// Login 校验凭据并签发 token。
func (h *UserHandler) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Login", err)
		return
	}

	ctx := c.Request.Context()
	user, err := h.userService.Verify(ctx, req.Email, req.Password)
	if err != nil {
		respondError(c, "Login", err)
		return
	}
	session, err := h.sessionService.Issue(ctx, user.ID)
	if err != nil {
		respondError(c, "Login", err)
		return
	}

	log.Infow("User logged in", "userID", user.ID)
	respond(c, http.StatusOK, "登录成功", gin.H{
		"token":     session.Token,
		"expiresAt": session.ExpiresAt,
		"user":      profileOf(user),
	})
}

// Logout 吊销当前 token。
func (h *UserHandler) Logout(c *gin.Context) {
	if err := h.sessionService.Revoke(c.Request.Context(), c.GetString(middleware.ContextTokenKey)); err != nil {
		respondError(c, "Logout", err)
		return
	}
	respond(c, http.StatusOK, "登出成功", nil)
}

// GetProfile 获取当前登录用户的信息。用户已由 AuthMiddleware 注入到上下文中。
func (h *UserHandler) GetProfile(c *gin.Context) {
	respond(c, http.StatusOK, "success", profileOf(middleware.CurrentUser(c)))
}

// ChangePasswordRequest 是修改密码的请求体。
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

// ChangePassword 修改当前用户的密码。
func (h *UserHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "ChangePassword", err)
		return
	}
	if err := h.userService.ChangePassword(c.Request.Context(), middleware.CurrentUserID(c), req.OldPassword, req.NewPassword); err != nil {
		respondError(c, "ChangePassword", err)
		return
	}
	respond(c, http.StatusOK, "密码修改成功", nil)
}

// DeleteAccount 删除当前用户及其全部健康记录，并吊销当前 token。
func (h *UserHandler) DeleteAccount(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.CurrentUserID(c)
	if err := h.userService.Delete(ctx, userID); err != nil {
		respondError(c, "DeleteAccount", err)
		return
	}
	// 账号已删除，后续清理失败只记录日志
	if err := h.sessionService.Revoke(ctx, c.GetString(middleware.ContextTokenKey)); err != nil {
		log.Warnw("DeleteAccount: revoke token failed", "userID", userID, "error", err)
	}
	if err := h.conversationService.ClearConversationHistory(ctx, userID); err != nil {
		log.Warnw("DeleteAccount: clear conversation history failed", "userID", userID, "error", err)
	}
	c.Status(http.StatusNoContent)
}

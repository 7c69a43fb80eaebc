package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"health-smart-go/internal/common"
	"health-smart-go/internal/config"
	"health-smart-go/internal/model"
	"health-smart-go/internal/repository"
	"health-smart-go/pkg/hash"
	"health-smart-go/pkg/log"

	"github.com/google/uuid"
)

// UserService 接口定义了所有与账号凭据相关的业务操作。
type UserService interface {
	Register(ctx context.Context, email, password string) (*model.User, error)
	Verify(ctx context.Context, email, password string) (*model.User, error)
	GetByID(ctx context.Context, userID string) (*model.User, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
	Delete(ctx context.Context, userID string) error
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo repository.UserRepository
	policy   config.PasswordPolicyConfig
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, policy config.PasswordPolicyConfig) UserService {
	return &userService{userRepo: userRepo, policy: policy}
}

// NormalizeEmail 去掉首尾空白并转为小写。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register 处理用户注册。邮箱唯一性由数据库唯一索引保证，并发注册同一邮箱时只有一个成功。
func (s *userService) Register(ctx context.Context, email, password string) (*model.User, error) {
	email = NormalizeEmail(email)
	if err := validate.Var(email, "required,email,max=255"); err != nil {
		return nil, validationFailure("email", err)
	}
	if err := checkPassword(s.policy, password); err != nil {
		return nil, err
	}

	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	newUser := &model.User{
		ID:       uuid.NewString(),
		Email:    email,
		Password: hashedPassword,
	}
	if err := s.userRepo.Create(ctx, newUser); err != nil {
		if errors.Is(err, common.ErrDuplicateEmail) {
			return nil, err
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	log.Infow("[UserService] 用户注册成功", "userID", newUser.ID)
	return newUser, nil
}

// Verify 校验邮箱与密码。未知邮箱与密码错误返回同一个错误，并且都执行一次 bcrypt 比较。
func (s *userService) Verify(ctx context.Context, email, password string) (*model.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			hash.CompareDummy(password)
			return nil, common.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !hash.CheckPasswordHash(password, user.Password) {
		return nil, common.ErrInvalidCredentials
	}
	return user, nil
}

// GetByID 返回用户信息。
func (s *userService) GetByID(ctx context.Context, userID string) (*model.User, error) {
	return s.userRepo.FindByID(ctx, userID)
}

// ChangePassword 校验旧密码后替换哈希。旧密码错误属于请求参数错误，不影响当前会话。
func (s *userService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !hash.CheckPasswordHash(oldPassword, user.Password) {
		return common.Invalid("oldPassword", "is incorrect")
	}
	if err := checkPassword(s.policy, newPassword); err != nil {
		return err
	}
	hashedPassword, err := hash.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.userRepo.UpdatePassword(ctx, userID, hashedPassword); err != nil {
		return err
	}
	log.Infow("[UserService] 用户修改密码", "userID", userID)
	return nil
}

// Delete 在同一事务中删除用户及其全部健康记录。
func (s *userService) Delete(ctx context.Context, userID string) error {
	if err := s.userRepo.DeleteWithRecords(ctx, userID); err != nil {
		return err
	}
	log.Infow("[UserService] 用户已删除", "userID", userID)
	return nil
}

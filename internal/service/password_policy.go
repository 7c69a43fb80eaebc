package service

import (
	"fmt"
	"unicode"

	"health-smart-go/internal/common"
	"health-smart-go/internal/config"
)

// bcrypt 只使用前 72 字节，更长的密码直接拒绝。
const maxPasswordBytes = 72

// checkPassword 按配置的策略检查明文密码。
func checkPassword(policy config.PasswordPolicyConfig, password string) error {
	if len([]rune(password)) < policy.MinLength {
		return common.Invalid("password", fmt.Sprintf("must be at least %d characters", policy.MinLength))
	}
	if len(password) > maxPasswordBytes {
		return common.Invalid("password", fmt.Sprintf("must be at most %d bytes", maxPasswordBytes))
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	switch {
	case policy.RequireUpper && !upper:
		return common.Invalid("password", "must contain an upper-case letter")
	case policy.RequireLower && !lower:
		return common.Invalid("password", "must contain a lower-case letter")
	case policy.RequireDigit && !digit:
		return common.Invalid("password", "must contain a digit")
	case policy.RequireSymbol && !symbol:
		return common.Invalid("password", "must contain a symbol")
	}
	return nil
}

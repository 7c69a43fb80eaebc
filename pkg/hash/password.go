// Package hash 提供密码的单向哈希与校验。
package hash

import (
	"golang.org/x/crypto/bcrypt"
)

// HashPassword 使用 bcrypt（自带随机盐）对密码进行哈希。
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckPasswordHash 比较明文密码与哈希值，匹配时返回 true。
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// dummyHash 用于未知账号的比较，使其耗时与真实账号一致。
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("health-smart-go/placeholder"), bcrypt.DefaultCost)

// CompareDummy 执行一次必然失败的 bcrypt 比较。
func CompareDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

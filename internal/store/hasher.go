package store

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher 密碼雜湊
type Hasher interface {
	Hash(password string) (string, error)
	// Compare 密碼不符時返回 ErrInvalidCredentials
	Compare(hash, password string) error
}

// BcryptHasher bcrypt 實作
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher 創建 bcrypt hasher，cost 為 0 時使用 bcrypt.DefaultCost
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{Cost: cost}
}

// Hash 雜湊密碼
func (h *BcryptHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", fmt.Errorf("雜湊密碼失敗: %w", err)
	}
	return string(hashed), nil
}

// Compare 比對密碼
func (h *BcryptHasher) Compare(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("比對密碼失敗: %w", err)
	}
	return nil
}

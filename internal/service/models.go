package service

import (
	"time"

	"github.com/dlbhoang/shop-dunk/internal/domain"
)

// SignupInput is the statically declared field set accepted at signup.
type SignupInput struct {
	FullName    string
	Gender      domain.Gender
	DateOfBirth *time.Time
	Email       string
	PhoneNumber string
	Username    string
	Password    string
}

// AuthResult carries a freshly issued session token plus the public
// projection of the authenticated user.
type AuthResult struct {
	Token     string      `json:"token"`
	TokenType string      `json:"token_type"`
	ExpiresIn int64       `json:"expires_in"`
	User      domain.User `json:"user"`
}

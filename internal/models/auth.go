package models

import "github.com/golang-jwt/jwt/v5"

// UserRole distinguishes callers on the registrar surface.
type UserRole string

const (
	RoleStudent UserRole = "STUDENT"
	RoleAdmin   UserRole = "ADMIN"
)

// JWTClaims represents the JWT payload for access tokens. Tokens are issued
// by the campus identity service; this API only verifies them.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

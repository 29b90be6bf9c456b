package domain

import (
	"time"
)

// User is a registered account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedDate  time.Time `json:"created_date"`
}

// TokenPair holds an access and refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// UserChanges describes a full update of a user. Password is applied only
// when non-nil.
type UserChanges struct {
	Username string
	Email    string
	Password *string
}

package testutil

import (
	"time"

	"roomdeck/pkg/auth"
)

// JWTTestHelper mints session tokens for handshake tests.
type JWTTestHelper struct {
	Secret []byte
}

func NewJWTTestHelper() *JWTTestHelper {
	return &JWTTestHelper{Secret: []byte("test-jwt-secret")}
}

// ValidToken returns a token that passes validation for the given identity.
func (h *JWTTestHelper) ValidToken(userID, username string, loggedIn bool) string {
	token, err := auth.GenerateToken(userID, username, loggedIn, h.Secret, time.Hour)
	if err != nil {
		panic(err)
	}
	return token
}

// ExpiredToken returns a token that fails validation with an expiry error.
func (h *JWTTestHelper) ExpiredToken(userID, username string) string {
	token, err := auth.GenerateToken(userID, username, true, h.Secret, -time.Hour)
	if err != nil {
		panic(err)
	}
	return token
}

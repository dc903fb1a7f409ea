package server

import (
	"crypto"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// SessionTokenClaims is the token body issued by the main Trofify backend at
// login and presented by the client when opening a realtime socket.
type SessionTokenClaims struct {
	TokenID   string `json:"jti,omitempty"`
	UserID    int64  `json:"uid"`
	Username  string `json:"usn,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
}

func (c *SessionTokenClaims) Valid() error {
	if c.ExpiresAt != 0 && c.ExpiresAt <= time.Now().UTC().Unix() {
		return jwt.ErrTokenExpired
	}
	return nil
}

// parseToken verifies an HS256 session token and extracts its identity.
func parseToken(hmacSecret []byte, tokenString string) (userID int64, username string, expiry int64, ok bool) {
	claims := &SessionTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if s, ok := token.Method.(*jwt.SigningMethodHMAC); !ok || s.Hash != crypto.SHA256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return hmacSecret, nil
	})
	if err != nil || !token.Valid || claims.UserID == 0 {
		return 0, "", 0, false
	}
	return claims.UserID, claims.Username, claims.ExpiresAt, true
}

// generateToken signs a session token. Used by tooling and tests; the
// production issuer is the main backend's login flow.
func generateToken(hmacSecret []byte, userID int64, username string, expiry time.Time) (string, error) {
	claims := &SessionTokenClaims{
		UserID:    userID,
		Username:  username,
		ExpiresAt: expiry.UTC().Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(hmacSecret)
}

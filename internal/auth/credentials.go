package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrExpiredToken      = errors.New("credential expired")
	ErrInvalidToken      = errors.New("credential invalid")
	ErrInvalidSigningAlg = errors.New("credential signed with unexpected algorithm")
)

// Claims identify one player seat in one room.
type Claims struct {
	PlayerID string
	RoomCode string
	Name     string
}

type playerClaims struct {
	PlayerID string `json:"pid"`
	RoomCode string `json:"room"`
	Name     string `json:"name"`
	jwt.RegisteredClaims
}

// CredentialManager issues the session credential handed out on create and
// join. The same credential authenticates the WebSocket upgrade.
type CredentialManager struct {
	secretKey []byte
	maxAge    time.Duration
}

func NewCredentialManager(secretKey string, maxAge time.Duration) *CredentialManager {
	return &CredentialManager{
		secretKey: []byte(secretKey),
		maxAge:    maxAge,
	}
}

func (m *CredentialManager) Generate(c Claims, now time.Time) (string, error) {
	claims := playerClaims{
		PlayerID: c.PlayerID,
		RoomCode: c.RoomCode,
		Name:     c.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.PlayerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.maxAge)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

func (m *CredentialManager) Verify(tokenString string) (Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &playerClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSigningAlg
		}
		return m.secretKey, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidSigningAlg):
			return Claims{}, ErrInvalidSigningAlg
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, ErrExpiredToken
		default:
			return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
	}

	claims, ok := token.Claims.(*playerClaims)
	if !ok || !token.Valid || claims.PlayerID == "" || claims.RoomCode == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{PlayerID: claims.PlayerID, RoomCode: claims.RoomCode, Name: claims.Name}, nil
}

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"waitlist_backend/internal/models"
)

const (
	accessTTL  = time.Minute * 15
	refreshTTL = time.Hour * 24 * 7
)

var ErrInvalidToken = errors.New("invalid token")

// Claims содержит данные пользователя из токена.
type Claims struct {
	UserID uint
	Role   models.Priority
}

// Tokens выпускает и проверяет access/refresh токены.
type Tokens struct {
	accessSecret  []byte
	refreshSecret []byte
	now           func() time.Time
}

func NewTokens(accessSecret, refreshSecret []byte) *Tokens {
	return &Tokens{accessSecret: accessSecret, refreshSecret: refreshSecret, now: time.Now}
}

func (t *Tokens) generate(user Claims, duration time.Duration, secret []byte) (string, error) {
	now := t.now()
	claims := jwt.MapClaims{
		"user_id": user.UserID,
		"role":    int(user.Role),
		"exp":     now.Add(duration).Unix(),
		"iat":     now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Issue возвращает пару access и refresh токенов.
func (t *Tokens) Issue(user *models.User) (access, refresh string, err error) {
	claims := Claims{UserID: user.ID, Role: user.Role}
	if access, err = t.generate(claims, accessTTL, t.accessSecret); err != nil {
		return "", "", fmt.Errorf("access token: %w", err)
	}
	if refresh, err = t.generate(claims, refreshTTL, t.refreshSecret); err != nil {
		return "", "", fmt.Errorf("refresh token: %w", err)
	}
	return access, refresh, nil
}

func (t *Tokens) ParseAccess(raw string) (Claims, error) {
	return parse(raw, t.accessSecret)
}

func (t *Tokens) ParseRefresh(raw string) (Claims, error) {
	return parse(raw, t.refreshSecret)
}

func parse(raw string, secret []byte) (Claims, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	userID, ok := claims["user_id"].(float64)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	role := models.PriorityStudent
	if r, ok := claims["role"].(float64); ok && models.Priority(r).Valid() {
		role = models.Priority(r)
	}
	return Claims{UserID: uint(userID), Role: role}, nil
}

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired = errors.New("auth token is expired")
	ErrTokenSubject = errors.New("auth token subject does not match user name")
)

// TokenInfo сведения из токена, прочитанные без проверки подписи
type TokenInfo struct {
	ExpiresAt time.Time
	Subject   string
}

// InspectToken разбирает JWT без проверки подписи (ее выполняет DataGate)
// и отсекает заведомо непригодный токен до подключения.
func InspectToken(token, userName string, now time.Time) (TokenInfo, error) {
	var info TokenInfo

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return info, fmt.Errorf("failed to parse auth token: %w", err)
	}

	info.Subject = claims.Subject
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
		if !now.Before(info.ExpiresAt) {
			return info, fmt.Errorf("%w: expired at %s", ErrTokenExpired, info.ExpiresAt.Format(time.RFC3339))
		}
	}
	if info.Subject != "" && info.Subject != userName {
		return info, fmt.Errorf("%w: %q != %q", ErrTokenSubject, info.Subject, userName)
	}

	return info, nil
}

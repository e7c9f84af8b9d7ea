package httpapi

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"dairyflow/backend/internal/domain"
)

const tokenIssuer = "dairyflow"

// AuthManager verifies bearer tokens. Login lives in the identity service;
// IssueToken only exists so tests can mint tokens signed with the same secret.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
}

type dairyClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{secret: []byte(secret), tokenTTL: tokenTTL}
}

func (a *AuthManager) IssueToken(userID string, role domain.Role) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, errors.New("user id required")
	}
	if !validRole(role) {
		return "", time.Time{}, errors.New("unknown role")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(a.tokenTTL)
	claims := dairyClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Role: string(role),
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &dairyClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer), jwtlib.WithExpirationRequired())
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	role := domain.Role(claims.Role)
	if !validRole(role) {
		return domain.Actor{}, errors.New("invalid token role")
	}
	return domain.Actor{UserID: sub, Role: role}, nil
}

func validRole(role domain.Role) bool {
	switch role {
	case domain.RoleCustomer, domain.RoleDeliveryPartner, domain.RoleAdmin:
		return true
	default:
		return false
	}
}

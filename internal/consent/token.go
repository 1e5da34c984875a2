package consent

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/unclebandit/chaser-backend/internal/model"
)

// TokenTTL is how long an unsubscribe link keeps working.
const TokenTTL = 365 * 24 * time.Hour

var (
	ErrTokenExpired = errors.New("unsubscribe token has expired")
	ErrTokenInvalid = errors.New("invalid unsubscribe token")
)

// Subject is what a verified unsubscribe token authorizes.
type Subject struct {
	ClientID string
	Channel  model.Channel
	IssuedAt time.Time
}

type unsubscribeClaims struct {
	Channel string `json:"ch"`
	jwt.RegisteredClaims
}

// TokenSigner issues and verifies HS256-signed unsubscribe tokens.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenSigner(secret string) (*TokenSigner, error) {
	if secret == "" {
		return nil, fmt.Errorf("unsubscribe token secret is required")
	}
	return &TokenSigner{secret: []byte(secret), ttl: TokenTTL, now: time.Now}, nil
}

func (s *TokenSigner) Generate(clientID string, channel model.Channel) (string, error) {
	if !channel.Valid() {
		return "", fmt.Errorf("unknown channel %q", channel)
	}
	now := s.now().UTC()
	claims := unsubscribeClaims{
		Channel: string(channel),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks the signature and expiry and returns the bound client and channel.
func (s *TokenSigner) Verify(token string) (*Subject, error) {
	var claims unsubscribeClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	channel, err := model.ParseChannel(claims.Channel)
	if err != nil || claims.Subject == "" || claims.IssuedAt == nil {
		return nil, ErrTokenInvalid
	}
	return &Subject{ClientID: claims.Subject, Channel: channel, IssuedAt: claims.IssuedAt.Time}, nil
}

// UnsubscribeURL builds the public unsubscribe link for a client and channel.
func (s *TokenSigner) UnsubscribeURL(baseURL, clientID string, channel model.Channel) (string, error) {
	tok, err := s.Generate(clientID, channel)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(baseURL, "/") + "/unsubscribe/" + tok, nil
}

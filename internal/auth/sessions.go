// Package auth verifies bearer session tokens issued by the staff
// application and maps them to participant identities.
package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"staff-chat/internal/apperrors"
)

// SessionVerifier resolves a bearer token to a participant id.
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

const sessionKeyPrefix = "staffchat:session:"

// SessionKey is the Redis key holding the participant id for token.
func SessionKey(token string) string {
	return sessionKeyPrefix + token
}

// RedisSessions looks tokens up in the session store shared with the
// staff application.
type RedisSessions struct {
	client redis.UniversalClient
}

func NewRedisSessions(client redis.UniversalClient) *RedisSessions {
	return &RedisSessions{client: client}
}

func (s *RedisSessions) Verify(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", apperrors.ErrInvalidSession
	}
	id, err := s.client.Get(ctx, SessionKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", apperrors.ErrInvalidSession
	}
	if err != nil {
		return "", apperrors.Unavailable("session store unavailable", err)
	}
	if id = strings.TrimSpace(id); id == "" {
		return "", apperrors.ErrInvalidSession
	}
	return id, nil
}

// StaticSessions is a fixed token table for development and tests.
type StaticSessions map[string]string

func (s StaticSessions) Verify(ctx context.Context, token string) (string, error) {
	id, ok := s[strings.TrimSpace(token)]
	if !ok || id == "" {
		return "", apperrors.ErrInvalidSession
	}
	return id, nil
}

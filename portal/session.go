package portal

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/backend"
	"github.com/saiset-co/sai-desa/cache"
	"github.com/saiset-co/sai-desa/types"
)

const sessionPrefix = "session:"

type Session struct {
	ID      string       `json:"id"`
	Token   string       `json:"token"`
	User    backend.User `json:"user"`
	Created int64        `json:"created"`
}

// SessionStore keeps admin sessions in the session cache. Reading a live
// session renews its timestamp.
type SessionStore struct {
	cache  *cache.Timed[Session]
	logger types.Logger
}

func (s *SessionStore) Create(ctx context.Context, token string, user backend.User) (*Session, error) {
	if token == "" {
		return nil, types.Errorf(types.ErrSessionInvalid, "empty token")
	}

	session := Session{
		ID:      uuid.NewString(),
		Token:   token,
		User:    user,
		Created: time.Now().UnixMilli(),
	}

	if err := s.cache.Write(ctx, sessionPrefix+session.ID, session); err != nil {
		return nil, types.WrapError(err, "store session")
	}

	return &session, nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, types.ErrSessionNotFound
	}

	session, ok := s.cache.Read(ctx, sessionPrefix+id)
	if !ok || session.Token == "" {
		return nil, types.ErrSessionNotFound
	}

	if err := s.cache.Write(ctx, sessionPrefix+id, session); err != nil {
		s.logger.Warn("Session renewal failed", zap.String("session", id), zap.Error(err))
	}
	return &session, nil
}

func (s *SessionStore) Destroy(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	return s.cache.Invalidate(ctx, sessionPrefix+id)
}

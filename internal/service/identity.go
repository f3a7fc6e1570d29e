package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/playperu/turtlesoup/internal/retry"
	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

const (
	maxNicknameRunes = 20
	nameAttempts     = 5
)

// LoginAnonymously creates a fresh anonymous identity and returns it with
// its bearer token. An empty nickname gets the generated default.
func (s *Service) LoginAnonymously(ctx context.Context, nickname string) (turtlesoup.User, string, error) {
	nickname = strings.TrimSpace(nickname)
	if utf8.RuneCountInString(nickname) > maxNicknameRunes {
		return turtlesoup.User{}, "", fmt.Errorf("%w: nickname longer than %d characters", turtlesoup.ErrInvalidInput, maxNicknameRunes)
	}

	token := uuid.NewString()
	for attempt := 0; attempt < nameAttempts; attempt++ {
		username, defaultNick, err := turtlesoup.NewAnonymousName()
		if err != nil {
			return turtlesoup.User{}, "", err
		}
		u := turtlesoup.User{ID: uuid.NewString(), Username: username, Nickname: nickname}
		if u.Nickname == "" {
			u.Nickname = defaultNick
		}

		created, err := retry.Value(ctx, s.writes, "create user", func(ctx context.Context) (turtlesoup.User, error) {
			return s.store.CreateUser(ctx, u, token)
		})
		if errors.Is(err, turtlesoup.ErrConflict) {
			continue
		}
		if err != nil {
			return turtlesoup.User{}, "", fmt.Errorf("creating user: %w", err)
		}
		s.logger.Info("anonymous login", "user_id", created.ID)
		return created, token, nil
	}
	return turtlesoup.User{}, "", fmt.Errorf("%w: could not allocate a unique username", turtlesoup.ErrConflict)
}

// Authenticate resolves a bearer token to its identity.
func (s *Service) Authenticate(ctx context.Context, token string) (turtlesoup.User, error) {
	if token == "" {
		return turtlesoup.User{}, turtlesoup.ErrNotFound
	}
	return retry.Value(ctx, s.reads, "authenticate", func(ctx context.Context) (turtlesoup.User, error) {
		return s.store.UserByToken(ctx, token)
	})
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inaworld/inaworld-backend/internal/apperror"
)

type PassphraseRepository interface {
	Register(ctx context.Context, name, roomID string) error
	Resolve(ctx context.Context, name string) (string, error)
}

type dbPassphrase struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPassphraseRepository(client *redis.Client, ttl time.Duration) PassphraseRepository {
	return &dbPassphrase{
		client: client,
		ttl:    ttl,
	}
}

func passphraseKey(name string) string {
	return "passphrase:" + name
}

// Register - reserves the passphrase for a room. The reservation
// expires on its own, which is what frees a taken passphrase again.
func (that *dbPassphrase) Register(ctx context.Context, name, roomID string) error {
	ok, err := that.client.SetNX(ctx, passphraseKey(name), roomID, that.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to register passphrase: %w", err)
	}

	if !ok {
		return apperror.ErrPassphraseTaken
	}

	return nil
}

func (that *dbPassphrase) Resolve(ctx context.Context, name string) (string, error) {
	roomID, err := that.client.Get(ctx, passphraseKey(name)).Result()

	if errors.Is(err, redis.Nil) {
		return "", apperror.ErrIncorrectPassphrase
	}

	if err != nil {
		return "", fmt.Errorf("failed to resolve passphrase: %w", err)
	}

	return roomID, nil
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inaworld/inaworld-backend/internal/apperror"
	"github.com/inaworld/inaworld-backend/internal/entity"
)

// Optimistic transactions are re-run when the watched key changes
// underneath them. Contention on a single room is low (submissions are
// serialized by the turn lock), so a handful of retries is plenty.
const maxUpdateRetries = 10

var ErrRoomAlreadyExists = errors.New("room already exists")

type RoomRepository interface {
	Insert(ctx context.Context, room *entity.Room) error
	GetByID(ctx context.Context, id string) (*entity.Room, error)
	Update(ctx context.Context, id string, mutate func(*entity.Room) error) (*entity.Room, error)
}

type dbRoom struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRoomRepository(client *redis.Client, ttl time.Duration) RoomRepository {
	return &dbRoom{
		client: client,
		ttl:    ttl,
	}
}

func roomKey(id string) string {
	return "room:" + id
}

func (that *dbRoom) Insert(ctx context.Context, room *entity.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("could not marshal room: %w", err)
	}

	ok, err := that.client.SetNX(ctx, roomKey(room.ID), data, that.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to insert room: %w", err)
	}

	if !ok {
		return fmt.Errorf("%w: id %s", ErrRoomAlreadyExists, room.ID)
	}

	return nil
}

func (that *dbRoom) GetByID(ctx context.Context, id string) (*entity.Room, error) {
	response, err := that.client.Get(ctx, roomKey(id)).Result()

	if errors.Is(err, redis.Nil) {
		return nil, apperror.ErrRoomNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get room by id: %w", err)
	}

	var room entity.Room
	if err = json.Unmarshal([]byte(response), &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}

	return &room, nil
}

// Update - reads the room, applies mutate and writes it back as one
// atomic conditional update (WATCH/MULTI). When mutate returns an error
// nothing is written and the error is returned as-is, so domain
// sentinels pass through to the caller.
func (that *dbRoom) Update(ctx context.Context, id string, mutate func(*entity.Room) error) (*entity.Room, error) {
	key := roomKey(id)

	var updated *entity.Room

	txf := func(tx *redis.Tx) error {
		response, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return apperror.ErrRoomNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get room by id: %w", err)
		}

		var room entity.Room
		if err = json.Unmarshal([]byte(response), &room); err != nil {
			return fmt.Errorf("failed to unmarshal room: %w", err)
		}

		if err = mutate(&room); err != nil {
			return err
		}

		data, err := json.Marshal(&room)
		if err != nil {
			return fmt.Errorf("could not marshal room: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, that.ttl)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to write room: %w", err)
		}

		updated = &room

		return nil
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := that.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}

		return updated, nil
	}

	return nil, fmt.Errorf("room update kept racing: %w", redis.TxFailedErr)
}

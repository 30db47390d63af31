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

var ErrStoryAlreadyExists = errors.New("story already exists")

type StoryRepository interface {
	Insert(ctx context.Context, story *entity.Story) error
	GetByID(ctx context.Context, id string) (*entity.Story, error)
}

type dbStory struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStoryRepository(client *redis.Client, ttl time.Duration) StoryRepository {
	return &dbStory{
		client: client,
		ttl:    ttl,
	}
}

func storyKey(id string) string {
	return "story:" + id
}

// Insert - stores the snapshot. Stories are immutable, so overwriting
// an existing one is refused.
func (that *dbStory) Insert(ctx context.Context, story *entity.Story) error {
	data, err := json.Marshal(story)
	if err != nil {
		return fmt.Errorf("could not marshal story: %w", err)
	}

	ok, err := that.client.SetNX(ctx, storyKey(story.ID), data, that.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to insert story: %w", err)
	}

	if !ok {
		return fmt.Errorf("%w: id %s", ErrStoryAlreadyExists, story.ID)
	}

	return nil
}

func (that *dbStory) GetByID(ctx context.Context, id string) (*entity.Story, error) {
	response, err := that.client.Get(ctx, storyKey(id)).Result()

	if errors.Is(err, redis.Nil) {
		return nil, apperror.ErrStoryNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get story by id: %w", err)
	}

	var story entity.Story
	if err = json.Unmarshal([]byte(response), &story); err != nil {
		return nil, fmt.Errorf("failed to unmarshal story: %w", err)
	}

	return &story, nil
}

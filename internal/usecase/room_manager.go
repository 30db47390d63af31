package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/inaworld/inaworld-backend/internal/apperror"
	"github.com/inaworld/inaworld-backend/internal/entity"
	"github.com/inaworld/inaworld-backend/internal/lock"
	"github.com/inaworld/inaworld-backend/internal/longpoll"
	"github.com/inaworld/inaworld-backend/internal/pubsub"
)

type roomRepo interface {
	Insert(ctx context.Context, room *entity.Room) error
	GetByID(ctx context.Context, id string) (*entity.Room, error)
	Update(ctx context.Context, id string, mutate func(*entity.Room) error) (*entity.Room, error)
}

type storyRepo interface {
	Insert(ctx context.Context, story *entity.Story) error
	GetByID(ctx context.Context, id string) (*entity.Story, error)
}

type passphraseRepo interface {
	Register(ctx context.Context, name, roomID string) error
	Resolve(ctx context.Context, name string) (string, error)
}

// PlayState - the play-topic payload and poll result. A finished room
// carries only the story id; an active one carries the full turn state.
type PlayState struct {
	Story           []string `json:"story"`
	TurnQueue       []string `json:"turn_queue"`
	TurnCounter     int      `json:"turn_counter"`
	Writer          string   `json:"writer,omitempty"`
	FinishedStoryID string   `json:"finished_story_id,omitempty"`
}

// LobbyState - the lobby-topic payload and poll result.
type LobbyState struct {
	Status  bool            `json:"status"`
	Writers []entity.Writer `json:"writers,omitempty"`
}

type FinishResult struct {
	StoryID    string `json:"finished_story_id"`
	NextRoomID string `json:"next_room,omitempty"`
}

// RoomManager - orchestrates the turn lock, the room state machine and
// the notification bus so that a submission is one atomic,
// externally-observable operation.
type RoomManager struct {
	logger *slog.Logger

	rooms       roomRepo
	stories     storyRepo
	passphrases passphraseRepo

	turnLock *lock.TurnLock
	bus      *pubsub.Bus

	pollTimeout time.Duration
	lockLease   time.Duration
}

func NewRoomManager(
	logger *slog.Logger,
	rooms roomRepo,
	stories storyRepo,
	passphrases passphraseRepo,
	turnLock *lock.TurnLock,
	bus *pubsub.Bus,
	pollTimeout time.Duration,
	lockLease time.Duration,
) *RoomManager {
	return &RoomManager{
		logger: logger,

		rooms:       rooms,
		stories:     stories,
		passphrases: passphrases,

		turnLock: turnLock,
		bus:      bus,

		pollTimeout: pollTimeout,
		lockLease:   lockLease,
	}
}

// CreateRoom - reserves the passphrase and inserts a pending room with
// a fresh owner id. The passphrase is reserved first so a taken one
// fails before any room exists.
func (that *RoomManager) CreateRoom(ctx context.Context, passphrase string) (*entity.Room, error) {
	room := entity.NewRoom(uuid.NewString(), uuid.NewString())
	room.Passphrase = passphrase

	if err := that.passphrases.Register(ctx, passphrase, room.ID); err != nil {
		return nil, err
	}

	if err := that.rooms.Insert(ctx, room); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	return room, nil
}

// JoinByPassphrase - resolves a passphrase to the room it reserves.
func (that *RoomManager) JoinByPassphrase(ctx context.Context, passphrase string) (string, error) {
	roomID, err := that.passphrases.Resolve(ctx, passphrase)
	if err != nil {
		return "", err
	}

	return roomID, nil
}

// JoinRoom - adds a writer to an unstarted room and notifies the lobby.
func (that *RoomManager) JoinRoom(ctx context.Context, roomID string, writer entity.Writer) (*entity.Room, error) {
	room, err := that.rooms.Update(ctx, roomID, func(r *entity.Room) error {
		return r.AddWriter(writer)
	})
	if err != nil {
		return nil, err
	}

	that.publishLobby(ctx, room)

	return room, nil
}

// RemoveWriter - owner-gated lobby removal.
func (that *RoomManager) RemoveWriter(ctx context.Context, roomID, ownerID, writerID string) (*entity.Room, error) {
	room, err := that.rooms.Update(ctx, roomID, func(r *entity.Room) error {
		return r.RemoveWriter(ownerID, writerID)
	})
	if err != nil {
		return nil, err
	}

	that.publishLobby(ctx, room)

	return room, nil
}

// StartRoom - owner-gated pending-to-active transition. Seeds the turn
// queue from the writers in join order and closes the lobby.
func (that *RoomManager) StartRoom(ctx context.Context, roomID, writerID string) (*entity.Room, error) {
	room, err := that.rooms.Update(ctx, roomID, func(r *entity.Room) error {
		return r.Start(writerID)
	})
	if err != nil {
		return nil, err
	}

	that.publishLobby(ctx, room)

	return room, nil
}

// AddWord - the submit critical section. Validation and formatting run
// before any store call; turn ownership is checked inside the
// conditional update, against the freshest document, because a check
// made before acquiring the lock could be stale by the time we hold
// it. The conditional write also keeps a finish that lands mid-submit
// from being clobbered: the update re-reads, sees the finished room
// and refuses. Lock contention and turn ineligibility both come back
// as ErrWrongTurn: either way the caller may not write right now.
func (that *RoomManager) AddWord(ctx context.Context, roomID, writerID, raw string) (*PlayState, error) {
	fragment, err := entity.FormatWord(raw)
	if err != nil {
		return nil, err
	}

	key := lock.Key(roomID)

	token, err := that.turnLock.Acquire(ctx, key, that.lockLease)
	if errors.Is(err, apperror.ErrLockBusy) {
		return nil, apperror.ErrWrongTurn
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire turn lock: %w", err)
	}

	defer func() {
		// release must survive the request being cancelled mid-section;
		// the lease is only the fallback for a crashed holder
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()

		if rerr := that.turnLock.Release(releaseCtx, key, token); rerr != nil {
			that.logger.Error("failed to release turn lock", "key", key, "error", rerr)
		}
	}()

	room, err := that.rooms.Update(ctx, roomID, func(r *entity.Room) error {
		return r.AppendWord(writerID, fragment)
	})
	if err != nil {
		return nil, err
	}

	state := &PlayState{
		Story:       room.Story,
		TurnQueue:   room.TurnQueue,
		TurnCounter: room.TurnCounter,
		Writer:      writerID,
	}

	if err = that.bus.Publish(ctx, pubsub.PlayTopic(roomID), state); err != nil {
		// waiters recover via the poll timeout heartbeat
		that.logger.Error("failed to publish play update", "room", roomID, "error", err)
	}

	return state, nil
}

// FinishRoom - owner-gated active-to-terminal transition: snapshot the
// story, mark the room finished, notify pollers and set up the
// successor room for play-again. A finish on an already-finished room
// returns the existing snapshot id without side effects.
func (that *RoomManager) FinishRoom(ctx context.Context, roomID, writerID string) (*FinishResult, error) {
	room, err := that.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if writerID != room.OwnerID {
		return nil, apperror.ErrNotOwner
	}

	if room.IsFinished() {
		return &FinishResult{StoryID: room.Finished, NextRoomID: room.NextRoomID}, nil
	}

	story, err := room.Finish(writerID, uuid.NewString())
	if err != nil {
		return nil, err
	}

	if err = that.stories.Insert(ctx, story); err != nil {
		return nil, fmt.Errorf("failed to insert story: %w", err)
	}

	_, err = that.rooms.Update(ctx, roomID, func(r *entity.Room) error {
		if r.IsFinished() {
			return apperror.ErrRoomFinished
		}

		r.Finished = story.ID

		return nil
	})
	if errors.Is(err, apperror.ErrRoomFinished) {
		// lost a concurrent finish; the winner's snapshot stands and ours
		// simply expires with its TTL
		current, gerr := that.rooms.GetByID(ctx, roomID)
		if gerr != nil {
			return nil, gerr
		}

		return &FinishResult{StoryID: current.Finished, NextRoomID: current.NextRoomID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to finish room: %w", err)
	}

	if err = that.bus.Publish(ctx, pubsub.PlayTopic(roomID), &PlayState{FinishedStoryID: story.ID}); err != nil {
		that.logger.Error("failed to publish finished update", "room", roomID, "error", err)
	}

	nextRoomID := that.createNextRoom(ctx, roomID)

	return &FinishResult{StoryID: story.ID, NextRoomID: nextRoomID}, nil
}

// createNextRoom - best effort; finishing succeeded either way.
func (that *RoomManager) createNextRoom(ctx context.Context, roomID string) string {
	log := that.logger.With("method", "createNextRoom")

	next := entity.NewRoom(uuid.NewString(), uuid.NewString())
	if err := that.rooms.Insert(ctx, next); err != nil {
		log.Error("failed to create next room", "room", roomID, "error", err)
		return ""
	}

	if _, err := that.rooms.Update(ctx, roomID, func(r *entity.Room) error {
		r.NextRoomID = next.ID
		return nil
	}); err != nil {
		log.Error("failed to link next room", "room", roomID, "error", err)
		return ""
	}

	return next.ID
}

// PollPlay - long-poll for play-state changes. Resolves immediately if
// the room is finished or its counter already moved past sinceTurn;
// otherwise waits for a notification from some other writer, the
// poller's own submissions are filtered out.
func (that *RoomManager) PollPlay(ctx context.Context, roomID, writerID string, sinceTurn int) (*PlayState, error) {
	sub := that.bus.Subscribe(ctx, pubsub.PlayTopic(roomID))
	defer func() {
		if err := sub.Close(); err != nil {
			that.logger.Error("failed to close play subscription", "room", roomID, "error", err)
		}
	}()

	accept := func(payload []byte) (*PlayState, bool) {
		var state PlayState
		if err := json.Unmarshal(payload, &state); err != nil {
			return nil, false
		}

		if state.FinishedStoryID != "" {
			return &PlayState{FinishedStoryID: state.FinishedStoryID}, true
		}

		if state.Writer == writerID {
			return nil, false
		}

		return &state, true
	}

	fetch := func(ctx context.Context) (*PlayState, bool, error) {
		room, err := that.rooms.GetByID(ctx, roomID)
		if err != nil {
			return nil, false, err
		}

		if room.IsFinished() {
			return &PlayState{FinishedStoryID: room.Finished}, true, nil
		}

		state := &PlayState{
			Story:       room.Story,
			TurnQueue:   room.TurnQueue,
			TurnCounter: room.TurnCounter,
		}

		return state, room.TurnCounter != sinceTurn, nil
	}

	return longpoll.Wait(ctx, sub, that.pollTimeout, accept, fetch)
}

// PollLobby - long-poll for lobby changes. Resolves immediately once
// the room is started; every lobby notification resolves the wait.
func (that *RoomManager) PollLobby(ctx context.Context, roomID string) (*LobbyState, error) {
	sub := that.bus.Subscribe(ctx, pubsub.LobbyTopic(roomID))
	defer func() {
		if err := sub.Close(); err != nil {
			that.logger.Error("failed to close lobby subscription", "room", roomID, "error", err)
		}
	}()

	accept := func(payload []byte) (*LobbyState, bool) {
		var state LobbyState
		if err := json.Unmarshal(payload, &state); err != nil {
			return nil, false
		}

		return &state, true
	}

	fetch := func(ctx context.Context) (*LobbyState, bool, error) {
		room, err := that.rooms.GetByID(ctx, roomID)
		if err != nil {
			return nil, false, err
		}

		state := &LobbyState{Status: room.Started, Writers: room.Writers}

		return state, room.Started, nil
	}

	return longpoll.Wait(ctx, sub, that.pollTimeout, accept, fetch)
}

func (that *RoomManager) GetRoom(ctx context.Context, roomID string) (*entity.Room, error) {
	return that.rooms.GetByID(ctx, roomID)
}

func (that *RoomManager) GetStory(ctx context.Context, storyID string) (*entity.Story, error) {
	return that.stories.GetByID(ctx, storyID)
}

// NextRoom - the play-again successor, empty until the room finishes.
func (that *RoomManager) NextRoom(ctx context.Context, roomID string) (string, error) {
	room, err := that.rooms.GetByID(ctx, roomID)
	if err != nil {
		return "", err
	}

	return room.NextRoomID, nil
}

func (that *RoomManager) publishLobby(ctx context.Context, room *entity.Room) {
	state := &LobbyState{Status: room.Started, Writers: room.Writers}

	if err := that.bus.Publish(ctx, pubsub.LobbyTopic(room.ID), state); err != nil {
		that.logger.Error("failed to publish lobby update", "room", room.ID, "error", err)
	}
}

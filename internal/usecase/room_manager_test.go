package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inaworld/inaworld-backend/internal/apperror"
	"github.com/inaworld/inaworld-backend/internal/entity"
	"github.com/inaworld/inaworld-backend/internal/lock"
	"github.com/inaworld/inaworld-backend/internal/pubsub"
	"github.com/inaworld/inaworld-backend/internal/repository"
	"github.com/inaworld/inaworld-backend/testing/suite"
)

func newManager(st *suite.Suite, pollTimeout time.Duration) *RoomManager {
	rooms := repository.NewRoomRepository(st.Storage, time.Hour)
	stories := repository.NewStoryRepository(st.Storage, time.Hour)
	passphrases := repository.NewPassphraseRepository(st.Storage, time.Hour)

	return NewRoomManager(
		st.Logger,
		rooms,
		stories,
		passphrases,
		lock.New(st.Storage),
		pubsub.New(st.Storage),
		pollTimeout,
		5*time.Second,
	)
}

// newStartedRoom - creates a room with writers Alice and Bob (Alice
// owns it) and starts it, so turn_queue is [alice, bob] at counter 1.
func newStartedRoom(ctx context.Context, t *testing.T, manager *RoomManager, passphrase string) (roomID, alice, bob string) {
	t.Helper()

	room, err := manager.CreateRoom(ctx, passphrase)
	require.NoError(t, err)

	alice = room.OwnerID
	bob = "bob-" + room.ID

	_, err = manager.JoinRoom(ctx, room.ID, entity.Writer{ID: alice, Name: "Alice"})
	require.NoError(t, err)
	_, err = manager.JoinRoom(ctx, room.ID, entity.Writer{ID: bob, Name: "Bob"})
	require.NoError(t, err)

	started, err := manager.StartRoom(ctx, room.ID, alice)
	require.NoError(t, err)
	require.Equal(t, []string{alice, bob}, started.TurnQueue)
	require.Equal(t, 1, started.TurnCounter)

	return room.ID, alice, bob
}

// updateHookRepo - delegates to a real repository, firing hook once
// right before the first Update goes through. Lets a test land another
// operation in the window between a submit taking the turn lock and
// its write.
type updateHookRepo struct {
	repository.RoomRepository
	once sync.Once
	hook func()
}

func (that *updateHookRepo) Update(ctx context.Context, id string, mutate func(*entity.Room) error) (*entity.Room, error) {
	that.once.Do(that.hook)
	return that.RoomRepository.Update(ctx, id, mutate)
}

func TestRoomManager_AddWord(t *testing.T) {
	ctx, st := suite.New(t)
	manager := newManager(st, 20*time.Second)

	t.Run("rejects empty submissions before any store call", func(t *testing.T) {
		_, err := manager.AddWord(ctx, "does-not-matter", "nobody", "   ")
		require.ErrorIs(t, err, apperror.ErrEmptyWord)
	})

	t.Run("scenario: wrong turn then accepted word", func(t *testing.T) {
		// Given: a started room with turn_queue [alice, bob]
		roomID, alice, bob := newStartedRoom(ctx, t, manager, "pass-scenario")

		// When: bob submits out of turn
		_, err := manager.AddWord(ctx, roomID, bob, "hi")

		// Then: wrong-turn with no mutation
		require.ErrorIs(t, err, apperror.ErrWrongTurn)

		room, err := manager.GetRoom(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, 1, room.TurnCounter)
		assert.Equal(t, []string{"In", " a", " world"}, room.Story)

		// When: alice submits on her turn
		state, err := manager.AddWord(ctx, roomID, alice, "hi")

		// Then: the story grows, the queue rotates, the counter advances by 1
		require.NoError(t, err)
		assert.Equal(t, []string{"In", " a", " world", " hi"}, state.Story)
		assert.Equal(t, []string{bob, alice}, state.TurnQueue)
		assert.Equal(t, 2, state.TurnCounter)
		assert.Equal(t, alice, state.Writer)
	})

	t.Run("double submit admits exactly one", func(t *testing.T) {
		// Given: a started room where it is alice's turn
		roomID, alice, _ := newStartedRoom(ctx, t, manager, "pass-race")

		// When: two submissions from alice race for the same turn
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = manager.AddWord(ctx, roomID, alice, "once")
			}(i)
		}
		wg.Wait()

		// Then: exactly one acceptance and one wrong-turn
		accepted, rejected := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				accepted++
			default:
				require.ErrorIs(t, err, apperror.ErrWrongTurn)
				rejected++
			}
		}
		assert.Equal(t, 1, accepted)
		assert.Equal(t, 1, rejected)

		// Then: the counter advanced by exactly 1
		room, err := manager.GetRoom(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, 2, room.TurnCounter)
		assert.Len(t, room.Story, 4)
	})

	t.Run("unknown room", func(t *testing.T) {
		_, err := manager.AddWord(ctx, "no-such-room", "nobody", "hi")
		require.ErrorIs(t, err, apperror.ErrRoomNotFound)
	})
}

func TestRoomManager_Finish(t *testing.T) {
	ctx, st := suite.New(t)
	manager := newManager(st, 20*time.Second)

	t.Run("produces the snapshot and a successor room", func(t *testing.T) {
		// Given: a started room with one accepted word
		roomID, alice, _ := newStartedRoom(ctx, t, manager, "pass-finish")
		_, err := manager.AddWord(ctx, roomID, alice, "hello")
		require.NoError(t, err)

		// When: the owner finishes the room
		result, err := manager.FinishRoom(ctx, roomID, alice)

		// Then: the snapshot joins the fragments verbatim
		require.NoError(t, err)
		require.NotEmpty(t, result.StoryID)

		story, err := manager.GetStory(ctx, result.StoryID)
		require.NoError(t, err)
		assert.Equal(t, "In a world hello", story.Text)
		assert.Equal(t, []string{"Alice", "Bob"}, story.WriterNames)

		// Then: a successor room exists for play-again
		require.NotEmpty(t, result.NextRoomID)
		nextID, err := manager.NextRoom(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, result.NextRoomID, nextID)

		next, err := manager.GetRoom(ctx, nextID)
		require.NoError(t, err)
		assert.True(t, next.IsPending())

		// Then: submissions are disabled for good
		_, err = manager.AddWord(ctx, roomID, alice, "again")
		require.ErrorIs(t, err, apperror.ErrRoomFinished)
	})

	t.Run("finish landing mid-submit is not clobbered", func(t *testing.T) {
		// Given: a started room and a submitter whose write window is
		// hooked so a finish commits inside it
		roomID, alice, _ := newStartedRoom(ctx, t, manager, "pass-midsubmit")

		var result *FinishResult
		rooms := &updateHookRepo{
			RoomRepository: repository.NewRoomRepository(st.Storage, time.Hour),
			hook: func() {
				var ferr error
				result, ferr = manager.FinishRoom(ctx, roomID, alice)
				require.NoError(t, ferr)
			},
		}
		submitter := NewRoomManager(
			st.Logger,
			rooms,
			repository.NewStoryRepository(st.Storage, time.Hour),
			repository.NewPassphraseRepository(st.Storage, time.Hour),
			lock.New(st.Storage),
			pubsub.New(st.Storage),
			20*time.Second,
			5*time.Second,
		)

		// When: alice submits and the finish lands between her lock
		// acquisition and her write
		_, err := submitter.AddWord(ctx, roomID, alice, "late")

		// Then: the submission is refused, the word is not appended and
		// the room stays finished with the snapshot intact
		require.ErrorIs(t, err, apperror.ErrRoomFinished)

		room, err := manager.GetRoom(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, result.StoryID, room.Finished)
		assert.Equal(t, []string{"In", " a", " world"}, room.Story)

		story, err := manager.GetStory(ctx, result.StoryID)
		require.NoError(t, err)
		assert.Equal(t, "In a world", story.Text)
	})

	t.Run("second finish is idempotent-safe", func(t *testing.T) {
		roomID, alice, _ := newStartedRoom(ctx, t, manager, "pass-refinish")

		first, err := manager.FinishRoom(ctx, roomID, alice)
		require.NoError(t, err)

		// When: the owner finishes again
		second, err := manager.FinishRoom(ctx, roomID, alice)

		// Then: the same story id comes back, no second snapshot
		require.NoError(t, err)
		assert.Equal(t, first.StoryID, second.StoryID)
	})

	t.Run("non-owner may not finish", func(t *testing.T) {
		roomID, _, bob := newStartedRoom(ctx, t, manager, "pass-notowner")

		_, err := manager.FinishRoom(ctx, roomID, bob)
		require.ErrorIs(t, err, apperror.ErrNotOwner)
	})
}

func TestRoomManager_PollPlay(t *testing.T) {
	ctx, st := suite.New(t)

	t.Run("stale turn resolves immediately", func(t *testing.T) {
		manager := newManager(st, 20*time.Second)
		roomID, alice, bob := newStartedRoom(ctx, t, manager, "pass-stale")

		_, err := manager.AddWord(ctx, roomID, alice, "hi")
		require.NoError(t, err)

		// When: bob polls with the turn he last saw
		start := time.Now()
		state, err := manager.PollPlay(ctx, roomID, bob, 1)

		// Then: current state comes back without waiting
		require.NoError(t, err)
		assert.Equal(t, 2, state.TurnCounter)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("timeout returns unchanged state", func(t *testing.T) {
		manager := newManager(st, 500*time.Millisecond)
		roomID, _, bob := newStartedRoom(ctx, t, manager, "pass-heartbeat")

		// When: nothing happens for the whole poll window
		state, err := manager.PollPlay(ctx, roomID, bob, 1)

		// Then: the unchanged state is still returned
		require.NoError(t, err)
		assert.Equal(t, 1, state.TurnCounter)
		assert.Equal(t, []string{"In", " a", " world"}, state.Story)
	})

	t.Run("wakes on another writer's submission", func(t *testing.T) {
		manager := newManager(st, 20*time.Second)
		roomID, alice, bob := newStartedRoom(ctx, t, manager, "pass-wake")

		type poll struct {
			state *PlayState
			err   error
		}
		done := make(chan poll, 1)
		go func() {
			state, err := manager.PollPlay(ctx, roomID, bob, 1)
			done <- poll{state, err}
		}()

		// give the poller time to subscribe before the word lands
		time.Sleep(300 * time.Millisecond)

		_, err := manager.AddWord(ctx, roomID, alice, "wake")
		require.NoError(t, err)

		select {
		case got := <-done:
			require.NoError(t, got.err)
			assert.Equal(t, 2, got.state.TurnCounter)
			assert.Equal(t, alice, got.state.Writer)
		case <-time.After(10 * time.Second):
			t.Fatal("poll did not wake on the play notification")
		}
	})

	t.Run("own submission does not wake the submitter", func(t *testing.T) {
		manager := newManager(st, 2*time.Second)
		roomID, alice, _ := newStartedRoom(ctx, t, manager, "pass-self")

		// Given: alice just played; counter is now 2 and it's bob's turn
		state, err := manager.AddWord(ctx, roomID, alice, "mine")
		require.NoError(t, err)
		require.Equal(t, 2, state.TurnCounter)

		type poll struct {
			state *PlayState
			err   error
		}
		done := make(chan poll, 1)
		go func() {
			state, perr := manager.PollPlay(ctx, roomID, alice, 2)
			done <- poll{state, perr}
		}()

		time.Sleep(300 * time.Millisecond)

		// When: alice's stale duplicate notification arrives (replayed here
		// by publishing the payload she produced)
		bus := pubsub.New(st.Storage)
		require.NoError(t, bus.Publish(ctx, pubsub.PlayTopic(roomID), state))

		// Then: her poll ignores it and only the timeout heartbeat answers
		got := <-done
		require.NoError(t, got.err)
		assert.Equal(t, 2, got.state.TurnCounter)
		assert.Empty(t, got.state.Writer)
	})

	t.Run("finished room resolves with the story id", func(t *testing.T) {
		manager := newManager(st, 20*time.Second)
		roomID, alice, bob := newStartedRoom(ctx, t, manager, "pass-finished")

		result, err := manager.FinishRoom(ctx, roomID, alice)
		require.NoError(t, err)

		state, err := manager.PollPlay(ctx, roomID, bob, 1)
		require.NoError(t, err)
		assert.Equal(t, result.StoryID, state.FinishedStoryID)
	})

	t.Run("cancelled poll is abandoned", func(t *testing.T) {
		manager := newManager(st, 20*time.Second)
		roomID, _, bob := newStartedRoom(ctx, t, manager, "pass-cancel")

		pollCtx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(200 * time.Millisecond)
			cancel()
		}()

		_, err := manager.PollPlay(pollCtx, roomID, bob, 1)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestRoomManager_PollLobby(t *testing.T) {
	ctx, st := suite.New(t)

	t.Run("started room resolves immediately", func(t *testing.T) {
		manager := newManager(st, 20*time.Second)
		roomID, _, _ := newStartedRoom(ctx, t, manager, "pass-lobby-started")

		state, err := manager.PollLobby(ctx, roomID)
		require.NoError(t, err)
		assert.True(t, state.Status)
	})

	t.Run("wakes when a writer joins", func(t *testing.T) {
		manager := newManager(st, 20*time.Second)

		room, err := manager.CreateRoom(ctx, "pass-lobby-join")
		require.NoError(t, err)

		type poll struct {
			state *LobbyState
			err   error
		}
		done := make(chan poll, 1)
		go func() {
			state, perr := manager.PollLobby(ctx, room.ID)
			done <- poll{state, perr}
		}()

		time.Sleep(300 * time.Millisecond)

		_, err = manager.JoinRoom(ctx, room.ID, entity.Writer{ID: "w1", Name: "Wanda"})
		require.NoError(t, err)

		select {
		case got := <-done:
			require.NoError(t, got.err)
			assert.False(t, got.state.Status)
			assert.Equal(t, []entity.Writer{{ID: "w1", Name: "Wanda"}}, got.state.Writers)
		case <-time.After(10 * time.Second):
			t.Fatal("poll did not wake on the lobby notification")
		}
	})

	t.Run("timeout returns writers and status", func(t *testing.T) {
		manager := newManager(st, 500*time.Millisecond)

		room, err := manager.CreateRoom(ctx, "pass-lobby-heartbeat")
		require.NoError(t, err)
		_, err = manager.JoinRoom(ctx, room.ID, entity.Writer{ID: "w1", Name: "Wanda"})
		require.NoError(t, err)

		state, err := manager.PollLobby(ctx, room.ID)
		require.NoError(t, err)
		assert.False(t, state.Status)
		assert.Len(t, state.Writers, 1)
	})
}

func TestRoomManager_Lobby(t *testing.T) {
	ctx, st := suite.New(t)
	manager := newManager(st, 20*time.Second)

	t.Run("passphrase round trip", func(t *testing.T) {
		room, err := manager.CreateRoom(ctx, "open sesame")
		require.NoError(t, err)

		roomID, err := manager.JoinByPassphrase(ctx, "open sesame")
		require.NoError(t, err)
		assert.Equal(t, room.ID, roomID)

		// When: someone reuses the passphrase
		_, err = manager.CreateRoom(ctx, "open sesame")

		// Then: it is refused until the reservation expires
		require.ErrorIs(t, err, apperror.ErrPassphraseTaken)
	})

	t.Run("unknown passphrase", func(t *testing.T) {
		_, err := manager.JoinByPassphrase(ctx, "never registered")
		require.ErrorIs(t, err, apperror.ErrIncorrectPassphrase)
	})

	t.Run("owner removes a writer before start", func(t *testing.T) {
		room, err := manager.CreateRoom(ctx, "pass-remove")
		require.NoError(t, err)

		_, err = manager.JoinRoom(ctx, room.ID, entity.Writer{ID: "w1", Name: "Wanda"})
		require.NoError(t, err)
		_, err = manager.JoinRoom(ctx, room.ID, entity.Writer{ID: "w2", Name: "Wim"})
		require.NoError(t, err)

		updated, err := manager.RemoveWriter(ctx, room.ID, room.OwnerID, "w1")
		require.NoError(t, err)
		assert.Equal(t, []entity.Writer{{ID: "w2", Name: "Wim"}}, updated.Writers)

		// Then: the removed writer is not in the queue after start
		_, err = manager.JoinRoom(ctx, room.ID, entity.Writer{ID: room.OwnerID, Name: "Owner"})
		require.NoError(t, err)
		started, err := manager.StartRoom(ctx, room.ID, room.OwnerID)
		require.NoError(t, err)
		assert.Equal(t, []string{"w2", room.OwnerID}, started.TurnQueue)
	})
}

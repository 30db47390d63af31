package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/inaworld/inaworld-backend/internal/apperror"
	"github.com/inaworld/inaworld-backend/internal/entity"
	"github.com/inaworld/inaworld-backend/internal/usecase"
)

type RoomManager interface {
	CreateRoom(ctx context.Context, passphrase string) (*entity.Room, error)
	JoinByPassphrase(ctx context.Context, passphrase string) (string, error)
	JoinRoom(ctx context.Context, roomID string, writer entity.Writer) (*entity.Room, error)
	RemoveWriter(ctx context.Context, roomID, ownerID, writerID string) (*entity.Room, error)
	StartRoom(ctx context.Context, roomID, writerID string) (*entity.Room, error)
	AddWord(ctx context.Context, roomID, writerID, raw string) (*usecase.PlayState, error)
	FinishRoom(ctx context.Context, roomID, writerID string) (*usecase.FinishResult, error)
	PollPlay(ctx context.Context, roomID, writerID string, sinceTurn int) (*usecase.PlayState, error)
	PollLobby(ctx context.Context, roomID string) (*usecase.LobbyState, error)
	GetRoom(ctx context.Context, roomID string) (*entity.Room, error)
	GetStory(ctx context.Context, storyID string) (*entity.Story, error)
	NextRoom(ctx context.Context, roomID string) (string, error)
}

type handlers struct {
	logger  *slog.Logger
	manager RoomManager
}

// NewRouter - wires the HTTP surface. Kept separate from the server so
// tests can drive the routes through httptest.
func NewRouter(logger *slog.Logger, manager RoomManager) *httprouter.Router {
	h := &handlers{
		logger:  logger.With("component", "rest"),
		manager: manager,
	}

	router := httprouter.New()

	router.HandlerFunc(http.MethodGet, "/ping", pingHandler)

	router.POST("/rooms", h.createRoom)
	router.POST("/join", h.joinByPassphrase)
	router.GET("/rooms/:room", h.getRoom)
	router.POST("/rooms/:room/writers", h.joinRoom)
	router.DELETE("/rooms/:room/writers/:id", h.removeWriter)
	router.POST("/rooms/:room/start", h.startRoom)
	router.POST("/rooms/:room/finish", h.finishRoom)
	router.POST("/rooms/:room/words", h.addWord)
	router.GET("/rooms/:room/poll/play", h.pollPlay)
	router.GET("/rooms/:room/poll/lobby", h.pollLobby)
	router.GET("/rooms/:room/next", h.nextRoom)
	router.GET("/stories/:story", h.getStory)

	return router
}

func (that *handlers) createRoom(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		Passphrase string `json:"passphrase"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Passphrase == "" {
		that.writeResult(w, http.StatusBadRequest, "bad-request")
		return
	}

	room, err := that.manager.CreateRoom(r.Context(), body.Passphrase)
	if err != nil {
		that.writeError(w, r, err)
		return
	}

	that.writeJSON(w, http.StatusCreated, map[string]string{
		"room_id":  room.ID,
		"owner_id": room.OwnerID,
	})
}

func (that *handlers) getRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	room, err := that.manager.GetRoom(r.Context(), ps.ByName("room"))
	if err != nil {
		that.writeError(w, r, err)
		return
	}

	that.writeJSON(w, http.StatusOK, room)
}

// joinByPassphrase - resolves a passphrase to the room it reserves.
func (that *handlers) joinByPassphrase(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		Passphrase string `json:"passphrase"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		that.writeResult(w, http.StatusBadRequest, "bad-request")
		return
	}

	roomID, err := that.manager.JoinByPassphrase(r.Context(), body.Passphrase)
	if err != nil {
		that.writeError(w, r, err)
		return
	}

	that.writeJSON(w, http.StatusOK, map[string]string{"room_id": roomID})
}

func (that *handlers) joinRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var body struct {
		WriterID string `json:"writer_id"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		that.writeResult(w, http.StatusBadRequest, "bad-request")
		return
	}

	if body.WriterID == "" {
		body.WriterID = uuid.NewString()
	}

	room, err := that.manager.JoinRoom(r.Context(), ps.ByName("room"), entity.Writer{
		ID:   body.WriterID,
		Name: body.Name,
	})
	if err != nil {
		that.writeError(w, r, err)
		return
	}

	that.writeJSON(w, http.StatusOK, map[string]any{
		"room_id":   room.ID,
		"writer_id": body.WriterID,
		"writers":   room.Writers,
	})
}

func (that *handlers) removeWriter(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ownerID := r.URL.Query().Get("writer")

	room, err := that.manager.RemoveWriter(r.Context(), ps.ByName("room"), ownerID, ps.ByName("id"))
	if err != nil {
		that.writeError(w, r, err)
		return
	}

	that.writeJSON(w, http.StatusOK, map[string]any{"writers": room.Writers})
}

func (that *handlers) startRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	writerID := r.URL.Query().Get("writer")

	room, err := that.manager.StartRoom(r.Context(), ps.ByName("room"), writerID)
	if err != nil {
		that.writeError(w, r, err)
		return
	}

	that.writeResult(w, http.StatusOK, map[string]any{
		"status":       true,
		"turn_queue":   room.TurnQueue,
		"turn_counter": room.TurnCounter,
	})
}

func (that *handlers) finishRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	writerID := r.URL.Query().Get("writer")

	result, err := that.manager.FinishRoom(r.Context(), ps.ByName("room"), writerID)
	if err != nil {
		that.writeError(w, r, err)
		return
	}

	that.writeResult(w, http.StatusOK, result)
}

func (that *handlers) addWord(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var body struct {
		Word string `json:"word"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		that.writeResult(w, http.StatusBadRequest, "bad-request")
		return
	}

	writerID := r.URL.Query().Get("writer")

	state, err := that.manager.AddWord(r.Context(), ps.ByName("room"), writerID, body.Word)
	if err != nil {
		that.writeError(w, r, err)
		return
	}

	that.writeResult(w, http.StatusOK, state)
}

func (that *handlers) pollPlay(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	writerID := r.URL.Query().Get("writer")

	sinceTurn, err := strconv.Atoi(r.URL.Query().Get("turn"))
	if err != nil {
		that.writeResult(w, http.StatusBadRequest, "bad-request")
		return
	}

	state, err := that.manager.PollPlay(r.Context(), ps.ByName("room"), writerID, sinceTurn)
	if err != nil {
		that.writeError(w, r, err)
		return
	}

	that.writeResult(w, http.StatusOK, state)
}

func (that *handlers) pollLobby(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	state, err := that.manager.PollLobby(r.Context(), ps.ByName("room"))
	if err != nil {
		that.writeError(w, r, err)
		return
	}

	that.writeResult(w, http.StatusOK, state)
}

func (that *handlers) nextRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	nextID, err := that.manager.NextRoom(r.Context(), ps.ByName("room"))
	if err != nil {
		that.writeError(w, r, err)
		return
	}

	if nextID == "" {
		that.writeResult(w, http.StatusNotFound, "not-found")
		return
	}

	that.writeJSON(w, http.StatusOK, map[string]string{"room_id": nextID})
}

func (that *handlers) getStory(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	story, err := that.manager.GetStory(r.Context(), ps.ByName("story"))
	if err != nil {
		that.writeError(w, r, err)
		return
	}

	that.writeJSON(w, http.StatusOK, map[string]any{
		"id":      story.ID,
		"text":    story.Text,
		"writers": story.WriterNames,
		"byline":  story.Byline(),
	})
}

// writeError - maps the error taxonomy onto responses. Expected game
// outcomes stay 200 with a result string; genuine failures become 5xx.
func (that *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apperror.ErrEmptyWord):
		that.writeResult(w, http.StatusOK, "empty-word")
	case errors.Is(err, apperror.ErrWrongTurn):
		that.writeResult(w, http.StatusOK, "wrong-turn")
	case errors.Is(err, apperror.ErrRoomNotFound),
		errors.Is(err, apperror.ErrStoryNotFound),
		errors.Is(err, apperror.ErrIncorrectPassphrase):
		that.writeResult(w, http.StatusNotFound, "not-found")
	case errors.Is(err, apperror.ErrNotOwner):
		that.writeResult(w, http.StatusForbidden, "not-owner")
	case errors.Is(err, apperror.ErrPassphraseTaken):
		that.writeResult(w, http.StatusConflict, "passphrase-taken")
	case errors.Is(err, apperror.ErrRoomStarted):
		that.writeResult(w, http.StatusConflict, "already-started")
	case errors.Is(err, apperror.ErrRoomNotStarted):
		that.writeResult(w, http.StatusConflict, "not-started")
	case errors.Is(err, apperror.ErrRoomFinished):
		that.writeResult(w, http.StatusConflict, "finished")
	case errors.Is(err, apperror.ErrNoWriters):
		that.writeResult(w, http.StatusConflict, "no-writers")
	case errors.Is(err, context.Canceled), errors.Is(r.Context().Err(), context.Canceled):
		// caller went away; nothing to answer
	default:
		that.logger.Error("request failed", "path", r.URL.Path, "error", err)
		that.writeResult(w, http.StatusInternalServerError, "error")
	}
}

func (that *handlers) writeResult(w http.ResponseWriter, status int, result any) {
	that.writeJSON(w, status, map[string]any{"result": result})
}

func (that *handlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		that.logger.Error("failed to encode response", "error", err)
	}
}

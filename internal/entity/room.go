package entity

import (
	"strings"

	"github.com/inaworld/inaworld-backend/internal/apperror"
)

// punctuation marks that glue onto the previous fragment instead of
// getting a leading space.
const punctuation = ".,?"

type Writer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Room - one instance of the collaborative story game. The head of
// TurnQueue is the only writer whose submission may be accepted.
type Room struct {
	ID          string   `json:"id"`
	Passphrase  string   `json:"passphrase,omitempty"`
	Story       []string `json:"story"`
	TurnQueue   []string `json:"turn_queue"`
	TurnCounter int      `json:"turn_counter"`
	Started     bool     `json:"started"`
	Finished    string   `json:"finished,omitempty"`
	NextRoomID  string   `json:"next_room,omitempty"`
	OwnerID     string   `json:"owner_id"`
	Writers     []Writer `json:"writers"`
}

// NewRoom - creates a pending room with the seed story.
func NewRoom(id, ownerID string) *Room {
	return &Room{
		ID:          id,
		Story:       []string{"In", " a", " world"},
		TurnQueue:   []string{},
		TurnCounter: 1,
		OwnerID:     ownerID,
		Writers:     []Writer{},
	}
}

func (that *Room) IsPending() bool {
	return !that.Started && !that.IsFinished()
}

func (that *Room) IsActive() bool {
	return that.Started && !that.IsFinished()
}

func (that *Room) IsFinished() bool {
	return that.Finished != ""
}

// AddWriter - registers a writer in the lobby. Adding an id that is
// already present is a no-op.
func (that *Room) AddWriter(writer Writer) error {
	if that.IsFinished() {
		return apperror.ErrRoomFinished
	}

	if that.Started {
		return apperror.ErrRoomStarted
	}

	for _, existing := range that.Writers {
		if existing.ID == writer.ID {
			return nil
		}
	}

	that.Writers = append(that.Writers, writer)

	return nil
}

// RemoveWriter - removes a writer from the lobby. Only the owner may
// remove writers, and only before the room is started.
func (that *Room) RemoveWriter(ownerID, writerID string) error {
	if that.IsFinished() {
		return apperror.ErrRoomFinished
	}

	if that.Started {
		return apperror.ErrRoomStarted
	}

	if ownerID != that.OwnerID {
		return apperror.ErrNotOwner
	}

	writers := make([]Writer, 0, len(that.Writers))
	for _, w := range that.Writers {
		if w.ID != writerID {
			writers = append(writers, w)
		}
	}
	that.Writers = writers

	return nil
}

// Start - moves the room from pending to active. Only the owner may
// start; the turn queue is seeded with the writers in join order.
func (that *Room) Start(writerID string) error {
	if that.IsFinished() {
		return apperror.ErrRoomFinished
	}

	if that.Started {
		return apperror.ErrRoomStarted
	}

	if writerID != that.OwnerID {
		return apperror.ErrNotOwner
	}

	if len(that.Writers) == 0 {
		return apperror.ErrNoWriters
	}

	queue := make([]string, 0, len(that.Writers))
	for _, w := range that.Writers {
		queue = append(queue, w.ID)
	}

	that.TurnQueue = queue
	that.Started = true

	return nil
}

// AppendWord - accepts a formatted fragment from the writer at the head
// of the turn queue: appends it to the story, rotates the queue and
// bumps the turn counter. Any other writer gets ErrWrongTurn and the
// room is left untouched.
func (that *Room) AppendWord(writerID, fragment string) error {
	if that.IsFinished() {
		return apperror.ErrRoomFinished
	}

	if !that.Started {
		return apperror.ErrRoomNotStarted
	}

	if len(that.TurnQueue) == 0 || that.TurnQueue[0] != writerID {
		return apperror.ErrWrongTurn
	}

	that.Story = append(that.Story, fragment)
	that.TurnQueue = append(that.TurnQueue[1:], writerID)
	that.TurnCounter++

	return nil
}

// Finish - moves the room to its terminal state and produces the story
// snapshot. Only the owner may finish, exactly once.
func (that *Room) Finish(writerID, storyID string) (*Story, error) {
	if writerID != that.OwnerID {
		return nil, apperror.ErrNotOwner
	}

	if that.IsFinished() {
		return nil, apperror.ErrRoomFinished
	}

	if !that.Started {
		return nil, apperror.ErrRoomNotStarted
	}

	names := make([]string, 0, len(that.Writers))
	for _, w := range that.Writers {
		names = append(names, w.Name)
	}

	that.Finished = storyID

	return &Story{
		ID:          storyID,
		Text:        strings.Join(that.Story, ""),
		WriterNames: names,
	}, nil
}

// FormatWord - turns a raw submission into a story fragment. Fragments
// normally get a single leading space so they concatenate into prose;
// a submission starting with punctuation glues onto the previous
// fragment, carrying at most one following word with it.
func FormatWord(raw string) (string, error) {
	tokens := strings.Fields(raw)
	if len(tokens) == 0 {
		return "", apperror.ErrEmptyWord
	}

	first := tokens[0]
	if !strings.ContainsAny(first[:1], punctuation) {
		return " " + first, nil
	}

	if len(tokens) == 1 {
		return first, nil
	}

	return first + " " + tokens[1], nil
}

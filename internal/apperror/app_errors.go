package apperror

import "errors"

var (
	ErrEmptyWord   = errors.New("submitted word is empty")
	ErrWrongTurn   = errors.New("it's not your turn")
	ErrLockBusy    = errors.New("turn lock is held by another writer")
	ErrNotOwner    = errors.New("only the room owner may do this")
	ErrNoWriters   = errors.New("room has no writers")
	ErrRoomStarted = errors.New("room is already started")

	ErrRoomNotStarted = errors.New("room is not started")
	ErrRoomFinished   = errors.New("room is already finished")

	ErrRoomNotFound  = errors.New("room not found")
	ErrStoryNotFound = errors.New("story not found")

	ErrPassphraseTaken     = errors.New("passphrase is already taken")
	ErrIncorrectPassphrase = errors.New("no room with that passphrase")
)

package domain

import "errors"

// Failure taxonomy shared across the client. Transport and engine level
// faults are translated into these at the synchronizer boundary; nothing
// else escapes to the UI layer.
var (
	// ErrUnauthorized means missing or expired viewer credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound means the session id is unknown to the server.
	ErrNotFound = errors.New("not found")
	// ErrIllegalMove means the local legality check refused the move;
	// nothing was transmitted.
	ErrIllegalMove = errors.New("illegal move")
	// ErrGameOver means a move was attempted after a terminal state.
	ErrGameOver = errors.New("game over")
	// ErrCorruptLog means the recorded move log cannot be replayed.
	// Position derivation halts at the last good position.
	ErrCorruptLog = errors.New("corrupt move log")
	// ErrChannelClosed means the realtime connection is gone; recovery
	// is a re-mount of the game view.
	ErrChannelClosed = errors.New("channel closed")
)

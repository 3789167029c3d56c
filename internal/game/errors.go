/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

// GameError is a constant error returned while building an engine.
type GameError string

func (e GameError) Error() string {
	return string(e)
}

const (
	ErrNilConfig           GameError = "config cannot be nil"
	ErrNilPicker           GameError = "media picker cannot be nil"
	ErrNilPlayers          GameError = "player registry cannot be nil"
	ErrInvalidTotalRounds  GameError = "total rounds must be at least 1"
	ErrInvalidTurnDuration GameError = "turn duration must be positive"
	ErrInvalidReveal       GameError = "reveal duration cannot be negative"
	ErrInvalidIdleRounds   GameError = "idle rounds cannot be negative"
)

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package game runs the single shared guessing game.
//
// Every round walks guessing -> reveal -> (next round's) guessing. There is
// no background timer: each read or write first checks whether the current
// phase is due to end, so all transitions happen under the same mutex that
// serializes guesses, joins and resets. Pollers therefore never observe a
// half-applied transition.
package game

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/Seednode/ageguess/internal/media"
	"github.com/Seednode/ageguess/internal/players"
	"github.com/Seednode/ageguess/internal/scoring"
)

const (
	MinGuessDays = 0
	MaxGuessDays = 365

	DefaultTotalRounds    = 50
	DefaultTurnDuration   = 120 * time.Second
	DefaultRevealDuration = 5 * time.Second
	DefaultMediaPrefix    = "/media/"
)

//go:generate mockgen -package=mocks -destination=mocks/mock_picker.go github.com/Seednode/ageguess/internal/game Picker

// Picker draws the media for a round. Paths in exclude were already shown
// this game and should be avoided when possible.
type Picker interface {
	Pick(exclude map[string]bool) (media.Item, error)
}

type Phase string

const (
	PhaseGuessing Phase = "guessing"
	PhaseReveal   Phase = "reveal"
)

// Reason explains why a write was dropped.
type Reason string

const (
	ReasonNoActiveGame Reason = "no_active_game"
	ReasonReveal       Reason = "reveal"
	ReasonRoundOver    Reason = "round_over"
	ReasonNotJoined    Reason = "not_joined"
)

type Outcome struct {
	Accepted bool   `json:"accepted"`
	Reason   Reason `json:"reason,omitempty"`
}

func accepted() Outcome {
	return Outcome{Accepted: true}
}

func dropped(reason Reason) Outcome {
	return Outcome{Reason: reason}
}

type Config struct {
	Picker  Picker
	Players *players.Registry
	Clock   clockwork.Clock
	Logger  zerolog.Logger

	TotalRounds    int
	TurnDuration   time.Duration
	RevealDuration time.Duration

	// ImageTurnDuration replaces TurnDuration for image rounds when set.
	ImageTurnDuration time.Duration

	// IdleRounds removes an active player after this many consecutive
	// rounds without a guess. Zero disables removal.
	IdleRounds int

	BabyName    string
	MediaPrefix string
}

type guess struct {
	days        int
	submittedAt time.Time
}

type round struct {
	number       int
	item         media.Item
	duration     time.Duration
	startedAt    time.Time
	endsAt       time.Time
	revealEndsAt time.Time
	phase        Phase
	guesses      map[string]guess
	ready        map[string]bool
	results      map[string]scoring.Result
}

type state struct {
	id      string
	active  bool
	round   int
	current *round
	pending *media.Item
	joined  map[string]bool
	scores  map[string]int
	misses  map[string]int
	used    map[string]bool
	err     error
}

func newState() *state {
	return &state{
		id:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		joined: make(map[string]bool),
		scores: make(map[string]int),
		misses: make(map[string]int),
		used:   make(map[string]bool),
	}
}

// Engine owns the one game of the process. The zero value is not usable;
// build one with New.
type Engine struct {
	mu   sync.Mutex
	game *state

	picker  Picker
	players *players.Registry
	clock   clockwork.Clock
	log     zerolog.Logger

	totalRounds       int
	turnDuration      time.Duration
	imageTurnDuration time.Duration
	revealDuration    time.Duration
	idleRounds        int
	babyName          string
	mediaPrefix       string
}

// New builds the engine and starts the first round. A failure to draw media
// leaves the game inactive rather than failing construction, so the
// snapshot stays servable until a reset succeeds.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if cfg.Picker == nil {
		return nil, ErrNilPicker
	}
	if cfg.Players == nil {
		return nil, ErrNilPlayers
	}
	if cfg.TotalRounds < 0 {
		return nil, ErrInvalidTotalRounds
	}
	if cfg.TurnDuration < 0 || cfg.ImageTurnDuration < 0 {
		return nil, ErrInvalidTurnDuration
	}
	if cfg.RevealDuration < 0 {
		return nil, ErrInvalidReveal
	}
	if cfg.IdleRounds < 0 {
		return nil, ErrInvalidIdleRounds
	}

	e := &Engine{
		picker:            cfg.Picker,
		players:           cfg.Players,
		clock:             cfg.Clock,
		log:               cfg.Logger,
		totalRounds:       cfg.TotalRounds,
		turnDuration:      cfg.TurnDuration,
		imageTurnDuration: cfg.ImageTurnDuration,
		revealDuration:    cfg.RevealDuration,
		idleRounds:        cfg.IdleRounds,
		babyName:          cfg.BabyName,
		mediaPrefix:       cfg.MediaPrefix,
	}

	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.totalRounds == 0 {
		e.totalRounds = DefaultTotalRounds
	}
	if e.turnDuration == 0 {
		e.turnDuration = DefaultTurnDuration
	}
	if e.revealDuration == 0 {
		e.revealDuration = DefaultRevealDuration
	}
	if e.mediaPrefix == "" {
		e.mediaPrefix = DefaultMediaPrefix
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.game = newState()
	_ = e.startRoundLocked(e.clock.Now())

	return e, nil
}

// Reset discards the current game and starts round 1 of a new one with a new
// game id. Players stay registered but must join again. The returned error is
// non-nil when no media could be drawn; the new game is then inactive.
func (e *Engine) Reset() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	previous := e.game.id
	e.game = newState()

	e.log.Info().
		Str("previous_game_id", previous).
		Str("game_id", e.game.id).
		Msg("game reset")

	return e.game.id, e.startRoundLocked(e.clock.Now())
}

// Join marks a registered player as taking part in the current game. Unknown
// ids are ignored.
func (e *Engine) Join(playerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.advanceLocked(e.clock.Now())

	if !e.players.Exists(playerID) {
		return false
	}

	g := e.game
	if !g.joined[playerID] {
		e.log.Debug().Str("game_id", g.id).Str("player_id", playerID).Msg("player joined")
	}

	g.joined[playerID] = true
	g.misses[playerID] = 0

	return true
}

// Guess records a player's guess for the current round, clamped to the valid
// range. Guesses outside the guessing window or from players who have not
// joined are dropped; a second guess replaces the first.
func (e *Engine) Guess(playerID string, days int) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	e.advanceLocked(now)

	r, reason := e.openRoundLocked(now, playerID)
	if r == nil {
		return dropped(reason)
	}

	r.guesses[playerID] = guess{
		days:        min(max(days, MinGuessDays), MaxGuessDays),
		submittedAt: now,
	}

	return accepted()
}

// Ready marks a player as done with the current round. Once every joined
// player is ready the round moves to reveal without waiting for the timer.
func (e *Engine) Ready(playerID string) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	e.advanceLocked(now)

	r, reason := e.openRoundLocked(now, playerID)
	if r == nil {
		return dropped(reason)
	}

	r.ready[playerID] = true

	if e.quorumLocked() {
		e.revealLocked(now, "all players ready")
	}

	return accepted()
}

// Snapshot returns a consistent view of the game after applying any due
// phase transition.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	e.advanceLocked(now)

	return e.snapshotLocked(now)
}

func (e *Engine) Leaderboard() []scoring.Standing {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.advanceLocked(e.clock.Now())

	return e.leaderboardLocked()
}

func (e *Engine) openRoundLocked(now time.Time, playerID string) (*round, Reason) {
	g := e.game
	r := g.current

	switch {
	case !g.active || r == nil:
		return nil, ReasonNoActiveGame
	case r.phase == PhaseReveal:
		return nil, ReasonReveal
	case !now.Before(r.endsAt):
		return nil, ReasonRoundOver
	case !g.joined[playerID]:
		return nil, ReasonNotJoined
	}

	return r, ""
}

// advanceLocked applies at most one due transition.
func (e *Engine) advanceLocked(now time.Time) {
	g := e.game
	r := g.current
	if !g.active || r == nil {
		return
	}

	switch r.phase {
	case PhaseGuessing:
		if !now.Before(r.endsAt) {
			e.revealLocked(now, "timer expired")
		} else if e.quorumLocked() {
			e.revealLocked(now, "all players ready")
		}
	case PhaseReveal:
		if now.Before(r.revealEndsAt) {
			return
		}

		if g.round >= e.totalRounds {
			g.active = false
			e.log.Info().
				Str("game_id", g.id).
				Int("rounds", g.round).
				Msg("game over")

			return
		}

		_ = e.startRoundLocked(now)
	}
}

func (e *Engine) quorumLocked() bool {
	g := e.game
	r := g.current
	if r == nil || len(g.joined) == 0 {
		return false
	}

	for id := range g.joined {
		if !r.ready[id] {
			return false
		}
	}

	return true
}

func (e *Engine) startRoundLocked(now time.Time) error {
	g := e.game

	if g.round >= e.totalRounds {
		g.active = false

		return nil
	}

	var item media.Item
	if g.pending != nil {
		item = *g.pending
		g.pending = nil
	} else {
		var err error

		item, err = e.drawLocked()
		if err != nil {
			g.active = false
			g.err = err

			e.log.Error().
				Err(err).
				Str("game_id", g.id).
				Int("round", g.round+1).
				Msg("cannot start round")

			return err
		}
	}

	g.round++
	g.active = true
	g.err = nil

	duration := e.durationFor(item.Kind)
	g.current = &round{
		number:    g.round,
		item:      item,
		duration:  duration,
		startedAt: now,
		endsAt:    now.Add(duration),
		phase:     PhaseGuessing,
		guesses:   make(map[string]guess),
		ready:     make(map[string]bool),
	}

	e.log.Info().
		Str("game_id", g.id).
		Int("round", g.round).
		Str("media", item.Path).
		Str("media_type", string(item.Kind)).
		Int("true_age_days", item.AgeDays).
		Dur("turn", duration).
		Msg("round started")

	return nil
}

func (e *Engine) revealLocked(now time.Time, cause string) {
	g := e.game
	r := g.current

	guesses := make(map[string]int, len(r.guesses))
	for id, gs := range r.guesses {
		guesses[id] = gs.days
	}

	r.results = scoring.Score(guesses, r.item.AgeDays)
	for id, res := range r.results {
		g.scores[id] += res.Points
	}

	r.phase = PhaseReveal
	r.revealEndsAt = now.Add(e.revealDuration)

	if e.idleRounds > 0 {
		e.dropIdleLocked(r)
	}

	if g.round < e.totalRounds && g.pending == nil {
		item, err := e.drawLocked()
		if err != nil {
			e.log.Warn().Err(err).Str("game_id", g.id).Msg("cannot prefetch next media")
		} else {
			g.pending = &item
		}
	}

	e.log.Info().
		Str("game_id", g.id).
		Int("round", r.number).
		Int("guesses", len(r.results)).
		Int("true_age_days", r.item.AgeDays).
		Str("cause", cause).
		Msg("round revealed")
}

func (e *Engine) dropIdleLocked(r *round) {
	g := e.game

	for id := range g.joined {
		if _, ok := r.guesses[id]; ok {
			g.misses[id] = 0

			continue
		}

		g.misses[id]++
		if g.misses[id] >= e.idleRounds {
			delete(g.joined, id)
			delete(g.misses, id)

			e.log.Info().
				Str("game_id", g.id).
				Str("player_id", id).
				Msg("removed idle player")
		}
	}
}

func (e *Engine) drawLocked() (media.Item, error) {
	item, err := e.picker.Pick(e.game.used)
	if err != nil {
		return media.Item{}, err
	}

	e.game.used[item.Path] = true

	return item, nil
}

func (e *Engine) durationFor(kind media.Kind) time.Duration {
	if kind == media.KindImage && e.imageTurnDuration > 0 {
		return e.imageTurnDuration
	}

	return e.turnDuration
}

func (e *Engine) leaderboardLocked() []scoring.Standing {
	g := e.game

	rows := []scoring.Standing{}
	for _, p := range e.players.All() {
		score := g.scores[p.ID]
		if !g.joined[p.ID] && score == 0 {
			continue
		}

		rows = append(rows, scoring.Standing{
			PlayerID: p.ID,
			Username: p.Username,
			Score:    score,
		})
	}

	return scoring.Rank(rows)
}

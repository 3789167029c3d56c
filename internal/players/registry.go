/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package players keeps the process-wide set of known players. Players are
// never removed; a new game does not forget who has visited.
package players

import (
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
)

const MaxUsernameLength = 24

var ErrUnknownPlayer = errors.New("unknown player")

var (
	adjectives = []string{
		"Goofy", "Bouncy", "Sunny", "Rosy", "Wobbly", "Tiny",
		"Giggle", "Fuzzy", "Peachy", "Zany", "Sparkly", "Bubbly",
	}
	animals = []string{
		"Giraffe", "Panda", "Koala", "Bunny", "Otter", "Duckling",
		"Kitten", "Puppy", "Lamb", "Chick", "Fawn", "Cub",
	}
)

type Player struct {
	ID       string `json:"player_id"`
	Username string `json:"username"`
}

type Registry struct {
	mu      sync.RWMutex
	players map[string]*Player
	order   []string

	newID func() string
	intN  func(n int) int
}

func New() *Registry {
	return &Registry{
		players: make(map[string]*Player),
		newID: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
		intN: rand.IntN,
	}
}

// Register allocates a fresh player with a generated username.
func (r *Registry) Register() Player {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for r.players[id] != nil {
		id = r.newID()
	}

	p := &Player{ID: id, Username: r.generateName()}
	r.players[id] = p
	r.order = append(r.order, id)

	return *p
}

// Rename overwrites a player's username after sanitizing it. Renaming to the
// same name is a no-op.
func (r *Registry) Rename(id, username string) (Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[id]
	if !ok {
		return Player{}, ErrUnknownPlayer
	}

	p.Username = r.sanitize(username)

	return *p, nil
}

func (r *Registry) Get(id string) (Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.players[id]
	if !ok {
		return Player{}, false
	}

	return *p, true
}

func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.players[id]

	return ok
}

// All returns every player in registration order.
func (r *Registry) All() []Player {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Player, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.players[id])
	}

	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}

func (r *Registry) sanitize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return r.generateName()
	}

	if utf8.RuneCountInString(name) > MaxUsernameLength {
		name = string([]rune(name)[:MaxUsernameLength])
	}

	return name
}

func (r *Registry) generateName() string {
	return adjectives[r.intN(len(adjectives))] +
		animals[r.intN(len(animals))] +
		strconv.Itoa(10+r.intN(90))
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/ageguess/internal/game"
	"github.com/Seednode/ageguess/internal/media"
	"github.com/Seednode/ageguess/internal/players"
)

const maxRequestBody = 4 << 10

var (
	errMissingPlayerID = errors.New("player_id is required")
	errMissingUsername = errors.New("username is required")
	errMissingGuess    = errors.New("guess_days is required")
	errInvalidGuess    = errors.New("guess_days must be a number")
)

type server struct {
	cfg      *Config
	catalog  *media.Catalog
	registry *players.Registry
	engine   *game.Engine
	errs     chan<- error
}

type registerRequest struct {
	PlayerID        string `json:"player_id"`
	DesiredUsername string `json:"desired_username"`
}

type usernameRequest struct {
	PlayerID string `json:"player_id"`
	Username string `json:"username"`
}

type playerRequest struct {
	PlayerID string `json:"player_id"`
}

type guessRequest struct {
	PlayerID  string `json:"player_id"`
	GuessDays any    `json:"guess_days"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// readJSON decodes a small request body into dst. An empty body leaves dst
// untouched.
func readJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	return dec.Decode(dst)
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	securityHeaders(s.cfg, w)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.errs <- err
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// parseGuess accepts a JSON number or a numeric string. Fractions are
// truncated; range clamping is left to the engine.
func parseGuess(v any) (int, error) {
	switch g := v.(type) {
	case nil:
		return 0, errMissingGuess
	case json.Number:
		if n, err := g.Int64(); err == nil {
			return clampInt64(n), nil
		}
		f, err := g.Float64()
		if err != nil {
			return 0, errInvalidGuess
		}
		return truncate(f)
	case float64:
		return truncate(g)
	case string:
		g = strings.TrimSpace(g)
		if g == "" {
			return 0, errMissingGuess
		}
		if n, err := strconv.ParseInt(g, 10, 64); err == nil {
			return clampInt64(n), nil
		}
		f, err := strconv.ParseFloat(g, 64)
		if err != nil {
			return 0, errInvalidGuess
		}
		return truncate(f)
	default:
		return 0, errInvalidGuess
	}
}

func truncate(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errInvalidGuess
	}

	return int(math.Max(math.Min(math.Trunc(f), math.MaxInt32), math.MinInt32)), nil
}

func clampInt64(n int64) int {
	return int(max(min(n, math.MaxInt32), math.MinInt32))
}

func (s *server) register() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req registerRequest
		if err := readJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, err)

			return
		}

		p, known := s.registry.Get(req.PlayerID)
		if !known {
			p = s.registry.Register()
		}

		if strings.TrimSpace(req.DesiredUsername) != "" {
			renamed, err := s.registry.Rename(p.ID, req.DesiredUsername)
			if err == nil {
				p = renamed
			}
		}

		logf(s.cfg, "PLAYER: %s registered as %q (returning: %t) from %s", p.ID, p.Username, known, realIP(r))

		s.writeJSON(w, http.StatusOK, p)
	}
}

func (s *server) rename() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req usernameRequest
		if err := readJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, err)

			return
		}

		switch {
		case req.PlayerID == "":
			s.writeError(w, http.StatusBadRequest, errMissingPlayerID)

			return
		case strings.TrimSpace(req.Username) == "":
			s.writeError(w, http.StatusBadRequest, errMissingUsername)

			return
		}

		if _, err := s.registry.Rename(req.PlayerID, req.Username); err != nil {
			s.writeError(w, http.StatusNotFound, err)

			return
		}

		s.writeJSON(w, http.StatusOK, map[string]any{
			"ok":          true,
			"leaderboard": s.engine.Leaderboard(),
		})
	}
}

func (s *server) join() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req playerRequest
		if err := readJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, err)

			return
		}

		if req.PlayerID == "" {
			s.writeError(w, http.StatusBadRequest, errMissingPlayerID)

			return
		}

		joined := s.engine.Join(req.PlayerID)

		s.writeJSON(w, http.StatusOK, map[string]bool{
			"ok":     true,
			"joined": joined,
		})
	}
}

func (s *server) guess() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req guessRequest
		if err := readJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, err)

			return
		}

		if req.PlayerID == "" {
			s.writeError(w, http.StatusBadRequest, errMissingPlayerID)

			return
		}

		days, err := parseGuess(req.GuessDays)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)

			return
		}

		s.writeJSON(w, http.StatusOK, s.engine.Guess(req.PlayerID, days))
	}
}

func (s *server) ready() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req playerRequest
		if err := readJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, err)

			return
		}

		if req.PlayerID == "" {
			s.writeError(w, http.StatusBadRequest, errMissingPlayerID)

			return
		}

		s.writeJSON(w, http.StatusOK, s.engine.Ready(req.PlayerID))
	}
}

func (s *server) newGame() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		id, err := s.engine.Reset()

		logf(s.cfg, "GAME: New game %s requested by %s", id, realIP(r))

		if err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"ok":      false,
				"game_id": id,
				"error":   err.Error(),
			})

			return
		}

		s.writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"game_id": id,
		})
	}
}

func (s *server) state() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s.writeJSON(w, http.StatusOK, s.engine.Snapshot())
	}
}

func registerAPI(s *server, mux *httprouter.Router) {
	prefix := s.cfg.prefix

	mux.POST(prefix+"/api/register", s.register())
	mux.POST(prefix+"/api/username", s.rename())
	mux.POST(prefix+"/api/join", s.join())
	mux.POST(prefix+"/api/guess", s.guess())
	mux.POST(prefix+"/api/ready", s.ready())
	mux.POST(prefix+"/api/newgame", s.newGame())

	mux.GET(prefix+"/api/state", s.state())
	mux.GET(prefix+"/api/ws", s.watch())
	mux.GET(prefix+"/api/qr", serveQR(s.cfg, s.errs))

	mux.GET(prefix+"/media/*filepath", serveMedia(s.cfg, s.catalog, s.errs))
}

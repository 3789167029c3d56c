/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Seednode/ageguess/internal/media"
	"github.com/Seednode/ageguess/internal/scoring"
)

// Snapshot is what every poller receives. It is built from scratch under the
// engine lock and shares no maps with engine state.
type Snapshot struct {
	ServerTimeMs int64              `json:"server_time_ms"`
	Game         GameView           `json:"game"`
	Leaderboard  []scoring.Standing `json:"leaderboard"`
	BabyName     string             `json:"baby_name"`
}

type GameView struct {
	GameID              string       `json:"game_id"`
	Active              bool         `json:"active"`
	RoundNumber         int          `json:"round_number"`
	TotalRounds         int          `json:"total_rounds"`
	RoundsRemaining     int          `json:"rounds_remaining"`
	Phase               Phase        `json:"phase,omitempty"`
	MediaURL            string       `json:"media_url,omitempty"`
	MediaType           media.Kind   `json:"media_type,omitempty"`
	TurnDurationSeconds int          `json:"turn_duration_seconds"`
	TurnEndsAtMs        int64        `json:"turn_ends_at_ms,omitempty"`
	Ready               *ReadyView   `json:"ready,omitempty"`
	Pending             *PendingView `json:"pending,omitempty"`
	Reveal              *RevealView  `json:"reveal,omitempty"`
	Error               string       `json:"error,omitempty"`
}

type ReadyView struct {
	ReadyPlayerIDs  []string `json:"ready_player_ids"`
	ActivePlayerIDs []string `json:"active_player_ids"`
	Count           int      `json:"count"`
	Total           int      `json:"total"`
}

// PendingView announces the next round's media during reveal so clients can
// prefetch it.
type PendingView struct {
	MediaURL            string     `json:"media_url"`
	MediaType           media.Kind `json:"media_type"`
	TurnDurationSeconds int        `json:"turn_duration_seconds"`
}

type RevealView struct {
	TrueAgeDays    int                       `json:"true_age_days"`
	Results        map[string]scoring.Result `json:"results"`
	RevealEndsAtMs int64                     `json:"reveal_ends_at_ms"`
}

func (e *Engine) snapshotLocked(now time.Time) *Snapshot {
	g := e.game

	view := GameView{
		GameID:              g.id,
		Active:              g.active,
		RoundNumber:         g.round,
		TotalRounds:         e.totalRounds,
		RoundsRemaining:     max(0, e.totalRounds-g.round),
		TurnDurationSeconds: seconds(e.turnDuration),
	}

	if g.err != nil {
		view.Error = g.err.Error()
	}

	if r := g.current; r != nil {
		view.Phase = r.phase
		view.MediaURL = e.mediaURL(r.item.Path, g.id, r.number)
		view.MediaType = r.item.Kind
		view.TurnDurationSeconds = seconds(r.duration)
		view.TurnEndsAtMs = r.endsAt.UnixMilli()
		view.Ready = e.readyViewLocked(r)

		if r.phase == PhaseReveal {
			view.TurnEndsAtMs = r.revealEndsAt.UnixMilli()
			view.Reveal = &RevealView{
				TrueAgeDays:    r.item.AgeDays,
				Results:        maps.Clone(r.results),
				RevealEndsAtMs: r.revealEndsAt.UnixMilli(),
			}
		}
	}

	if p := g.pending; p != nil {
		view.Pending = &PendingView{
			MediaURL:            e.mediaURL(p.Path, g.id, g.round+1),
			MediaType:           p.Kind,
			TurnDurationSeconds: seconds(e.durationFor(p.Kind)),
		}
	}

	return &Snapshot{
		ServerTimeMs: now.UnixMilli(),
		Game:         view,
		Leaderboard:  e.leaderboardLocked(),
		BabyName:     e.babyName,
	}
}

func (e *Engine) readyViewLocked(r *round) *ReadyView {
	g := e.game

	count := 0
	for id := range g.joined {
		if r.ready[id] {
			count++
		}
	}

	return &ReadyView{
		ReadyPlayerIDs:  sortedKeys(r.ready),
		ActivePlayerIDs: sortedKeys(g.joined),
		Count:           count,
		Total:           len(g.joined),
	}
}

// mediaURL versions the path by game and round so the same file drawn twice
// is still fetched fresh by clients that cache aggressively.
func (e *Engine) mediaURL(rel, gameID string, number int) string {
	segments := strings.Split(rel, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}

	return e.mediaPrefix + strings.Join(segments, "/") + "?v=" + gameID + "-" + strconv.Itoa(number)
}

func sortedKeys(m map[string]bool) []string {
	keys := slices.AppendSeq(make([]string, 0, len(m)), maps.Keys(m))
	slices.Sort(keys)

	return keys
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}

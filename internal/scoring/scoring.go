/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package scoring

import "sort"

// MaxPoints is awarded for an exact guess; every day off costs one point.
const MaxPoints = 100

type Result struct {
	GuessDays int `json:"guess_days"`
	Diff      int `json:"diff"`
	Points    int `json:"points"`
}

type Standing struct {
	PlayerID string `json:"player_id"`
	Username string `json:"username"`
	Score    int    `json:"score"`
}

func Points(guessDays, trueAgeDays int) int {
	return max(0, MaxPoints-abs(guessDays-trueAgeDays))
}

func Evaluate(guessDays, trueAgeDays int) Result {
	return Result{
		GuessDays: guessDays,
		Diff:      abs(guessDays - trueAgeDays),
		Points:    Points(guessDays, trueAgeDays),
	}
}

// Score evaluates every guess of a round. Players who did not guess are
// absent from the result.
func Score(guesses map[string]int, trueAgeDays int) map[string]Result {
	results := make(map[string]Result, len(guesses))
	for id, g := range guesses {
		results[id] = Evaluate(g, trueAgeDays)
	}

	return results
}

// Rank orders standings by score, highest first. Ties keep their incoming
// order, so callers pass rows in registration order.
func Rank(rows []Standing) []Standing {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Score > rows[j].Score
	})

	return rows
}

func abs(n int) int {
	if n < 0 {
		return -n
	}

	return n
}

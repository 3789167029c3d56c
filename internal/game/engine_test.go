/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/Seednode/ageguess/internal/game/mocks"
	"github.com/Seednode/ageguess/internal/media"
	"github.com/Seednode/ageguess/internal/players"
)

type EngineTestSuite struct {
	suite.Suite
	mockCtrl   *gomock.Controller
	mockPicker *mocks.MockPicker
	clock      *clockwork.FakeClock
	registry   *players.Registry

	testTime time.Time
	items    []media.Item
	pickErr  error
	draws    int
	excluded []map[string]bool
}

func (s *EngineTestSuite) SetupTest() {
	s.mockCtrl = gomock.NewController(s.T())
	s.mockPicker = mocks.NewMockPicker(s.mockCtrl)
	s.testTime = time.Date(2025, 4, 19, 12, 0, 0, 0, time.UTC)
	s.clock = clockwork.NewFakeClockAt(s.testTime)
	s.registry = players.New()

	s.items = []media.Item{
		{Path: "a.jpg", Kind: media.KindImage, AgeDays: 50},
		{Path: "clips/b.mp4", Kind: media.KindVideo, AgeDays: 80},
		{Path: "c.png", Kind: media.KindImage, AgeDays: 200},
	}
	s.pickErr = nil
	s.draws = 0
	s.excluded = nil

	s.mockPicker.EXPECT().
		Pick(gomock.Any()).
		DoAndReturn(func(exclude map[string]bool) (media.Item, error) {
			if s.pickErr != nil {
				return media.Item{}, s.pickErr
			}

			seen := make(map[string]bool, len(exclude))
			for k, v := range exclude {
				seen[k] = v
			}
			s.excluded = append(s.excluded, seen)

			item := s.items[s.draws%len(s.items)]
			s.draws++

			return item, nil
		}).
		AnyTimes()
}

func (s *EngineTestSuite) TearDownTest() {
	s.mockCtrl.Finish()
}

func (s *EngineTestSuite) config() *Config {
	return &Config{
		Picker:   s.mockPicker,
		Players:  s.registry,
		Clock:    s.clock,
		Logger:   zerolog.Nop(),
		BabyName: "Robin",
	}
}

func (s *EngineTestSuite) newEngine(mutators ...func(*Config)) *Engine {
	cfg := s.config()
	for _, m := range mutators {
		m(cfg)
	}

	e, err := New(cfg)
	s.Require().NoError(err)

	return e
}

func (s *EngineTestSuite) joinedPlayer(e *Engine) players.Player {
	p := s.registry.Register()
	s.Require().True(e.Join(p.ID))

	return p
}

func (s *EngineTestSuite) scores(snap *Snapshot) map[string]int {
	out := make(map[string]int, len(snap.Leaderboard))
	for _, row := range snap.Leaderboard {
		out[row.PlayerID] = row.Score
	}

	return out
}

func (s *EngineTestSuite) TestNewValidatesConfig() {
	_, err := New(nil)
	s.ErrorIs(err, ErrNilConfig)

	cfg := s.config()
	cfg.Picker = nil
	_, err = New(cfg)
	s.ErrorIs(err, ErrNilPicker)

	cfg = s.config()
	cfg.Players = nil
	_, err = New(cfg)
	s.ErrorIs(err, ErrNilPlayers)

	cfg = s.config()
	cfg.TotalRounds = -1
	_, err = New(cfg)
	s.ErrorIs(err, ErrInvalidTotalRounds)

	cfg = s.config()
	cfg.TurnDuration = -time.Second
	_, err = New(cfg)
	s.ErrorIs(err, ErrInvalidTurnDuration)

	cfg = s.config()
	cfg.RevealDuration = -time.Second
	_, err = New(cfg)
	s.ErrorIs(err, ErrInvalidReveal)

	cfg = s.config()
	cfg.IdleRounds = -1
	_, err = New(cfg)
	s.ErrorIs(err, ErrInvalidIdleRounds)
}

func (s *EngineTestSuite) TestNewStartsFirstRound() {
	e := s.newEngine()

	snap := e.Snapshot()
	g := snap.Game

	s.True(g.Active)
	s.NotEmpty(g.GameID)
	s.Equal(1, g.RoundNumber)
	s.Equal(DefaultTotalRounds, g.TotalRounds)
	s.Equal(DefaultTotalRounds-1, g.RoundsRemaining)
	s.Equal(PhaseGuessing, g.Phase)
	s.Equal("/media/a.jpg?v="+g.GameID+"-1", g.MediaURL)
	s.Equal(media.KindImage, g.MediaType)
	s.Equal(120, g.TurnDurationSeconds)
	s.Equal(s.testTime.Add(DefaultTurnDuration).UnixMilli(), g.TurnEndsAtMs)
	s.Equal(s.testTime.UnixMilli(), snap.ServerTimeMs)
	s.Nil(g.Reveal)
	s.Nil(g.Pending)
	s.Empty(g.Error)
	s.Require().NotNil(g.Ready)
	s.Equal(0, g.Ready.Total)
	s.Empty(snap.Leaderboard)
	s.Equal("Robin", snap.BabyName)
}

func (s *EngineTestSuite) TestScoringScenario() {
	e := s.newEngine()
	a := s.joinedPlayer(e)
	b := s.joinedPlayer(e)

	s.True(e.Guess(a.ID, 40).Accepted)
	s.True(e.Guess(b.ID, 100).Accepted)

	s.clock.Advance(DefaultTurnDuration)
	snap := e.Snapshot()

	s.Equal(PhaseReveal, snap.Game.Phase)
	s.Require().NotNil(snap.Game.Reveal)
	s.Equal(50, snap.Game.Reveal.TrueAgeDays)

	results := snap.Game.Reveal.Results
	s.Equal(10, results[a.ID].Diff)
	s.Equal(90, results[a.ID].Points)
	s.Equal(40, results[a.ID].GuessDays)
	s.Equal(50, results[b.ID].Diff)
	s.Equal(50, results[b.ID].Points)

	s.Equal(map[string]int{a.ID: 90, b.ID: 50}, s.scores(snap))
	s.Equal(a.ID, snap.Leaderboard[0].PlayerID)
	s.Equal(a.Username, snap.Leaderboard[0].Username)
}

func (s *EngineTestSuite) TestGuessIsClamped() {
	e := s.newEngine()
	low := s.joinedPlayer(e)
	high := s.joinedPlayer(e)

	s.True(e.Guess(low.ID, -20).Accepted)
	s.True(e.Guess(high.ID, 10_000).Accepted)

	s.clock.Advance(DefaultTurnDuration)
	results := e.Snapshot().Game.Reveal.Results

	s.Equal(MinGuessDays, results[low.ID].GuessDays)
	s.Equal(MaxGuessDays, results[high.ID].GuessDays)
	s.Equal(50, results[low.ID].Points)
	s.Equal(0, results[high.ID].Points)
}

func (s *EngineTestSuite) TestGuessResubmissionOverwrites() {
	e := s.newEngine()
	p := s.joinedPlayer(e)

	s.True(e.Guess(p.ID, 10).Accepted)
	s.True(e.Guess(p.ID, 45).Accepted)
	s.True(e.Guess(p.ID, 45).Accepted)

	s.clock.Advance(DefaultTurnDuration)
	snap := e.Snapshot()

	s.Len(snap.Game.Reveal.Results, 1)
	s.Equal(45, snap.Game.Reveal.Results[p.ID].GuessDays)
	s.Equal(95, s.scores(snap)[p.ID])

	// Re-reading the reveal never scores twice.
	s.Equal(95, s.scores(e.Snapshot())[p.ID])
}

func (s *EngineTestSuite) TestWritesRequireJoin() {
	e := s.newEngine()
	p := s.registry.Register()

	s.Equal(Outcome{Reason: ReasonNotJoined}, e.Guess(p.ID, 10))
	s.Equal(Outcome{Reason: ReasonNotJoined}, e.Ready(p.ID))

	s.False(e.Join("not-registered"))
	s.Equal(Outcome{Reason: ReasonNotJoined}, e.Guess("not-registered", 10))

	s.True(e.Join(p.ID))
	s.True(e.Join(p.ID))
	s.Equal(1, e.Snapshot().Game.Ready.Total)
}

func (s *EngineTestSuite) TestQuorumRevealsEarly() {
	e := s.newEngine()
	a := s.joinedPlayer(e)
	b := s.joinedPlayer(e)

	s.True(e.Guess(a.ID, 50).Accepted)
	s.True(e.Ready(a.ID).Accepted)
	s.True(e.Ready(a.ID).Accepted)

	snap := e.Snapshot()
	s.Equal(PhaseGuessing, snap.Game.Phase)
	s.Equal(1, snap.Game.Ready.Count)
	s.Equal(2, snap.Game.Ready.Total)
	s.Equal([]string{a.ID}, snap.Game.Ready.ReadyPlayerIDs)

	s.clock.Advance(10 * time.Second)
	s.True(e.Ready(b.ID).Accepted)

	snap = e.Snapshot()
	s.Equal(PhaseReveal, snap.Game.Phase)
	s.Equal(s.testTime.Add(10*time.Second+DefaultRevealDuration).UnixMilli(), snap.Game.TurnEndsAtMs)
	s.Equal(snap.Game.TurnEndsAtMs, snap.Game.Reveal.RevealEndsAtMs)
	s.Equal(map[string]int{a.ID: 100, b.ID: 0}, s.scores(snap))
	s.NotContains(snap.Game.Reveal.Results, b.ID)
}

func (s *EngineTestSuite) TestPartialReadyWaitsForTimer() {
	e := s.newEngine()
	a := s.joinedPlayer(e)
	s.joinedPlayer(e)

	s.True(e.Ready(a.ID).Accepted)

	s.clock.Advance(DefaultTurnDuration - time.Millisecond)
	s.Equal(PhaseGuessing, e.Snapshot().Game.Phase)

	s.clock.Advance(time.Millisecond)
	s.Equal(PhaseReveal, e.Snapshot().Game.Phase)
}

func (s *EngineTestSuite) TestNoPlayersNeverRevealsEarly() {
	e := s.newEngine()

	s.clock.Advance(DefaultTurnDuration - time.Second)
	s.Equal(PhaseGuessing, e.Snapshot().Game.Phase)
}

func (s *EngineTestSuite) TestNewJoinerBreaksQuorum() {
	e := s.newEngine()
	a := s.joinedPlayer(e)
	b := s.registry.Register()

	s.True(e.Join(b.ID))
	s.True(e.Ready(a.ID).Accepted)

	s.Equal(PhaseGuessing, e.Snapshot().Game.Phase)
}

func (s *EngineTestSuite) TestRevealThenNextRound() {
	e := s.newEngine()
	p := s.joinedPlayer(e)

	s.clock.Advance(DefaultTurnDuration)
	snap := e.Snapshot()

	s.Equal(PhaseReveal, snap.Game.Phase)
	s.Require().NotNil(snap.Game.Pending)
	s.Equal("/media/clips/b.mp4?v="+snap.Game.GameID+"-2", snap.Game.Pending.MediaURL)
	s.Equal(media.KindVideo, snap.Game.Pending.MediaType)

	s.Equal(Outcome{Reason: ReasonReveal}, e.Guess(p.ID, 10))
	s.Equal(Outcome{Reason: ReasonReveal}, e.Ready(p.ID))

	s.clock.Advance(DefaultRevealDuration)
	snap = e.Snapshot()

	s.Equal(2, snap.Game.RoundNumber)
	s.Equal(PhaseGuessing, snap.Game.Phase)
	s.Equal("/media/clips/b.mp4?v="+snap.Game.GameID+"-2", snap.Game.MediaURL)
	s.Equal(media.KindVideo, snap.Game.MediaType)
	s.Nil(snap.Game.Pending)
	s.Nil(snap.Game.Reveal)
	s.Equal(0, snap.Game.Ready.Count)

	s.True(e.Guess(p.ID, 80).Accepted)
}

func (s *EngineTestSuite) TestPicksAvoidRepeats() {
	e := s.newEngine()

	s.clock.Advance(DefaultTurnDuration)
	e.Snapshot()

	s.Require().Len(s.excluded, 2)
	s.Empty(s.excluded[0])
	s.Equal(map[string]bool{"a.jpg": true}, s.excluded[1])

	_, err := e.Reset()
	s.Require().NoError(err)
	s.Empty(s.excluded[2])
}

func (s *EngineTestSuite) TestLateJoinerCannotGuess() {
	e := s.newEngine()
	a := s.joinedPlayer(e)
	s.True(e.Guess(a.ID, 50).Accepted)

	s.clock.Advance(DefaultTurnDuration + time.Second)

	late := s.joinedPlayer(e)
	s.False(e.Guess(late.ID, 50).Accepted)

	snap := e.Snapshot()
	s.Equal(PhaseReveal, snap.Game.Phase)
	s.NotContains(snap.Game.Reveal.Results, late.ID)

	scores := s.scores(snap)
	s.Contains(scores, late.ID)
	s.Equal(0, scores[late.ID])
	s.Equal(100, scores[a.ID])
}

func (s *EngineTestSuite) TestGameOverIsTerminal() {
	e := s.newEngine(func(c *Config) { c.TotalRounds = 2 })

	s.clock.Advance(DefaultTurnDuration)
	s.NotNil(e.Snapshot().Game.Pending)

	s.clock.Advance(DefaultRevealDuration)
	s.Equal(2, e.Snapshot().Game.RoundNumber)

	s.clock.Advance(DefaultTurnDuration)
	snap := e.Snapshot()
	s.Equal(PhaseReveal, snap.Game.Phase)
	s.Nil(snap.Game.Pending)
	s.True(snap.Game.Active)

	for range 3 {
		s.clock.Advance(time.Hour)
		snap = e.Snapshot()

		s.False(snap.Game.Active)
		s.Equal(2, snap.Game.RoundNumber)
		s.Equal(0, snap.Game.RoundsRemaining)
		s.Equal(PhaseReveal, snap.Game.Phase)
		s.NotNil(snap.Game.Reveal)
	}

	p := s.joinedPlayer(e)
	s.Equal(Outcome{Reason: ReasonNoActiveGame}, e.Guess(p.ID, 1))
	s.Equal(2, s.draws)
}

func (s *EngineTestSuite) TestResetInvalidatesGame() {
	e := s.newEngine()
	a := s.joinedPlayer(e)
	s.True(e.Guess(a.ID, 50).Accepted)

	s.clock.Advance(DefaultTurnDuration)
	s.clock.Advance(DefaultRevealDuration)
	before := e.Snapshot()
	s.Equal(100, s.scores(before)[a.ID])

	newID, err := e.Reset()
	s.Require().NoError(err)

	after := e.Snapshot()
	s.NotEqual(before.Game.GameID, after.Game.GameID)
	s.Equal(newID, after.Game.GameID)
	s.Equal(1, after.Game.RoundNumber)
	s.Equal(PhaseGuessing, after.Game.Phase)
	s.True(after.Game.Active)
	s.Empty(after.Leaderboard)
	s.Equal(0, after.Game.Ready.Total)

	// The player survives the reset but must join again.
	_, ok := s.registry.Get(a.ID)
	s.True(ok)
	s.Equal(Outcome{Reason: ReasonNotJoined}, e.Guess(a.ID, 50))

	s.True(e.Join(a.ID))
	s.Equal(map[string]int{a.ID: 0}, s.scores(e.Snapshot()))
}

func (s *EngineTestSuite) TestNoMediaKeepsSnapshotServable() {
	s.pickErr = fmt.Errorf("%w in /nowhere", media.ErrNoMediaAvailable)
	e := s.newEngine()

	snap := e.Snapshot()
	s.False(snap.Game.Active)
	s.Equal(0, snap.Game.RoundNumber)
	s.Empty(snap.Game.Phase)
	s.Contains(snap.Game.Error, "no eligible media")

	p := s.joinedPlayer(e)
	s.Equal(Outcome{Reason: ReasonNoActiveGame}, e.Guess(p.ID, 10))

	_, err := e.Reset()
	s.ErrorIs(err, media.ErrNoMediaAvailable)
	s.False(e.Snapshot().Game.Active)

	s.pickErr = nil
	_, err = e.Reset()
	s.Require().NoError(err)

	snap = e.Snapshot()
	s.True(snap.Game.Active)
	s.Equal(1, snap.Game.RoundNumber)
	s.Empty(snap.Game.Error)
}

func (s *EngineTestSuite) TestMediaLossMidGameHalts() {
	e := s.newEngine()

	s.pickErr = media.ErrNoMediaAvailable
	s.clock.Advance(DefaultTurnDuration)
	snap := e.Snapshot()
	s.Equal(PhaseReveal, snap.Game.Phase)
	s.Nil(snap.Game.Pending)

	s.clock.Advance(DefaultRevealDuration)
	snap = e.Snapshot()
	s.False(snap.Game.Active)
	s.Equal(1, snap.Game.RoundNumber)
	s.NotEmpty(snap.Game.Error)
}

func (s *EngineTestSuite) TestRoundsAndPhasesMoveForward() {
	e := s.newEngine(func(c *Config) { c.TotalRounds = 6 })

	lastRound := 1
	lastPhase := PhaseGuessing

	for range 6 * 130 {
		s.clock.Advance(time.Second)
		g := e.Snapshot().Game

		s.GreaterOrEqual(g.RoundNumber, lastRound)
		switch {
		case g.RoundNumber > lastRound:
			s.Equal(lastRound+1, g.RoundNumber)
			s.Equal(PhaseReveal, lastPhase)
			s.Equal(PhaseGuessing, g.Phase)
		case g.Phase != lastPhase:
			s.Equal(PhaseGuessing, lastPhase)
			s.Equal(PhaseReveal, g.Phase)
		}

		lastRound, lastPhase = g.RoundNumber, g.Phase
	}

	s.Equal(6, lastRound)
	s.False(e.Snapshot().Game.Active)
}

func (s *EngineTestSuite) TestImageTurnDuration() {
	e := s.newEngine(func(c *Config) {
		c.TurnDuration = 20 * time.Second
		c.ImageTurnDuration = 10 * time.Second
	})

	snap := e.Snapshot()
	s.Equal(10, snap.Game.TurnDurationSeconds)

	s.clock.Advance(10 * time.Second)
	snap = e.Snapshot()
	s.Equal(PhaseReveal, snap.Game.Phase)
	s.Equal(20, snap.Game.Pending.TurnDurationSeconds)

	s.clock.Advance(DefaultRevealDuration)
	snap = e.Snapshot()
	s.Equal(media.KindVideo, snap.Game.MediaType)
	s.Equal(20, snap.Game.TurnDurationSeconds)
	s.Equal(s.clock.Now().Add(20*time.Second).UnixMilli(), snap.Game.TurnEndsAtMs)
}

func (s *EngineTestSuite) TestIdleRoundsRemovePlayers() {
	e := s.newEngine(func(c *Config) { c.IdleRounds = 2 })
	busy := s.joinedPlayer(e)
	idle := s.joinedPlayer(e)

	for range 2 {
		s.True(e.Guess(busy.ID, 50).Accepted)
		s.clock.Advance(DefaultTurnDuration)
		e.Snapshot()
		s.clock.Advance(DefaultRevealDuration)
		e.Snapshot()
	}

	ready := e.Snapshot().Game.Ready
	s.Equal([]string{busy.ID}, ready.ActivePlayerIDs)
	s.Equal(Outcome{Reason: ReasonNotJoined}, e.Guess(idle.ID, 1))

	s.True(e.Join(idle.ID))
	s.True(e.Guess(idle.ID, 1).Accepted)
}

func (s *EngineTestSuite) TestIdleRoundsDisabledByDefault() {
	e := s.newEngine()
	p := s.joinedPlayer(e)

	for range 5 {
		s.clock.Advance(DefaultTurnDuration)
		e.Snapshot()
		s.clock.Advance(DefaultRevealDuration)
		e.Snapshot()
	}

	s.True(e.Guess(p.ID, 1).Accepted)
}

func (s *EngineTestSuite) TestSnapshotDoesNotShareState() {
	e := s.newEngine()
	p := s.joinedPlayer(e)
	s.True(e.Guess(p.ID, 50).Accepted)
	s.clock.Advance(DefaultTurnDuration)

	first := e.Snapshot()
	delete(first.Game.Reveal.Results, p.ID)
	first.Game.Ready.ActivePlayerIDs[0] = "tampered"
	first.Leaderboard[0].Score = -1

	second := e.Snapshot()
	s.Contains(second.Game.Reveal.Results, p.ID)
	s.Equal([]string{p.ID}, second.Game.Ready.ActivePlayerIDs)
	s.Equal(100, second.Leaderboard[0].Score)
}

func (s *EngineTestSuite) TestLeaderboardOrderAndRenames() {
	e := s.newEngine()
	a := s.joinedPlayer(e)
	b := s.joinedPlayer(e)
	c := s.joinedPlayer(e)

	s.True(e.Guess(b.ID, 50).Accepted)
	s.True(e.Guess(c.ID, 50).Accepted)
	s.clock.Advance(DefaultTurnDuration)

	_, err := s.registry.Rename(c.ID, "Carol")
	s.Require().NoError(err)

	rows := e.Leaderboard()
	s.Require().Len(rows, 3)
	s.Equal([]string{b.ID, c.ID, a.ID}, []string{rows[0].PlayerID, rows[1].PlayerID, rows[2].PlayerID})
	s.Equal("Carol", rows[1].Username)
}

func (s *EngineTestSuite) TestConcurrentWritersSeeConsistentSnapshots() {
	e := s.newEngine(func(c *Config) {
		c.TurnDuration = 3 * time.Second
		c.RevealDuration = time.Second
		c.TotalRounds = 1000
	})

	ids := make([]string, 8)
	for i := range ids {
		ids[i] = s.registry.Register().ID
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range 200 {
				e.Join(id)
				e.Guess(id, n+i)
				if n%7 == 0 {
					e.Ready(id)
				}
				if i == 0 && n%50 == 0 {
					_, _ = e.Reset()
				}

				g := e.Snapshot().Game
				if g.Phase == PhaseReveal && g.Reveal == nil {
					s.Fail("reveal phase without results")
				}
				if g.Phase == PhaseGuessing && g.Reveal != nil {
					s.Fail("guessing phase with results")
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 200 {
			s.clock.Advance(250 * time.Millisecond)
		}
	}()

	wg.Wait()
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

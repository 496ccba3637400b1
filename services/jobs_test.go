package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/arena/models"
)

func TestPairingTickPairsWaitingUsers(t *testing.T) {
	h := newHarness(t)
	tour := h.startedTournament(4)
	lonely := h.startedTournament(1)
	for uid := 101; uid <= 104; uid++ {
		h.pool.Add(tour.ID, uid)
	}
	h.pool.Add(lonely.ID, 101)

	h.jobs.PairingTick(context.Background())
	h.scheduler.Wait()

	assert.Len(t, h.db.allPairings(tour.ID), 2)
	assert.Empty(t, h.db.allPairings(lonely.ID))
	assert.Equal(t, 4, h.db.tournament(tour.ID).NbPlayers, "player count is caught up")
	assert.Len(t, h.games.startedIDs(), 2)
}

func TestPairingTickSkipsKilledTournaments(t *testing.T) {
	h := newHarness(t)
	tour := h.startedTournament(2)
	h.pool.Add(tour.ID, 101)
	h.pool.Add(tour.ID, 102)
	require.NoError(t, h.lifecycle.Kill(context.Background(), tour.ID))

	h.jobs.PairingTick(context.Background())
	assert.Empty(t, h.db.allPairings(tour.ID))
}

func TestPairingTickSurvivesListFailure(t *testing.T) {
	h := newHarness(t)
	h.db.setErr("tournaments.ListStarted", errors.New("timeout"))
	assert.NotPanics(t, func() { h.jobs.PairingTick(context.Background()) })
}

func TestMakePairingsOutsideStartedIsNoop(t *testing.T) {
	h := newHarness(t)
	tour := h.db.addTournament(&models.Tournament{Name: "t"})
	h.db.addPlayer(&models.Player{TournamentID: tour.ID, UserID: 1})
	h.db.addPlayer(&models.Player{TournamentID: tour.ID, UserID: 2})
	h.pool.Add(tour.ID, 1)
	h.pool.Add(tour.ID, 2)

	n, err := h.jobs.MakePairings(context.Background(), tour.ID, h.pool.Snapshot(tour.ID))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStatusSweepStartsAndFinishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	due := h.db.addTournament(&models.Tournament{Name: "due", StartsAt: h.clock.Now().Add(-time.Second), Minutes: 30})
	later := h.db.addTournament(&models.Tournament{Name: "later", StartsAt: h.clock.Now().Add(time.Hour), Minutes: 30})
	elapsed := h.db.addTournament(&models.Tournament{
		Name: "elapsed", Status: models.StatusStarted, StartsAt: h.clock.Now().Add(-2 * time.Hour), Minutes: 60,
	})
	h.db.addPlayer(&models.Player{TournamentID: elapsed.ID, UserID: 1})
	h.db.addPlayer(&models.Player{TournamentID: elapsed.ID, UserID: 2})
	h.db.addPairing(&models.Pairing{TournamentID: elapsed.ID, User1: 1, User2: 2, Status: models.PairingFinished, Winner: intPtr(2)})

	h.jobs.StatusSweep(ctx)
	h.lifecycle.Wait()

	assert.Equal(t, models.StatusStarted, h.db.tournament(due.ID).Status)
	assert.Equal(t, models.StatusCreated, h.db.tournament(later.ID).Status)
	assert.Equal(t, models.StatusFinished, h.db.tournament(elapsed.ID).Status)
}

func TestStatusSweepPairsRightAfterStart(t *testing.T) {
	h := newHarness(t)
	due := h.db.addTournament(&models.Tournament{Name: "due", StartsAt: h.clock.Now().Add(-time.Second), Minutes: 30})
	for uid := 1; uid <= 4; uid++ {
		h.db.addPlayer(&models.Player{TournamentID: due.ID, UserID: uid, Rating: 1500})
	}

	h.jobs.StatusSweep(context.Background())
	h.scheduler.Wait()

	assert.Len(t, h.db.allPairings(due.ID), 2, "no need to wait for the next tick")
}

func TestJoinIntoStartedTournamentRunsRound(t *testing.T) {
	h := newHarness(t)
	h.roster.SetRoundTrigger(h.jobs.PairNow)
	tour := h.startedTournament(1)
	h.pool.Add(tour.ID, 101)

	require.Equal(t, models.JoinOk, h.roster.Join(context.Background(), tour.ID, h.joiner(200), JoinRequest{}))

	assert.Eventually(t, func() bool {
		return len(h.db.allPairings(tour.ID)) == 1
	}, time.Second, 10*time.Millisecond)
	h.scheduler.Wait()
	p := h.db.allPairings(tour.ID)[0]
	assert.True(t, p.Contains(101) && p.Contains(200))
}

func TestKillSweepJob(t *testing.T) {
	h := newHarness(t)
	tour := h.startedTournament(2)
	require.NoError(t, h.lifecycle.Kill(context.Background(), tour.ID))

	h.jobs.KillSweep(context.Background())
	assert.Nil(t, h.db.tournament(tour.ID))
}

func TestJobsRunOnTheSchedulerClock(t *testing.T) {
	h := newHarness(t)
	due := h.db.addTournament(&models.Tournament{Name: "due", StartsAt: h.clock.Now(), Minutes: 30})

	require.NoError(t, h.jobs.Start(context.Background()))
	t.Cleanup(func() { _ = h.jobs.Stop() })

	assert.Eventually(t, func() bool {
		h.clock.Advance(h.cfg.StatusSweepEvery)
		got := h.db.tournament(due.ID)
		return got != nil && got.IsStarted()
	}, 2*time.Second, 20*time.Millisecond)
}

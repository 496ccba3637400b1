package services

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/arena/models"
	"github.com/Dosada05/arena/notify"
)

func markHadPairings(t *testing.T, h *harness, tid int) {
	t.Helper()
	require.NoError(t, h.kv.Set(context.Background(), kvHadPairings+strconv.Itoa(tid), "1", time.Hour))
}

func TestPoolOfOneNeverTriggers(t *testing.T) {
	h := newHarness(t)
	h.pool.Add(1, 10)
	h.clock.Advance(time.Hour)
	snap := h.pool.Snapshot(1)
	assert.False(t, h.scheduler.ShouldPair(context.Background(), 1, snap, 1))
	assert.False(t, h.scheduler.ShouldPair(context.Background(), 1, snap, 500))
}

func TestTriggerPolicy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.pool.Add(1, 10)
	h.pool.Add(1, 11)

	assert.True(t, h.scheduler.ShouldPair(ctx, 1, h.pool.Snapshot(1), 500), "first round is immediate")

	markHadPairings(t, h, 1)
	assert.False(t, h.scheduler.ShouldPair(ctx, 1, h.pool.Snapshot(1), 500))
	assert.True(t, h.scheduler.ShouldPair(ctx, 1, h.pool.Snapshot(1), 3), "2*1.5 covers 3 active players")
	assert.False(t, h.scheduler.ShouldPair(ctx, 1, h.pool.Snapshot(1), 4))

	h.clock.Advance(h.cfg.PairingGrace + time.Second)
	assert.True(t, h.scheduler.ShouldPair(ctx, 1, h.pool.Snapshot(1), 500), "grace elapsed")
}

func TestMaybeCreatePairingsRunsOneRound(t *testing.T) {
	h := newHarness(t)
	tour := h.startedTournament(4)
	for uid := 101; uid <= 104; uid++ {
		h.pool.Add(tour.ID, uid)
	}
	markHadPairings(t, h, tour.ID)
	h.clock.Advance(h.cfg.PairingGrace + time.Second)

	n, err := h.scheduler.MaybeCreatePairings(context.Background(), h.db.tournament(tour.ID), h.pool.Snapshot(tour.ID), 500)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	h.scheduler.Wait()

	assert.Equal(t, 0, h.pool.Snapshot(tour.ID).Size())
	playing := h.db.allPairings(tour.ID)
	require.Len(t, playing, 2)
	assert.Equal(t, []int{101, 102}, []int{playing[0].User1, playing[0].User2})
	assert.Len(t, h.games.startedIDs(), 2)
	assert.Len(t, h.bus.ofType(notify.TypeRedirect), 4)

	featured := h.db.tournament(tour.ID).FeaturedGameID
	require.NotNil(t, featured)
	assert.Equal(t, playing[0].GameID, *featured)

	n, err = h.scheduler.MaybeCreatePairings(context.Background(), h.db.tournament(tour.ID), h.pool.Snapshot(tour.ID), 500)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "the pool was consumed")
}

func TestOpenPairingsStayUnique(t *testing.T) {
	h := newHarness(t)
	tour := h.startedTournament(4)
	h.db.addPairing(&models.Pairing{TournamentID: tour.ID, User1: 101, User2: 103})
	for uid := 101; uid <= 104; uid++ {
		h.pool.Add(tour.ID, uid)
	}

	_, err := h.scheduler.MaybeCreatePairings(context.Background(), h.db.tournament(tour.ID), h.pool.Snapshot(tour.ID), 4)
	require.NoError(t, err)
	h.scheduler.Wait()

	open := make(map[int]int)
	for _, p := range h.db.allPairings(tour.ID) {
		if p.IsPlaying() {
			open[p.User1]++
			open[p.User2]++
		}
	}
	for uid, n := range open {
		assert.Equal(t, 1, n, "user %d has %d open pairings", uid, n)
	}
	assert.True(t, h.pool.Contains(tour.ID, 102), "dropped but idle users wait for the next round")
	assert.True(t, h.pool.Contains(tour.ID, 104))
	assert.False(t, h.pool.Contains(tour.ID, 101))
	assert.False(t, h.pool.Contains(tour.ID, 103))
}

func TestGameStartFailureAbortsOnlyThatPairing(t *testing.T) {
	h := newHarness(t)
	tour := h.startedTournament(4)
	h.games.startErr[103] = errors.New("engine unavailable")
	for uid := 101; uid <= 104; uid++ {
		h.pool.Add(tour.ID, uid)
	}

	n, err := h.scheduler.MaybeCreatePairings(context.Background(), h.db.tournament(tour.ID), h.pool.Snapshot(tour.ID), 4)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	h.scheduler.Wait()

	statuses := make(map[int]models.PairingStatus)
	for _, p := range h.db.allPairings(tour.ID) {
		statuses[p.User1] = p.Status
	}
	assert.Equal(t, models.PairingPlaying, statuses[101])
	assert.Equal(t, models.PairingAborted, statuses[103])
	assert.True(t, h.pool.Contains(tour.ID, 103))
	assert.True(t, h.pool.Contains(tour.ID, 104))
	assert.False(t, h.pool.Contains(tour.ID, 101))
}

func TestGameEngineAssignedIDIsStored(t *testing.T) {
	h := newHarness(t)
	tour := h.startedTournament(2)
	h.games.newGameID = func(p *models.Pairing) string { return "g-" + strconv.Itoa(p.User1) }
	h.pool.Add(tour.ID, 101)
	h.pool.Add(tour.ID, 102)

	_, err := h.scheduler.MaybeCreatePairings(context.Background(), h.db.tournament(tour.ID), h.pool.Snapshot(tour.ID), 2)
	require.NoError(t, err)
	h.scheduler.Wait()

	ps := h.db.allPairings(tour.ID)
	require.Len(t, ps, 1)
	assert.Equal(t, "g-101", ps[0].GameID)
	redirects := h.bus.ofType(notify.TypeRedirect)
	require.Len(t, redirects, 2)
	assert.Equal(t, "g-101", redirects[0].msg.Payload.(redirectPayload).GameID)
}

func TestNoRoundForCreatedTournament(t *testing.T) {
	h := newHarness(t)
	tour := h.db.addTournament(&models.Tournament{Name: "later"})
	h.pool.Add(tour.ID, 1)
	h.pool.Add(tour.ID, 2)
	n, err := h.scheduler.MaybeCreatePairings(context.Background(), tour, h.pool.Snapshot(tour.ID), 2)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSelectFeaturedPrefersPlayingBestRank(t *testing.T) {
	ranks := map[int]int{1: 1, 2: 2, 3: 3, 4: 4}
	rankOf := func(uid int) int { return ranks[uid] }

	best := &models.Pairing{GameID: "g3", User1: 1, User2: 2, Status: models.PairingPlaying}
	worse := &models.Pairing{GameID: "g7", User1: 3, User2: 4, Status: models.PairingFinished}
	got := SelectFeatured([]*models.Pairing{worse, best}, rankOf, nil)
	require.NotNil(t, got)
	assert.Equal(t, "g3", got.GameID)

	worse.Status = models.PairingPlaying
	best.Status = models.PairingFinished
	got = SelectFeatured([]*models.Pairing{best, worse}, rankOf, nil)
	assert.Equal(t, "g7", got.GameID, "finished games are never featured")
}

func TestSelectFeaturedKeepsPreviousWhenBestAmongPlaying(t *testing.T) {
	ranks := map[int]int{1: 0, 2: 1, 3: 1, 4: 3, 5: 0, 6: 1}
	rankOf := func(uid int) int { return ranks[uid] }

	finishedBetter := &models.Pairing{GameID: "done", User1: 5, User2: 6, Status: models.PairingFinished}
	previous := &models.Pairing{GameID: "prev", User1: 3, User2: 4, Status: models.PairingPlaying}
	tied := &models.Pairing{GameID: "tied", User1: 2, User2: 4, Status: models.PairingPlaying}
	prevID := "prev"

	got := SelectFeatured([]*models.Pairing{finishedBetter, tied, previous}, rankOf, &prevID)
	require.NotNil(t, got)
	assert.Equal(t, "prev", got.GameID)

	better := &models.Pairing{GameID: "better", User1: 1, User2: 2, Status: models.PairingPlaying}
	got = SelectFeatured([]*models.Pairing{previous, better}, rankOf, &prevID)
	assert.Equal(t, "better", got.GameID)
}

func TestSelectFeaturedNothingPlaying(t *testing.T) {
	got := SelectFeatured([]*models.Pairing{{Status: models.PairingAborted}}, func(int) int { return 0 }, nil)
	assert.Nil(t, got)
}

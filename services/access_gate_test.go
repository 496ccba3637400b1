package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/arena/models"
)

type stubPauses map[int]bool

func (s stubPauses) IsPaused(_ context.Context, userID int) bool { return s[userID] }

type failingVerifier struct{ err error }

func (f failingVerifier) Verify(context.Context, *models.Tournament, *models.Joiner) (models.Verdicts, error) {
	return models.Verdicts{}, f.err
}

func (f failingVerifier) Rejoin(context.Context, *models.Tournament, *models.Joiner) (models.Verdicts, error) {
	return models.Verdicts{}, f.err
}

func TestAccessCodeForms(t *testing.T) {
	gate := NewAccessGate(RatingConditionVerifier{}, nil)
	tour := &models.Tournament{ID: 1, Password: strPtr("secret")}
	alice := &models.Joiner{ID: 11}
	bob := &models.Joiner{ID: 12}
	ctx := context.Background()

	cases := []struct {
		name string
		user *models.Joiner
		code string
		want models.Verdict
	}{
		{"shared code", alice, "secret", models.JoinOk},
		{"wrong code", alice, "wrong", models.JoinWrongEntryCode},
		{"empty code", alice, "", models.JoinWrongEntryCode},
		{"own digest", alice, EntryCodeDigest("secret", alice.ID), models.JoinOk},
		{"other user's digest", alice, EntryCodeDigest("secret", bob.ID), models.JoinWrongEntryCode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := gate.CanJoin(ctx, tour, tc.user, tc.code, false)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEntryCodeDigestShape(t *testing.T) {
	d := EntryCodeDigest("secret", 42)
	assert.Len(t, d, 8)
	assert.Equal(t, d, EntryCodeDigest("secret", 42))
	assert.NotEqual(t, d, EntryCodeDigest("secret", 43))
	assert.NotEqual(t, d, EntryCodeDigest("other", 42))
}

func TestBansCheckedBeforeCode(t *testing.T) {
	gate := NewAccessGate(RatingConditionVerifier{}, nil)
	ctx := context.Background()
	private := &models.Tournament{ID: 1, Password: strPtr("secret"), Category: models.CategoryMarathon}

	got, err := gate.CanJoin(ctx, private, &models.Joiner{ID: 1, ArenaBanned: true}, "wrong", false)
	require.NoError(t, err)
	assert.Equal(t, models.JoinArenaBanned, got)

	got, err = gate.CanJoin(ctx, private, &models.Joiner{ID: 1, PrizeBanned: true}, "wrong", false)
	require.NoError(t, err)
	assert.Equal(t, models.JoinPrizeBanned, got)

	casual := &models.Tournament{ID: 2}
	got, err = gate.CanJoin(ctx, casual, &models.Joiner{ID: 1, PrizeBanned: true}, "", false)
	require.NoError(t, err)
	assert.Equal(t, models.JoinOk, got, "prize ban only applies to prized tournaments")
}

func TestConditionsEvaluatedAfterCode(t *testing.T) {
	boom := errors.New("verifier down")
	gate := NewAccessGate(failingVerifier{boom}, nil)
	tour := &models.Tournament{ID: 1, Password: strPtr("secret"), Conditions: models.Conditions{MinRating: intPtr(1000)}}

	got, err := gate.CanJoin(context.Background(), tour, &models.Joiner{ID: 1}, "wrong", false)
	require.NoError(t, err)
	assert.Equal(t, models.JoinWrongEntryCode, got)

	_, err = gate.CanJoin(context.Background(), tour, &models.Joiner{ID: 1}, "secret", false)
	assert.ErrorIs(t, err, boom)
}

func TestConditionsRejectAndRelaxOnRejoin(t *testing.T) {
	gate := NewAccessGate(RatingConditionVerifier{}, nil)
	tour := &models.Tournament{ID: 1, Conditions: models.Conditions{MaxRating: intPtr(1800)}}
	climber := &models.Joiner{ID: 1, Rating: 1900}

	got, err := gate.CanJoin(context.Background(), tour, climber, "", false)
	require.NoError(t, err)
	assert.Equal(t, models.JoinConditionsRejected, got)

	got, err = gate.CanJoin(context.Background(), tour, climber, "", true)
	require.NoError(t, err)
	assert.Equal(t, models.JoinOk, got)
}

func TestPausedUserRejectedLast(t *testing.T) {
	gate := NewAccessGate(RatingConditionVerifier{}, stubPauses{7: true})
	tour := &models.Tournament{ID: 1, Password: strPtr("secret")}

	got, err := gate.CanJoin(context.Background(), tour, &models.Joiner{ID: 7}, "wrong", false)
	require.NoError(t, err)
	assert.Equal(t, models.JoinWrongEntryCode, got)

	got, err = gate.CanJoin(context.Background(), tour, &models.Joiner{ID: 7}, "secret", false)
	require.NoError(t, err)
	assert.Equal(t, models.JoinPaused, got)
}

func TestPauseTrackerDelayDoublesAndCaps(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewPauseTracker(NewMemoryKV(clock), 10*time.Second, 2*time.Minute, discardLogger())
	assert.Equal(t, "10s", p.Delay(1).String())
	assert.Equal(t, "20s", p.Delay(2).String())
	assert.Equal(t, "1m20s", p.Delay(4).String())
	assert.Equal(t, "2m0s", p.Delay(5).String())
	assert.Equal(t, "2m0s", p.Delay(12).String())
}

func TestPauseTrackerRecordsAndExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewPauseTracker(NewMemoryKV(clock), 10*time.Second, 2*time.Minute, discardLogger())
	ctx := context.Background()

	assert.False(t, p.IsPaused(ctx, 5))
	p.RecordPause(ctx, 5)
	assert.True(t, p.IsPaused(ctx, 5))
	clock.Advance(10 * time.Second)
	assert.False(t, p.IsPaused(ctx, 5))

	p.RecordPause(ctx, 5)
	clock.Advance(15 * time.Second)
	assert.True(t, p.IsPaused(ctx, 5), "second pause lasts twice as long")
}

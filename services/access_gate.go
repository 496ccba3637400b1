package services

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/Dosada05/arena/models"
)

// entryDigestLen is the number of hex characters of a per-user entry digest.
const entryDigestLen = 8

// EntryCodeDigest derives the per-user code a private tournament's organizer can
// hand out instead of the shared code. The key is the SHA-256 of the code,
// the message the decimal user id.
func EntryCodeDigest(code string, userID int) string {
	key := sha256.Sum256([]byte(code))
	h, err := blake2b.New256(key[:])
	if err != nil {
		// a 32-byte key is always accepted
		panic(err)
	}
	h.Write([]byte(strconv.Itoa(userID)))
	return hex.EncodeToString(h.Sum(nil))[:entryDigestLen]
}

// entryCodeMatches compares supplied against both accepted forms. Both
// comparisons always run over fixed-length images.
func entryCodeMatches(code, supplied string, userID int) bool {
	got := sha256.Sum256([]byte(supplied))
	plain := sha256.Sum256([]byte(code))
	digest := sha256.Sum256([]byte(EntryCodeDigest(code, userID)))
	matchPlain := subtle.ConstantTimeCompare(plain[:], got[:])
	matchDigest := subtle.ConstantTimeCompare(digest[:], got[:])
	return matchPlain|matchDigest == 1
}

// AccessGate decides whether a user may enter a tournament.
type AccessGate struct {
	verifier ConditionVerifier
	pauses   PausePolicy
}

func NewAccessGate(verifier ConditionVerifier, pauses PausePolicy) *AccessGate {
	return &AccessGate{verifier: verifier, pauses: pauses}
}

// CanJoin returns a rejection verdict, never an error, for users who may not join.
// Errors are reserved for failing collaborators.
func (g *AccessGate) CanJoin(ctx context.Context, t *models.Tournament, user *models.Joiner, code string, isRejoin bool) (models.Verdict, error) {
	if user.ArenaBanned {
		return models.JoinArenaBanned, nil
	}
	if user.PrizeBanned && t.IsPrized() {
		return models.JoinPrizeBanned, nil
	}
	if t.IsPrivate() && !entryCodeMatches(*t.Password, code, user.ID) {
		return models.JoinWrongEntryCode, nil
	}

	verdicts, err := g.verdicts(ctx, t, user, isRejoin)
	if err != nil {
		return models.JoinNope, err
	}
	if !verdicts.Accepted() {
		return models.JoinConditionsRejected, nil
	}

	if g.pauses != nil && g.pauses.IsPaused(ctx, user.ID) {
		return models.JoinPaused, nil
	}
	return models.JoinOk, nil
}

func (g *AccessGate) verdicts(ctx context.Context, t *models.Tournament, user *models.Joiner, isRejoin bool) (models.Verdicts, error) {
	if t.Conditions.IsEmpty() || g.verifier == nil {
		return models.AcceptAll, nil
	}
	var (
		v   models.Verdicts
		err error
	)
	if isRejoin {
		v, err = g.verifier.Rejoin(ctx, t, user)
	} else {
		v, err = g.verifier.Verify(ctx, t, user)
	}
	if err != nil {
		return models.Verdicts{}, fmt.Errorf("failed to verify conditions of tournament %d: %w", t.ID, err)
	}
	return v, nil
}

package services

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Dosada05/arena/models"
	"github.com/Dosada05/arena/notify"
	"github.com/Dosada05/arena/repositories"
)

const globalListKey = "tournament-list"

// StandingPublisher pushes throttled standing updates and a debounced tournament list.
type StandingPublisher struct {
	tournaments repositories.TournamentRepository
	top         *TopNCache
	kv          ExpiringKV
	bus         notify.Bus
	global      *Throttler
	standing    *Throttler
	hashTTL     time.Duration
	logger      *slog.Logger
}

func NewStandingPublisher(
	tournaments repositories.TournamentRepository,
	top *TopNCache,
	kv ExpiringKV,
	bus notify.Bus,
	clock clockwork.Clock,
	globalWindow, standingWindow, hashTTL time.Duration,
	logger *slog.Logger,
) *StandingPublisher {
	return &StandingPublisher{
		tournaments: tournaments,
		top:         top,
		kv:          kv,
		bus:         bus,
		global:      NewThrottler(clock, globalWindow),
		standing:    NewThrottler(clock, standingWindow),
		hashTTL:     hashTTL,
		logger:      logger,
	}
}

// TriggerGlobal schedules a tournament list broadcast. The list is read when
// the broadcast fires.
func (p *StandingPublisher) TriggerGlobal() {
	p.global.Trigger(globalListKey, p.publishList)
}

func (p *StandingPublisher) publishList() {
	visible, err := p.tournaments.ListVisible(context.Background())
	if err != nil {
		p.logger.Error("failed to load visible tournaments", slog.Any("error", err))
		return
	}
	p.bus.Publish(notify.LobbyRoom, notify.Message{Type: notify.TypeTournamentList, Payload: visible})
}

// PairingCompleted schedules a standing push for t. Team battles are skipped.
func (p *StandingPublisher) PairingCompleted(t *models.Tournament) {
	if t.IsTeamBattle() {
		return
	}
	id := t.ID
	p.standing.Trigger(strconv.Itoa(id), func() { p.pushStanding(id) })
}

func (p *StandingPublisher) pushStanding(tournamentID int) {
	ctx := context.Background()
	p.top.Invalidate(tournamentID)
	top, err := p.top.Get(ctx, tournamentID)
	if err != nil {
		p.logger.Error("failed to compute standing", slog.Int("tournament_id", tournamentID), slog.Any("error", err))
		return
	}

	hash := top.Hash()
	key := kvStandingHash + strconv.Itoa(tournamentID)
	last, ok, err := p.kv.Get(ctx, key)
	if err != nil {
		p.logger.Warn("failed to read standing hash", slog.Int("tournament_id", tournamentID), slog.Any("error", err))
	}
	if ok && last == hash {
		return
	}

	p.bus.Publish(notify.TournamentRoom(tournamentID), notify.Message{Type: notify.TypeStandingChanged, Payload: top})
	if err := p.kv.Set(ctx, key, hash, p.hashTTL); err != nil {
		p.logger.Warn("failed to store standing hash", slog.Int("tournament_id", tournamentID), slog.Any("error", err))
	}
}

// Forget drops the stored hash so the next push always broadcasts.
func (p *StandingPublisher) Forget(ctx context.Context, tournamentID int) {
	if err := p.kv.Delete(ctx, kvStandingHash+strconv.Itoa(tournamentID)); err != nil {
		p.logger.Warn("failed to drop standing hash", slog.Int("tournament_id", tournamentID), slog.Any("error", err))
	}
}

func (p *StandingPublisher) Stop() {
	p.global.Stop()
	p.standing.Stop()
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"github.com/Dosada05/arena/config"
	"github.com/Dosada05/arena/models"
	"github.com/Dosada05/arena/repositories"
)

// Jobs runs the periodic work of the orchestrator: pairing rounds, automatic
// start and finish, and the kill sweep.
type Jobs struct {
	tournaments repositories.TournamentRepository
	players     repositories.PlayerRepository
	pool        *WaitingPool
	scheduler   *PairingScheduler
	lifecycle   *LifecycleController
	roster      *RosterManager
	action      *SerializedAction
	clock       clockwork.Clock
	cfg         config.Arena
	logger      *slog.Logger

	cron gocron.Scheduler
}

func NewJobs(
	tournaments repositories.TournamentRepository,
	players repositories.PlayerRepository,
	pool *WaitingPool,
	scheduler *PairingScheduler,
	lifecycle *LifecycleController,
	roster *RosterManager,
	action *SerializedAction,
	clock clockwork.Clock,
	cfg config.Arena,
	logger *slog.Logger,
) *Jobs {
	return &Jobs{
		tournaments: tournaments,
		players:     players,
		pool:        pool,
		scheduler:   scheduler,
		lifecycle:   lifecycle,
		roster:      roster,
		action:      action,
		clock:       clock,
		cfg:         cfg,
		logger:      logger,
	}
}

// Start registers the jobs on a gocron scheduler driven by the injected clock.
func (j *Jobs) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler(gocron.WithClock(j.clock))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	jobs := []struct {
		name  string
		every time.Duration
		run   func(context.Context)
	}{
		{"pairing-tick", j.cfg.PairingTick, j.PairingTick},
		{"status-sweep", j.cfg.StatusSweepEvery, j.StatusSweep},
		{"kill-sweep", j.cfg.KillSweepEvery, j.KillSweep},
	}
	for _, job := range jobs {
		run := job.run
		_, err := sched.NewJob(
			gocron.DurationJob(job.every),
			gocron.NewTask(func() { run(ctx) }),
			gocron.WithName(job.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = sched.Shutdown()
			return fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
	}
	sched.Start()
	j.cron = sched
	return nil
}

func (j *Jobs) Stop() error {
	if j.cron == nil {
		return nil
	}
	return j.cron.Shutdown()
}

// PairingTick tries a round in every started tournament and catches up the player counts.
func (j *Jobs) PairingTick(ctx context.Context) {
	started, err := j.tournaments.ListStarted(ctx)
	if err != nil {
		j.logger.Error("pairing tick: failed to list started tournaments", slog.Any("error", err))
		return
	}
	for _, t := range started {
		if err := j.roster.SyncNbPlayers(ctx, t.ID); err != nil {
			j.logger.Warn("pairing tick: failed to sync player count", slog.Int("tournament_id", t.ID), slog.Any("error", err))
		}
		j.PairNow(ctx, t.ID)
	}
}

// PairNow runs a round for one tournament outside the tick, after a start or a
// join into the pool.
func (j *Jobs) PairNow(ctx context.Context, tournamentID int) {
	if j.lifecycle.IsKilled(ctx, tournamentID) {
		return
	}
	pool := j.pool.Snapshot(tournamentID)
	if pool.Size() <= 1 {
		return
	}
	if _, err := j.MakePairings(ctx, tournamentID, pool); err != nil {
		j.logger.Error("pairing round failed", slog.Int("tournament_id", tournamentID), slog.Any("error", err))
	}
}

// MakePairings runs one guarded round for a started tournament.
func (j *Jobs) MakePairings(ctx context.Context, tournamentID int, pool PoolSnapshot) (int, error) {
	created := 0
	_, err := j.action.Run(ctx, tournamentID, "makePairings", GuardStarted, func(ctx context.Context, t *models.Tournament) error {
		active, err := j.players.CountActive(ctx, t.ID)
		if err != nil {
			return err
		}
		created, err = j.scheduler.MaybeCreatePairings(ctx, t, pool, active)
		return err
	})
	return created, err
}

// StatusSweep starts due tournaments and finishes elapsed ones.
func (j *Jobs) StatusSweep(ctx context.Context) {
	toStart, toFinish, err := j.tournaments.ListDue(ctx, j.clock.Now())
	if err != nil {
		j.logger.Error("status sweep: failed to list due tournaments", slog.Any("error", err))
		return
	}
	for _, t := range toStart {
		if err := j.lifecycle.Start(ctx, t.ID); err != nil {
			j.logger.Error("status sweep: failed to start", slog.Int("tournament_id", t.ID), slog.Any("error", err))
			continue
		}
		j.PairNow(ctx, t.ID)
	}
	for _, t := range toFinish {
		if err := j.lifecycle.Finish(ctx, t.ID); err != nil {
			j.logger.Error("status sweep: failed to finish", slog.Int("tournament_id", t.ID), slog.Any("error", err))
		}
	}
}

func (j *Jobs) KillSweep(ctx context.Context) {
	n, err := j.lifecycle.SweepKilled(ctx)
	if err != nil {
		j.logger.Error("kill sweep failed", slog.Any("error", err))
	}
	if n > 0 {
		j.logger.Info("kill sweep", slog.Int("destroyed", n))
	}
}

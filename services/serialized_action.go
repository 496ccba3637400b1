package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Dosada05/arena/models"
	"github.com/Dosada05/arena/repositories"
)

const instrumentationName = "github.com/Dosada05/arena/services"

// Guard loads the tournament an action applies to. It returns nil when the
// action must not run.
type Guard func(ctx context.Context, repo repositories.TournamentRepository, id int) (*models.Tournament, error)

func guardWhere(pred func(*models.Tournament) bool) Guard {
	return func(ctx context.Context, repo repositories.TournamentRepository, id int) (*models.Tournament, error) {
		t, err := repo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, repositories.ErrTournamentNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if !pred(t) {
			return nil, nil
		}
		return t, nil
	}
}

var (
	GuardByID      = guardWhere(func(*models.Tournament) bool { return true })
	GuardEnterable = guardWhere((*models.Tournament).IsEnterable)
	GuardStarted   = guardWhere((*models.Tournament).IsStarted)
	GuardCreated   = guardWhere((*models.Tournament).IsCreated)
)

// Instrument observes one guarded action on a large tournament.
type Instrument func(ctx context.Context, action string, t *models.Tournament, elapsed time.Duration)

// SerializedAction is the entry point of every operation mutating one
// tournament. Calls for the same tournament may interleave.
type SerializedAction struct {
	tournaments repositories.TournamentRepository
	clock       clockwork.Clock
	threshold   int
	instrument  Instrument
	tracer      trace.Tracer
}

type SerializedActionOption func(*SerializedAction)

// WithInstrument replaces the otel histogram hook.
func WithInstrument(fn Instrument) SerializedActionOption {
	return func(s *SerializedAction) { s.instrument = fn }
}

func NewSerializedAction(
	tournaments repositories.TournamentRepository,
	clock clockwork.Clock,
	largeThreshold int,
	logger *slog.Logger,
	opts ...SerializedActionOption,
) *SerializedAction {
	s := &SerializedAction{
		tournaments: tournaments,
		clock:       clock,
		threshold:   largeThreshold,
		tracer:      otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.instrument == nil {
		s.instrument = histogramInstrument(logger)
	}
	return s
}

func histogramInstrument(logger *slog.Logger) Instrument {
	hist, err := otel.Meter(instrumentationName).Float64Histogram(
		"arena.action.duration",
		metric.WithDescription("Wall-clock duration of actions on large tournaments"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Error("failed to create action duration histogram", slog.Any("error", err))
		return func(context.Context, string, *models.Tournament, time.Duration) {}
	}
	return func(ctx context.Context, action string, _ *models.Tournament, elapsed time.Duration) {
		hist.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("action", action)))
	}
}

// Run loads the tournament through guard and runs body when it yields one.
// It reports whether body ran.
func (s *SerializedAction) Run(
	ctx context.Context,
	tournamentID int,
	action string,
	guard Guard,
	body func(ctx context.Context, t *models.Tournament) error,
) (bool, error) {
	t, err := guard(ctx, s.tournaments, tournamentID)
	if err != nil {
		return false, fmt.Errorf("%s: failed to load tournament %d: %w", action, tournamentID, err)
	}
	if t == nil {
		return false, nil
	}
	if t.NbPlayers <= s.threshold {
		return true, body(ctx, t)
	}

	ctx, span := s.tracer.Start(ctx, "arena."+action, trace.WithAttributes(
		attribute.Int("tournament_id", t.ID),
		attribute.Int("nb_players", t.NbPlayers),
	))
	defer span.End()
	start := s.clock.Now()
	err = body(ctx, t)
	s.instrument(ctx, action, t, s.clock.Since(start))
	if err != nil {
		span.RecordError(err)
	}
	return true, err
}

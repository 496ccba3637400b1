package services

import "errors"

// Общие ошибки, используемые в разных сервисах и маппинге HTTP.
var (
	ErrNotFound = errors.New("requested resource not found")

	ErrValidationFailed        = errors.New("validation failed")
	ErrTournamentNameRequired  = errors.New("tournament name is required")
	ErrTournamentInvalidClock  = errors.New("tournament clock must be positive")
	ErrTournamentInvalidLength = errors.New("tournament duration must be positive")
	ErrTournamentNotEditable   = errors.New("tournament can no longer be edited")
	ErrTeamBattleTooFewTeams   = errors.New("a team battle needs at least two teams")
	ErrInvalidStatusTransition = errors.New("invalid tournament status transition")
	ErrNotBerserkable          = errors.New("berserk is not allowed in this tournament")

	ErrForbiddenOperation = errors.New("operation not allowed for the current user")

	ErrUserNotFound       = errors.New("user not found")
	ErrTeamNotFound       = errors.New("team not found")
	ErrTournamentNotFound = errors.New("tournament not found")
	ErrPlayerNotFound     = errors.New("player not found")
	ErrPairingNotFound    = errors.New("pairing not found")

	// ErrInvariantViolation is fatal for the operation that hit it; caches are left untouched.
	ErrInvariantViolation = errors.New("invariant violation")
)

package services

import (
	"errors"
	"fmt"

	"github.com/Dosada05/arena/repositories"
)

// --- Общие хелперы ---

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// handleRepositoryError переводит ошибки репозиториев в ошибки сервисного слоя.
func handleRepositoryError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	switch {
	case errors.Is(err, repositories.ErrTournamentNotFound):
		return fmt.Errorf("%s: %w", msg, ErrTournamentNotFound)
	case errors.Is(err, repositories.ErrPlayerNotFound):
		return fmt.Errorf("%s: %w", msg, ErrPlayerNotFound)
	case errors.Is(err, repositories.ErrPairingNotFound):
		return fmt.Errorf("%s: %w", msg, ErrPairingNotFound)
	case errors.Is(err, repositories.ErrUserNotFound):
		return fmt.Errorf("%s: %w", msg, ErrUserNotFound)
	case errors.Is(err, repositories.ErrTeamNotFound):
		return fmt.Errorf("%s: %w", msg, ErrTeamNotFound)
	case errors.Is(err, repositories.ErrTournamentInvalidOrg),
		errors.Is(err, repositories.ErrTournamentInvalid):
		return fmt.Errorf("%s: %w: %v", msg, ErrValidationFailed, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

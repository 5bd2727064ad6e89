package composite

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("invalid composite order parameters")
	ErrInvalidRange       = fmt.Errorf("%w: price_min must be below price_max and level_count at least 2", ErrValidation)
	ErrGateway            = errors.New("exchange gateway failure")
	ErrLegPlacementFailed = errors.New("leg placement failed")
	ErrNoLevelsPlaced     = errors.New("no grid level could be placed")
	ErrNotFound           = errors.New("composite order not found")
	ErrNotActive          = errors.New("composite order is not active")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func gatewayError(err error) error {
	if err == nil || errors.Is(err, ErrGateway) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrGateway, err)
}

package services

import "errors"

// Failure classes surfaced by the engine. Handlers map these onto HTTP
// statuses; anything unwrapped is treated as an internal error and the
// surrounding transaction has already been rolled back.
var (
	ErrMarketNotFound   = errors.New("market not found")
	ErrMerchantNotFound = errors.New("merchant not found")
	ErrWagerNotFound    = errors.New("wager not found")

	ErrInvalidSelection = errors.New("invalid selection, must be \"yes\" or \"no\"")
	ErrInvalidStake     = errors.New("stake must be positive")

	ErrMarketNotOpen     = errors.New("market is not open for betting")
	ErrBettingClosed     = errors.New("betting window has closed for this event")
	ErrCoolingOff        = errors.New("market is in its cooling-off period before closure")
	ErrWagerTooLarge     = errors.New("wager too large: stake exceeds 50% of the current pool")
	ErrAlreadySettled    = errors.New("market is already settled")
	ErrMarketTerminal    = errors.New("market is in a terminal state")
	ErrInvalidTransition = errors.New("invalid market status transition")

	ErrInsufficientFunds = errors.New("insufficient funds")
)

// IsStateError reports whether err is a lifecycle/guard rejection: the
// transaction was rolled back and system state is unchanged.
func IsStateError(err error) bool {
	return errors.Is(err, ErrMarketNotOpen) ||
		errors.Is(err, ErrBettingClosed) ||
		errors.Is(err, ErrCoolingOff) ||
		errors.Is(err, ErrWagerTooLarge) ||
		errors.Is(err, ErrAlreadySettled) ||
		errors.Is(err, ErrMarketTerminal) ||
		errors.Is(err, ErrInvalidTransition)
}

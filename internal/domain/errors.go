package domain

import "errors"

// Generic lookup and infrastructure errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrReentrant     = errors.New("operation already in progress")
)

// Validation errors: rejected before any state change.
var (
	ErrZeroAmount         = errors.New("amount must be positive")
	ErrUnsupportedAsset   = errors.New("asset not supported")
	ErrBelowMinimum       = errors.New("amount below minimum deposit")
	ErrAboveMaximum       = errors.New("amount above maximum deposit")
	ErrInvalidWeight      = errors.New("weight out of range")
	ErrWeightOverflow     = errors.New("active weights exceed 10000 bps")
	ErrInvalidWinnerCount = errors.New("winner count out of bounds")
	ErrZeroShares         = errors.New("deposit mints zero shares")
	ErrZeroAddress        = errors.New("zero address")
)

// Policy rejections.
var (
	ErrInactive                = errors.New("deposits are disabled")
	ErrRiskRejected            = errors.New("rejected by risk gate")
	ErrNotRequested            = errors.New("no withdrawal requested")
	ErrDelayNotElapsed         = errors.New("withdrawal delay not elapsed")
	ErrExceedsRequest          = errors.New("amount exceeds requested withdrawal")
	ErrInsufficientShares      = errors.New("insufficient shares")
	ErrInsufficientIdleBalance = errors.New("insufficient idle balance")
	ErrStrategyInactive        = errors.New("strategy inactive")
	ErrStrategyPaused          = errors.New("strategy paused")
	ErrSlippageExceeded        = errors.New("swap output below minimum")
)

// Reward round state errors.
var (
	ErrRoundNotEnded    = errors.New("round has not ended")
	ErrAlreadyFinalized = errors.New("round already finalized")
	ErrNotFinalized     = errors.New("round not finalized")
	ErrNotWinner        = errors.New("caller is not a winner")
	ErrAlreadyClaimed   = errors.New("prize already claimed")
	ErrNoPrize          = errors.New("no prize to claim")
)

// Collaborator and invariant failures.
var (
	ErrCollaborator = errors.New("collaborator call failed")
	ErrInvariant    = errors.New("invariant violation")
)

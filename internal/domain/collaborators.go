package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Strategy is the capability every external yield adapter implements. The
// vault never assumes a call succeeds.
type Strategy interface {
	// Execute deploys amount of base asset already handed to the adapter.
	Execute(ctx context.Context, amount *uint256.Int) error
	// Harvest realizes accrued yield into the vault's idle balance.
	Harvest(ctx context.Context) (*uint256.Int, error)
	// EmergencyExit unwinds the whole position and returns what was recovered.
	EmergencyExit(ctx context.Context) (*uint256.Int, error)
	// Balance reports the current value held by the adapter.
	Balance(ctx context.Context) (*uint256.Int, error)
	Paused(ctx context.Context) (bool, error)
}

// Withdrawer is implemented by adapters that can release part of a position.
type Withdrawer interface {
	Withdraw(ctx context.Context, amount *uint256.Int) (*uint256.Int, error)
}

// RandomnessOracle yields one fresh unpredictable value per call.
type RandomnessOracle interface {
	RandomValue(ctx context.Context) (*uint256.Int, error)
}

// EntropySource supplies recent execution-environment entropy, such as the
// latest block hash.
type EntropySource interface {
	Entropy(ctx context.Context) (common.Hash, error)
}

// Exchange converts input assets into the base unit of account.
type Exchange interface {
	Quote(ctx context.Context, assetIn, assetOut string, amountIn *uint256.Int) (*uint256.Int, error)
	Swap(ctx context.Context, assetIn, assetOut string, amountIn, minAmountOut *uint256.Int) (*uint256.Int, error)
}

// Custodian moves base asset out of the vault.
type Custodian interface {
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error
}

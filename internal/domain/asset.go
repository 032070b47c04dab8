package domain

import "github.com/holiman/uint256"

// Conversion says how deposits of an asset reach the base unit of account.
type Conversion string

const (
	ConversionDirect Conversion = "direct"
	ConversionSwap   Conversion = "swap"
)

// AssetInfo describes an accepted input asset. Bounds are in the asset's own
// units.
type AssetInfo struct {
	Symbol      string       `json:"symbol"`
	Decimals    uint8        `json:"decimals"`
	Supported   bool         `json:"supported"`
	MinDeposit  *uint256.Int `json:"min_deposit"`
	MaxDeposit  *uint256.Int `json:"max_deposit"`
	Conversion  Conversion   `json:"conversion"`
	SlippageBps uint32       `json:"slippage_bps"`
}

// Clone returns a deep copy of a.
func (a *AssetInfo) Clone() *AssetInfo {
	out := *a
	out.MinDeposit = a.MinDeposit.Clone()
	out.MaxDeposit = a.MaxDeposit.Clone()
	return &out
}

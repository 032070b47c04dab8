// Package custody implements domain.Custodian for paper deployments: every
// outbound transfer is recorded in the audit log instead of moving funds.
package custody

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

// Transfer is one recorded payout.
type Transfer struct {
	To     common.Address
	Amount *uint256.Int
}

// Paper records transfers. audit may be nil.
type Paper struct {
	audit  domain.AuditStore
	logger *slog.Logger

	mu        sync.Mutex
	transfers []Transfer
}

// NewPaper creates a paper custodian.
func NewPaper(audit domain.AuditStore, logger *slog.Logger) *Paper {
	return &Paper{
		audit:  audit,
		logger: logger.With(slog.String("component", "paper_custodian")),
	}
}

// Transfer records the payout. An audit write failure fails the transfer so
// the vault rolls the operation back.
func (p *Paper) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("custody: transfer: %w", domain.ErrZeroAddress)
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("custody: transfer: %w", domain.ErrZeroAmount)
	}
	if p.audit != nil {
		if err := p.audit.Log(ctx, "custody.transfer", map[string]any{
			"to":     to.Hex(),
			"amount": amount.Dec(),
		}); err != nil {
			return fmt.Errorf("custody: audit transfer: %w", err)
		}
	}

	p.mu.Lock()
	p.transfers = append(p.transfers, Transfer{To: to, Amount: amount.Clone()})
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "paper transfer",
		slog.String("to", to.Hex()),
		slog.String("amount", amount.Dec()),
	)
	return nil
}

// Transfers returns a copy of every recorded transfer.
func (p *Paper) Transfers() []Transfer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Transfer, len(p.transfers))
	for i, t := range p.transfers {
		out[i] = Transfer{To: t.To, Amount: t.Amount.Clone()}
	}
	return out
}

var _ domain.Custodian = (*Paper)(nil)

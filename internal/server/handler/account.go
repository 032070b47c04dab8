package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/vault"
)

// AccountService is the participant-facing vault surface.
type AccountService interface {
	Deposit(ctx context.Context, owner common.Address, symbol string, amount *uint256.Int) (vault.DepositReceipt, error)
	RequestWithdrawal(ctx context.Context, owner common.Address, amount *uint256.Int) (time.Time, error)
	CancelWithdrawal(ctx context.Context, owner common.Address) error
	Withdraw(ctx context.Context, owner common.Address, amount *uint256.Int, receiver common.Address) (vault.WithdrawReceipt, error)
	ClaimPrize(ctx context.Context, owner common.Address, roundID uint64) (*uint256.Int, error)
	Position(owner common.Address) (*domain.Position, error)
	Positions() []*domain.Position
	WithdrawalReadyAt(owner common.Address) (time.Time, error)
	PreviewWithdraw(assets *uint256.Int) (*uint256.Int, error)
}

// AccountHandler serves deposit, withdrawal and prize-claim endpoints.
type AccountHandler struct {
	svc    AccountService
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(svc AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{svc: svc, logger: logHandler(logger, "account")}
}

type depositRequest struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// Deposit credits a deposit and mints shares.
// POST /api/deposits
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := h.svc.Deposit(r.Context(), owner, req.Asset, amount)
	if err != nil {
		writeVaultError(w, r, h.logger, "deposit", err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

type positionResponse struct {
	*domain.Position
	WithdrawalReadyAt *time.Time `json:"withdrawal_ready_at,omitempty"`
}

// GetPosition returns one participant's position.
// GET /api/positions/{owner}
func (h *AccountHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", pathParam(r, "owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pos, err := h.svc.Position(owner)
	if err != nil {
		writeVaultError(w, r, h.logger, "get position", err)
		return
	}
	resp := positionResponse{Position: pos}
	if pos.WithdrawalPending {
		if at, err := h.svc.WithdrawalReadyAt(owner); err == nil {
			resp.WithdrawalReadyAt = &at
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListPositions returns every position in creation order.
// GET /api/positions?limit=&offset=
func (h *AccountHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	all := h.svc.Positions()
	start := min(opts.Offset, len(all))
	end := min(start+opts.Limit, len(all))
	writeJSON(w, http.StatusOK, map[string]any{
		"positions": all[start:end],
		"total":     len(all),
	})
}

type withdrawalRequest struct {
	Owner    string `json:"owner"`
	Amount   string `json:"amount"`
	Receiver string `json:"receiver,omitempty"`
}

// RequestWithdrawal starts the withdrawal delay.
// POST /api/withdrawals/requests
func (h *AccountHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	owner, amount, _, ok := h.parseWithdrawal(w, r, false)
	if !ok {
		return
	}
	readyAt, err := h.svc.RequestWithdrawal(r.Context(), owner, amount)
	if err != nil {
		writeVaultError(w, r, h.logger, "request withdrawal", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"owner":    owner,
		"amount":   amount,
		"ready_at": readyAt.UTC(),
	})
}

// CancelWithdrawal clears a pending request.
// DELETE /api/withdrawals/requests/{owner}
func (h *AccountHandler) CancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", pathParam(r, "owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.CancelWithdrawal(r.Context(), owner); err != nil {
		writeVaultError(w, r, h.logger, "cancel withdrawal", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Withdraw completes a matured request.
// POST /api/withdrawals
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	owner, amount, receiver, ok := h.parseWithdrawal(w, r, true)
	if !ok {
		return
	}
	receipt, err := h.svc.Withdraw(r.Context(), owner, amount, receiver)
	if err != nil {
		writeVaultError(w, r, h.logger, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *AccountHandler) parseWithdrawal(w http.ResponseWriter, r *http.Request, withReceiver bool) (common.Address, *uint256.Int, common.Address, bool) {
	var req withdrawalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, nil, common.Address{}, false
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, nil, common.Address{}, false
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, nil, common.Address{}, false
	}
	var receiver common.Address
	if withReceiver && req.Receiver != "" {
		if receiver, err = parseAddress("receiver", req.Receiver); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return common.Address{}, nil, common.Address{}, false
		}
	}
	return owner, amount, receiver, true
}

// PreviewWithdraw returns the shares that withdrawing amount would burn.
// GET /api/withdrawals/preview?amount=
func (h *AccountHandler) PreviewWithdraw(w http.ResponseWriter, r *http.Request) {
	amount, err := parseAmount("amount", r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	shares, err := h.svc.PreviewWithdraw(amount)
	if err != nil {
		writeVaultError(w, r, h.logger, "preview withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"amount": amount, "shares": shares})
}

type claimRequest struct {
	Owner string `json:"owner"`
}

// ClaimPrize pays a winner's prize for a finalized round.
// POST /api/rounds/{id}/claims
func (h *AccountHandler) ClaimPrize(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}
	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	prize, err := h.svc.ClaimPrize(r.Context(), owner, id)
	if err != nil {
		writeVaultError(w, r, h.logger, "claim prize", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"round_id": id, "owner": owner, "prize": prize})
}

// Package chain reads execution-environment entropy from an Ethereum JSON-RPC
// endpoint.
package chain

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

// HeaderReader is the slice of ethclient.Client used here.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
}

// BlockEntropy uses the latest block hash as entropy.
type BlockEntropy struct {
	headers HeaderReader
	timeout time.Duration
	closeFn func()
}

// Dial connects to rpcURL.
func Dial(ctx context.Context, rpcURL string, timeout time.Duration) (*BlockEntropy, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	e := NewBlockEntropy(client, timeout)
	e.closeFn = client.Close
	return e, nil
}

// NewBlockEntropy wraps an existing header reader.
func NewBlockEntropy(h HeaderReader, timeout time.Duration) *BlockEntropy {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BlockEntropy{headers: h, timeout: timeout}
}

// Entropy returns the hash of the latest block header.
func (b *BlockEntropy) Entropy(ctx context.Context) (common.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	head, err := b.headers.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: latest header: %w", err)
	}
	if head == nil {
		return common.Hash{}, fmt.Errorf("chain: latest header: empty response")
	}
	return head.Hash(), nil
}

// Close releases the RPC connection if Dial opened it.
func (b *BlockEntropy) Close() {
	if b.closeFn != nil {
		b.closeFn()
	}
}

// LocalEntropy draws 32 bytes from the operating system CSPRNG. It stands in
// for block entropy when no RPC endpoint is configured.
type LocalEntropy struct{}

func (LocalEntropy) Entropy(context.Context) (common.Hash, error) {
	var h common.Hash
	if _, err := rand.Read(h[:]); err != nil {
		return common.Hash{}, fmt.Errorf("chain: local entropy: %w", err)
	}
	return h, nil
}

var (
	_ domain.EntropySource = (*BlockEntropy)(nil)
	_ domain.EntropySource = LocalEntropy{}
)

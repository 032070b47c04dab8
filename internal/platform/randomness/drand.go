// Package randomness provides RandomnessOracle implementations: the public
// drand beacon over HTTP and a local CSPRNG.
package randomness

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

// DrandClient fetches the latest beacon from a drand HTTP relay.
type DrandClient struct {
	baseURL    string
	chainHash  string
	httpClient *http.Client

	mu        sync.Mutex
	lastRound uint64
}

// NewDrandClient creates a client for baseURL, e.g. "https://api.drand.sh".
// chainHash selects a non-default chain and may be empty.
func NewDrandClient(baseURL, chainHash string) *DrandClient {
	return &DrandClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		chainHash: chainHash,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// beacon is the relay's /public/latest response.
type beacon struct {
	Round      uint64 `json:"round"`
	Randomness string `json:"randomness"`
	Signature  string `json:"signature"`
}

// RandomValue returns the randomness of the latest beacon round. A round
// already handed out is rejected so two draws never share a value.
func (d *DrandClient) RandomValue(ctx context.Context) (*uint256.Int, error) {
	path := "/public/latest"
	if d.chainHash != "" {
		path = "/" + d.chainHash + path
	}
	body, err := d.doGet(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("randomness/drand: latest: %w", err)
	}

	var b beacon
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("randomness/drand: decode beacon: %w", err)
	}
	raw, err := hex.DecodeString(b.Randomness)
	if err != nil || len(raw) == 0 || len(raw) > 32 {
		return nil, fmt.Errorf("randomness/drand: bad randomness %q", b.Randomness)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if b.Round <= d.lastRound {
		return nil, fmt.Errorf("randomness/drand: round %d already used", b.Round)
	}
	d.lastRound = b.Round
	return new(uint256.Int).SetBytes(raw), nil
}

func (d *DrandClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// Local draws from the operating system CSPRNG.
type Local struct{}

func (Local) RandomValue(context.Context) (*uint256.Int, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("randomness/local: %w", err)
	}
	return new(uint256.Int).SetBytes32(buf[:]), nil
}

var (
	_ domain.RandomnessOracle = (*DrandClient)(nil)
	_ domain.RandomnessOracle = Local{}
)

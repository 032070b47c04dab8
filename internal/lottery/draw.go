package lottery

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// DeriveSeed hashes the oracle value with the round ID, the finalization
// time and block-level entropy, each as a 32-byte big-endian word.
func DeriveSeed(random *uint256.Int, roundID uint64, at time.Time, entropy common.Hash) common.Hash {
	r := random.Bytes32()
	id := uint256.NewInt(roundID).Bytes32()
	ts := uint256.NewInt(uint64(at.Unix())).Bytes32()
	return crypto.Keccak256Hash(r[:], id[:], ts[:], entropy[:])
}

// drawIndex returns keccak256(seed ‖ counter) mod n.
func drawIndex(seed common.Hash, counter uint64, n uint64) uint64 {
	c := uint256.NewInt(counter).Bytes32()
	h := crypto.Keccak256(seed[:], c[:])
	idx := new(uint256.Int).SetBytes(h)
	return idx.Mod(idx, uint256.NewInt(n)).Uint64()
}

// DrawWinners picks min(k, len(participants)) distinct participants. Each
// draw hashes the seed with a counter that advances after every attempt; an
// index that was already chosen is rejected and redrawn.
func DrawWinners(seed common.Hash, participants []common.Address, k int) []common.Address {
	n := len(participants)
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil
	}
	chosen := make(map[uint64]bool, k)
	winners := make([]common.Address, 0, k)
	var counter uint64
	for len(winners) < k {
		idx := drawIndex(seed, counter, uint64(n))
		counter++
		if chosen[idx] {
			continue
		}
		chosen[idx] = true
		winners = append(winners, participants[idx])
	}
	return winners
}

package ContractInteraction

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type nonceKey struct {
	chainID uint64
	address common.Address
}

// NonceManager tracks nonces locally per chain so a wallet hopping between
// networks never reuses a nonce from the other side.
type NonceManager struct {
	nonces map[nonceKey]uint64
	lock   sync.Mutex
}

func NewNonceManager() *NonceManager {
	return &NonceManager{nonces: make(map[nonceKey]uint64)}
}

// Known reports whether a nonce is tracked for address on chainID.
func (nm *NonceManager) Known(chainID uint64, address common.Address) bool {
	nm.lock.Lock()
	defer nm.lock.Unlock()
	_, ok := nm.nonces[nonceKey{chainID, address}]
	return ok
}

// GetNonce gets the next nonce for an address and increments it
func (nm *NonceManager) GetNonce(chainID uint64, address common.Address) uint64 {
	nm.lock.Lock()
	defer nm.lock.Unlock()

	k := nonceKey{chainID, address}
	nonce := nm.nonces[k]
	nm.nonces[k] = nonce + 1
	return nonce
}

// ResetNonce resets the nonce for an address to a specific value
func (nm *NonceManager) ResetNonce(chainID uint64, address common.Address, nonce uint64) {
	nm.lock.Lock()
	defer nm.lock.Unlock()
	nm.nonces[nonceKey{chainID, address}] = nonce
}

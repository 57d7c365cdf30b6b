package feed

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/mev-bot/internal/types"
)

// Cache holds the latest gas context and per-pool snapshots pushed by
// the stream. Readers get copies; staleness is the caller's risk.
type Cache struct {
	mu     sync.RWMutex
	gas    types.GasContext
	hasGas bool
	pools  map[common.Address]types.PoolState
}

func NewCache() *Cache {
	return &Cache{pools: make(map[common.Address]types.PoolState, 64)}
}

func (c *Cache) SetGas(g types.GasContext) {
	c.mu.Lock()
	c.gas = g
	c.hasGas = true
	c.mu.Unlock()
}

func (c *Cache) Gas() (types.GasContext, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gas, c.hasGas
}

func (c *Cache) SetPool(addr common.Address, st types.PoolState) {
	c.mu.Lock()
	c.pools[addr] = st
	c.mu.Unlock()
}

func (c *Cache) Pool(addr common.Address) (types.PoolState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.pools[addr]
	if !ok {
		return types.PoolState{}, fmt.Errorf("no snapshot for pool %s: %w", addr.Hex(), types.ErrStaleData)
	}
	return st, nil
}

func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasGas
}

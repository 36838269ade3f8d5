package sync

import "sync"

// ScopeCache holds each owner's medication ids as produced by the most recent
// successful Medications sync. Schedules and Refills are scoped through it so
// they see medications merged in the same run, not the pre-merge local list.
//
// The orchestrator invalidates an owner's entry when a full sync starts and
// again when it ends, so an entry never outlives the run that wrote it.
type ScopeCache struct {
	mu     sync.RWMutex
	medIDs map[string][]string
}

// NewScopeCache returns an empty cache.
func NewScopeCache() *ScopeCache {
	return &ScopeCache{medIDs: make(map[string][]string)}
}

// MedicationIDs returns the cached ids for owner.
func (c *ScopeCache) MedicationIDs(owner string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids, ok := c.medIDs[owner]
	return ids, ok
}

// Put replaces the cached ids for owner.
func (c *ScopeCache) Put(owner string, ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]string, len(ids))
	copy(cp, ids)
	c.medIDs[owner] = cp
}

// Invalidate drops the entry for owner.
func (c *ScopeCache) Invalidate(owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.medIDs, owner)
}

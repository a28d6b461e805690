package detection

import (
	"sync"
	"time"

	"phishguard/core/domain"
)

// Claim is the outcome of BeginOrJoin.
//
// Exactly one of three shapes is returned: the caller won the InFlight
// transition (Token != 0), another caller already owns it (AlreadyInFlight),
// or a stored verdict was found (Completed != nil).
type Claim struct {
	AlreadyInFlight bool
	Completed       *domain.CombinedVerdict
	Token           uint64
}

// Won reports whether the caller owns the analysis and must resolve it.
func (c Claim) Won() bool { return c.Token != 0 }

type cacheEntry struct {
	rec domain.AnalysisRecord

	// state to restore when the owner releases the claim
	prev *domain.AnalysisRecord

	token uint64
	done  chan struct{}
}

// AnalysisCache holds one analysis record per content identity and enforces
// at most one in-flight analysis per identity.
//
// Transitions: Idle -> InFlight -> Completed | Failed; Failed -> InFlight on
// the next claim; Completed -> InFlight only when forced.
type AnalysisCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	seq     uint64
	now     func() time.Time
}

// NewAnalysisCache creates an empty cache.
func NewAnalysisCache() *AnalysisCache {
	return &AnalysisCache{
		entries: make(map[string]*cacheEntry),
		now:     time.Now,
	}
}

// Get returns a snapshot of the identity's record. Idle identities report false.
func (c *AnalysisCache) Get(id domain.ContentIdentity) (domain.AnalysisRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id.String()]
	if !ok {
		return domain.AnalysisRecord{Identity: id, Status: domain.StatusIdle}, false
	}
	return e.rec, true
}

// BeginOrJoin atomically claims the InFlight transition for id.
func (c *AnalysisCache) BeginOrJoin(id domain.ContentIdentity, force bool) Claim {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := id.String()
	e, ok := c.entries[key]
	if ok {
		switch e.rec.Status {
		case domain.StatusInFlight:
			return Claim{AlreadyInFlight: true}
		case domain.StatusCompleted:
			if !force {
				return Claim{Completed: e.rec.Verdict}
			}
		}
		prev := e.rec
		e.prev = &prev
		if e.rec.Status == domain.StatusFailed {
			e.rec.RetryCount++
		}
	} else {
		e = &cacheEntry{rec: domain.AnalysisRecord{Identity: id}}
		c.entries[key] = e
	}

	c.seq++
	e.token = c.seq
	e.done = make(chan struct{})
	e.rec.Status = domain.StatusInFlight
	e.rec.Attempts++
	e.rec.UpdatedAt = c.now()

	return Claim{Token: e.token}
}

// Complete stores the verdict for the InFlight period identified by token.
// It reports false when the period was already resolved, released or evicted.
func (c *AnalysisCache) Complete(id domain.ContentIdentity, token uint64, v *domain.CombinedVerdict) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.owned(id, token)
	if e == nil {
		return false
	}
	e.rec.Status = domain.StatusCompleted
	e.rec.Verdict = v
	e.rec.LastError = ""
	c.resolve(e)
	return true
}

// Fail records a failure for the InFlight period identified by token.
func (c *AnalysisCache) Fail(id domain.ContentIdentity, token uint64, kind domain.FailureKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.owned(id, token)
	if e == nil {
		return false
	}
	e.rec.Status = domain.StatusFailed
	e.rec.LastError = kind
	c.resolve(e)
	return true
}

// Release returns an InFlight identity to the state it had before the claim.
// Used when extraction finds nothing to analyze.
func (c *AnalysisCache) Release(id domain.ContentIdentity, token uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.owned(id, token)
	if e == nil {
		return false
	}
	done := e.done
	if e.prev == nil {
		delete(c.entries, id.String())
	} else {
		e.rec = *e.prev
		e.prev = nil
		e.token = 0
		e.done = nil
	}
	close(done)
	return true
}

// Remove evicts the identity. Waiters of an InFlight period are woken.
func (c *AnalysisCache) Remove(id domain.ContentIdentity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := id.String()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if e.rec.Status == domain.StatusInFlight && e.done != nil {
		close(e.done)
	}
	delete(c.entries, key)
	return true
}

// Wait returns the channel closed when the current InFlight period of id
// resolves, or nil when id is not in flight.
func (c *AnalysisCache) Wait(id domain.ContentIdentity) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[id.String()]; ok && e.rec.Status == domain.StatusInFlight {
		return e.done
	}
	return nil
}

// Len returns the number of non-idle identities.
func (c *AnalysisCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Snapshot copies every record.
func (c *AnalysisCache) Snapshot() []domain.AnalysisRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.AnalysisRecord, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.rec)
	}
	return out
}

// Counts returns the number of records per status.
func (c *AnalysisCache) Counts() map[domain.AnalysisStatus]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[domain.AnalysisStatus]int, 3)
	for _, e := range c.entries {
		out[e.rec.Status]++
	}
	return out
}

// owned returns the entry when token still owns its InFlight period. Caller holds mu.
func (c *AnalysisCache) owned(id domain.ContentIdentity, token uint64) *cacheEntry {
	e, ok := c.entries[id.String()]
	if !ok || token == 0 || e.token != token || e.rec.Status != domain.StatusInFlight {
		return nil
	}
	return e
}

// resolve ends the InFlight period. Caller holds mu.
func (c *AnalysisCache) resolve(e *cacheEntry) {
	e.rec.UpdatedAt = c.now()
	e.prev = nil
	e.token = 0
	close(e.done)
	e.done = nil
}

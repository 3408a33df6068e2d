// Package dtntime resolves between monotonic boot-relative time and DTN
// time (milliseconds since the DTN epoch, 2000-01-01T00:00:00Z), per
// §4.11. A correlation factor recomputed from the host clock each
// maintenance tick is kept in a ring of the last 32 boot eras so that
// timestamps from a previous boot can still be resolved after a restart.
package dtntime

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

const ringSize = 32

// dtnEpochUnixMs is 2000-01-01T00:00:00Z expressed as Unix milliseconds.
const dtnEpochUnixMs = 946684800000

// BootEra identifies one boot of the node. Eras increment monotonically
// across restarts; only the last ringSize eras have a resolvable
// correlation factor.
type BootEra uint32

// Monotonic is (boot-era, milliseconds-since-boot) — total-orderable only
// within a single era.
type Monotonic struct {
	Era BootEra
	Ms  uint64
}

// persistedState is the JSON shape written to disk between restarts.
type persistedState struct {
	CurrentEra BootEra          `json:"current_era"`
	CFRing     [ringSize]int64  `json:"cf_ring"`
	DTNRing    [ringSize]uint64 `json:"dtn_time_ring"`
	RingValid  [ringSize]bool   `json:"ring_valid"`
}

// Clock resolves Monotonic timestamps to DTN time and maintains the
// correlation-factor ring across boot eras.
type Clock struct {
	mu     sync.Mutex
	logger *slog.Logger

	persistPath string
	state       persistedState
}

// NewClock starts a clock at currentEra, optionally restoring ring state
// from persistPath (a missing or unreadable file just starts empty — it
// is re-created on the first Persist call).
func NewClock(currentEra BootEra, persistPath string, logger *slog.Logger) *Clock {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Clock{
		logger:      logger,
		persistPath: persistPath,
		state:       persistedState{CurrentEra: currentEra},
	}
	c.load()
	c.state.CurrentEra = currentEra
	return c
}

func (c *Clock) load() {
	if c.persistPath == "" {
		return
	}
	data, err := os.ReadFile(c.persistPath)
	if err != nil {
		c.logger.Debug("dtntime: no prior state file", "path", c.persistPath, "err", err)
		return
	}
	var loaded persistedState
	if err := json.Unmarshal(data, &loaded); err != nil {
		c.logger.Warn("dtntime: state file corrupt, starting fresh", "path", c.persistPath, "err", err)
		return
	}
	c.state = loaded
}

// Persist writes the current ring state to disk. Safe to call from a
// periodic maintenance job; callers should log a failure but need not
// treat it as fatal.
func (c *Clock) Persist() error {
	c.mu.Lock()
	data, err := json.Marshal(c.state)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(c.persistPath, data, 0o644)
}

// Tick recomputes the correlation factor for the current era from the
// host wall clock, if the host reports its clock valid. CF is
// host_dtn_time - monotonic_time; it and the last-valid DTN time are
// stashed in the ring slot for the current era.
func (c *Clock) Tick(now Monotonic, hostClockValid bool) {
	if !hostClockValid {
		return
	}
	hostDTNMs := uint64(time.Now().UnixMilli() - dtnEpochUnixMs)

	c.mu.Lock()
	defer c.mu.Unlock()
	slot := int(now.Era) % ringSize
	c.state.CFRing[slot] = int64(hostDTNMs) - int64(now.Ms)
	c.state.DTNRing[slot] = hostDTNMs
	c.state.RingValid[slot] = true
	c.state.CurrentEra = now.Era
}

// GetDTNTime converts m to DTN time using the current era's correlation
// factor, or a ring lookup for a past era. Returns 0 if nothing valid is
// known for m's era (the "resolvable" precondition in §4.11).
func (c *Clock) GetDTNTime(m Monotonic) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot := int(m.Era) % ringSize
	if !c.state.RingValid[slot] {
		return 0
	}
	// A ring slot is only trustworthy for m.Era if it was last written by
	// that era or a more recent one within the ring's 32-era window.
	if m.Era > c.state.CurrentEra {
		return 0
	}
	if c.state.CurrentEra-m.Era >= ringSize {
		return 0
	}
	cf := c.state.CFRing[slot]
	result := int64(m.Ms) + cf
	if result < 0 {
		return 0
	}
	return uint64(result)
}

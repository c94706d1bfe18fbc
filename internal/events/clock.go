package events

import (
	"fmt"
	"sync"
	"time"
)

// Timestamp combines physical and logical time for ordering.
// The logical counter disambiguates events created within the same
// physical millisecond, so timestamps issued by one Clock never regress.
type Timestamp struct {
	// PhysicalMS is the physical time in milliseconds since Unix epoch.
	PhysicalMS int64 `json:"physical_ms"`

	// Logical is a counter for events at the same physical time.
	Logical uint32 `json:"logical"`
}

// Time converts to time.Time (losing the logical component).
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(t.PhysicalMS)
}

// After returns true if this timestamp is after other.
func (t Timestamp) After(other Timestamp) bool {
	if t.PhysicalMS != other.PhysicalMS {
		return t.PhysicalMS > other.PhysicalMS
	}
	return t.Logical > other.Logical
}

// Compare returns -1, 0, or 1 comparing two timestamps.
func (t Timestamp) Compare(other Timestamp) int {
	if t.PhysicalMS < other.PhysicalMS {
		return -1
	}
	if t.PhysicalMS > other.PhysicalMS {
		return 1
	}
	if t.Logical < other.Logical {
		return -1
	}
	if t.Logical > other.Logical {
		return 1
	}
	return 0
}

// String returns the string representation.
func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d", t.PhysicalMS, t.Logical)
}

// Clock issues monotonically non-decreasing timestamps. If the wall
// clock stalls or steps backwards between calls, the physical component
// is held and the logical counter increments instead.
type Clock struct {
	mu           sync.Mutex
	lastPhysical int64
	lastLogical  uint32
}

// NewClock creates a new monotonic clock.
func NewClock() *Clock {
	return &Clock{}
}

// Now returns a new timestamp guaranteed to be greater than any
// timestamp previously issued by this clock.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physical := time.Now().UnixMilli()

	if physical > c.lastPhysical {
		c.lastPhysical = physical
		c.lastLogical = 0
	} else {
		c.lastLogical++
	}

	return Timestamp{
		PhysicalMS: c.lastPhysical,
		Logical:    c.lastLogical,
	}
}

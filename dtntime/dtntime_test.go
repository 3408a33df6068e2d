package dtntime

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDTNTimeUnknownEraReturnsZero(t *testing.T) {
	c := NewClock(1, "", nil)
	assert.EqualValues(t, 0, c.GetDTNTime(Monotonic{Era: 1, Ms: 1000}))
}

func TestTickThenResolveCurrentEra(t *testing.T) {
	c := NewClock(1, "", nil)
	c.Tick(Monotonic{Era: 1, Ms: 5000}, true)

	got := c.GetDTNTime(Monotonic{Era: 1, Ms: 5000})
	assert.NotZero(t, got)

	// A later timestamp within the same era should resolve to a later
	// DTN time using the same correlation factor.
	later := c.GetDTNTime(Monotonic{Era: 1, Ms: 6000})
	assert.Equal(t, got+1000, later)
}

func TestPastEraOutsideRingWindowReturnsZero(t *testing.T) {
	c := NewClock(40, "", nil)
	c.Tick(Monotonic{Era: 40, Ms: 1000}, true)
	// Era 1 is more than ringSize eras behind era 40.
	assert.EqualValues(t, 0, c.GetDTNTime(Monotonic{Era: 1, Ms: 1000}))
}

func TestPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dtntime.json")
	c1 := NewClock(2, path, nil)
	c1.Tick(Monotonic{Era: 2, Ms: 1000}, true)
	require.NoError(t, c1.Persist())

	c2 := NewClock(2, path, nil)
	got1 := c1.GetDTNTime(Monotonic{Era: 2, Ms: 1000})
	got2 := c2.GetDTNTime(Monotonic{Era: 2, Ms: 1000})
	assert.Equal(t, got1, got2)
}

package offload

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	s := New()
	require.NoError(t, s.Instantiate())
	require.NoError(t, s.Configure(map[string]string{"path": ":memory:"}))
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestOffloadRestoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	id := s.NextStorageID()

	require.NoError(t, s.Offload(id, []byte("payload bytes")))
	found, err := s.Query(id)
	require.NoError(t, err)
	require.True(t, found)

	data, err := s.Restore(id)
	require.NoError(t, err)
	require.Equal(t, []byte("payload bytes"), data)
}

func TestReleaseRemovesEntry(t *testing.T) {
	s := newTestStore(t)
	id := s.NextStorageID()
	require.NoError(t, s.Offload(id, []byte("x")))

	s.Release(id)
	found, err := s.Query(id)
	require.NoError(t, err)
	require.False(t, found)
}

func TestQueryMissingIsFalseNotError(t *testing.T) {
	s := newTestStore(t)
	found, err := s.Query(999)
	require.NoError(t, err)
	require.False(t, found)
}

package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testKey struct {
	AST      string
	Opts     string
	TestSize bool
}

func TestKey(t *testing.T) {
	k1, err := Key(TimingTable, testKey{AST: "a", Opts: "[]", TestSize: true})
	require.NoError(t, err)
	k2, err := Key(TimingTable, testKey{AST: "a", Opts: "[]", TestSize: true})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Contains(t, string(k1), TimingTable+"/")

	k3, err := Key(TimingTable, testKey{AST: "a", Opts: "[]", TestSize: false})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	k4, err := Key(BeamTable, testKey{AST: "a", Opts: "[]", TestSize: true})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4)

	_, err = Key(TimingTable, func() {})
	require.Error(t, err)
}

func TestDisabled(t *testing.T) {
	store := Disabled()
	store.Put(TimingTable, "k", []byte("v"))
	_, found := store.Get(TimingTable, "k")
	assert.False(t, found)
	assert.True(t, IsDisabled(store))
	assert.True(t, IsDisabled(nil))
	require.NoError(t, store.Close())
}

func TestBadgerStore_InMemory(t *testing.T) {
	store, err := OpenInMemory()
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()
	assert.False(t, IsDisabled(store))

	key := testKey{AST: "matmul", Opts: "[]"}
	_, found := store.Get(TimingTable, key)
	assert.False(t, found)

	store.Put(TimingTable, key, []byte("[0.5]"))
	value, found := store.Get(TimingTable, key)
	require.True(t, found)
	assert.Equal(t, "[0.5]", string(value))

	// Same key in another table is independent.
	_, found = store.Get(BeamTable, key)
	assert.False(t, found)

	// Last writer wins.
	store.Put(TimingTable, key, []byte("[0.25]"))
	value, _ = store.Get(TimingTable, key)
	assert.Equal(t, "[0.25]", string(value))

	store.Put(BeamTable, key, []byte("[]"))
	stats, err := store.Stats(TimingTable, BeamTable)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{TimingTable: 1, BeamTable: 1}, stats)

	require.NoError(t, store.Clear(TimingTable))
	stats, err = store.Stats(TimingTable, BeamTable)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{TimingTable: 0, BeamTable: 1}, stats)
}

func TestBadgerStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	assert.Equal(t, dir, store.Path())
	store.Put(BeamTable, "kernel", []byte("opts"))
	require.NoError(t, store.Close())

	store, err = Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()
	value, found := store.Get(BeamTable, "kernel")
	require.True(t, found)
	assert.Equal(t, "opts", string(value))
}

func TestBadgerStore_ConcurrentWriters(t *testing.T) {
	store, err := OpenInMemory()
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	var wg sync.WaitGroup
	for ii := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Put(TimingTable, "same", []byte{byte(ii)})
		}()
	}
	wg.Wait()
	value, found := store.Get(TimingTable, "same")
	require.True(t, found)
	require.Len(t, value, 1)
	assert.Less(t, int(value[0]), 8)
}

func TestOpen_Unavailable(t *testing.T) {
	_, err := Open(Config{})
	require.ErrorIs(t, err, ErrCacheUnavailable)

	// A database directory locked by another open store can't be opened again.
	dir := t.TempDir()
	store, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	_, err = Open(DefaultConfig(dir))
	require.ErrorIs(t, err, ErrCacheUnavailable)
}

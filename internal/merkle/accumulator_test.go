package merkle

import (
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldedpool/internal/shielded"
)

var testHasher = shielded.MiMC{}

func leaves(n int) []*big.Int {
	out := make([]*big.Int, n)
	for i := range out {
		out[i] = big.NewInt(int64(1000 + i))
	}
	return out
}

// naiveRoot hashes the full padded leaf layer level by level.
func naiveRoot(h shielded.Hasher, height int, zero *big.Int, ls []*big.Int) *big.Int {
	layer := make([]*big.Int, 1<<height)
	for i := range layer {
		if i < len(ls) {
			layer[i] = ls[i]
		} else {
			layer[i] = zero
		}
	}
	for len(layer) > 1 {
		next := make([]*big.Int, len(layer)/2)
		for i := range next {
			next[i] = h.Hash(layer[2*i], layer[2*i+1])
		}
		layer = next
	}
	return layer[0]
}

func TestEmptyRoot(t *testing.T) {
	a := New(testHasher, 3, shielded.ZeroValue)
	assert.Equal(t, 0, a.Root().Cmp(naiveRoot(testHasher, 3, shielded.ZeroValue, nil)))
	assert.Equal(t, uint64(0), a.Len())
}

func TestRootMatchesFullRecomputation(t *testing.T) {
	const height = 4
	a := New(testHasher, height, shielded.ZeroValue)
	ls := leaves(11)
	for i, l := range ls {
		idx, err := a.Insert(l)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), idx)
		want := naiveRoot(testHasher, height, shielded.ZeroValue, ls[:i+1])
		assert.Equal(t, 0, a.Root().Cmp(want), "root after %d leaves", i+1)
	}
}

func TestRootReproducible(t *testing.T) {
	ls := leaves(7)
	a := New(testHasher, 5, shielded.ZeroValue)
	for _, l := range ls {
		_, err := a.Insert(l)
		require.NoError(t, err)
	}
	b, err := FromLeaves(testHasher, 5, shielded.ZeroValue, ls)
	require.NoError(t, err)
	assert.Equal(t, 0, a.Root().Cmp(b.Root()))

	reordered := append([]*big.Int{ls[1], ls[0]}, ls[2:]...)
	c, err := FromLeaves(testHasher, 5, shielded.ZeroValue, reordered)
	require.NoError(t, err)
	assert.NotEqual(t, 0, a.Root().Cmp(c.Root()))
}

func TestTreeFull(t *testing.T) {
	a := New(testHasher, 2, shielded.ZeroValue)
	require.NoError(t, a.BulkInsert(leaves(4)))
	_, err := a.Insert(big.NewInt(1))
	assert.ErrorIs(t, err, ErrTreeFull)

	b := New(testHasher, 2, shielded.ZeroValue)
	require.NoError(t, b.BulkInsert(leaves(3)))
	before := b.Root()
	err = b.BulkInsert(leaves(2))
	assert.ErrorIs(t, err, ErrTreeFull)
	assert.Equal(t, uint64(3), b.Len())
	assert.Equal(t, 0, before.Cmp(b.Root()))
}

func TestPath(t *testing.T) {
	ls := leaves(6)
	a, err := FromLeaves(testHasher, 5, shielded.ZeroValue, ls)
	require.NoError(t, err)
	root := a.Root()

	for i, l := range ls {
		p, err := a.Path(uint64(i))
		require.NoError(t, err)
		assert.Len(t, p.Siblings, 5)
		assert.True(t, p.Verify(testHasher, l, root), "leaf %d", i)
		assert.False(t, p.Verify(testHasher, big.NewInt(7), root))
	}

	_, err = a.Path(6)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = a.Leaf(6)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestIndexOf(t *testing.T) {
	ls := leaves(3)
	a, err := FromLeaves(testHasher, 3, shielded.ZeroValue, ls)
	require.NoError(t, err)
	idx, ok := a.IndexOf(ls[2])
	assert.True(t, ok)
	assert.Equal(t, uint64(2), idx)
	_, ok = a.IndexOf(big.NewInt(1))
	assert.False(t, ok)
}

func TestSnapshotIsIndependent(t *testing.T) {
	a, err := FromLeaves(testHasher, 4, shielded.ZeroValue, leaves(3))
	require.NoError(t, err)
	snap := a.Snapshot()
	root := snap.Root()

	_, err = a.Insert(big.NewInt(99))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), snap.Len())
	assert.Equal(t, 0, root.Cmp(snap.Root()))
	assert.NotEqual(t, 0, root.Cmp(a.Root()))

	_, err = snap.Insert(big.NewInt(99))
	require.NoError(t, err)
	assert.Equal(t, 0, a.Root().Cmp(snap.Root()))
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	a := New(testHasher, 6, shielded.ZeroValue)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, l := range leaves(32) {
			_, _ = a.Insert(l)
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				s := a.Snapshot()
				if n := s.Len(); n > 0 {
					p, err := s.Path(n - 1)
					if assert.NoError(t, err) {
						leaf, _ := s.Leaf(n - 1)
						assert.True(t, p.Verify(testHasher, leaf, s.Root()))
					}
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(32), a.Len())
}

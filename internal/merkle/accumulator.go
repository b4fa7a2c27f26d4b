// Package merkle mirrors the ledger's append-only commitment tree.
//
// Leaves are stored as given (they are already commitments). An internal node is
// Hash(left, right); empty subtrees at level i are zeros[i] with zeros[0] = ZeroValue
// and zeros[i+1] = Hash(zeros[i], zeros[i]).
package merkle

import (
	"math/big"
	"sync"

	"github.com/pkg/errors"

	"shieldedpool/internal/shielded"
)

var (
	ErrTreeFull        = errors.New("merkle tree is full")
	ErrIndexOutOfRange = errors.New("leaf index out of range")
)

// Accumulator is an incremental Merkle tree. It is safe for concurrent use: builders
// read from Snapshot copies while a sync session appends to the live instance.
type Accumulator struct {
	mu     sync.RWMutex
	hasher shielded.Hasher
	height int
	zeros  []*big.Int   // zeros[i] is the root of an empty subtree of height i
	layers [][]*big.Int // layers[0] are leaves, layers[height] holds the root once non-empty
	index  map[string]uint64
}

// New returns an empty tree of the given height.
func New(h shielded.Hasher, height int, zero *big.Int) *Accumulator {
	zeros := make([]*big.Int, height+1)
	zeros[0] = new(big.Int).Set(zero)
	for i := 0; i < height; i++ {
		zeros[i+1] = h.Hash(zeros[i], zeros[i])
	}
	return &Accumulator{
		hasher: h,
		height: height,
		zeros:  zeros,
		layers: make([][]*big.Int, height+1),
		index:  make(map[string]uint64),
	}
}

// NewFromParams returns an empty tree shaped by the pool parameters.
func NewFromParams(p *shielded.Params) *Accumulator {
	return New(p.Hasher, p.TreeHeight, p.ZeroValue)
}

// FromLeaves rebuilds a tree from an ordered leaf sequence.
func FromLeaves(h shielded.Hasher, height int, zero *big.Int, leaves []*big.Int) (*Accumulator, error) {
	a := New(h, height, zero)
	if err := a.BulkInsert(leaves); err != nil {
		return nil, err
	}
	return a, nil
}

// Capacity is 2^height.
func (a *Accumulator) Capacity() uint64 {
	return uint64(1) << a.height
}

// Height of the tree.
func (a *Accumulator) Height() int {
	return a.height
}

// Len is the number of inserted leaves.
func (a *Accumulator) Len() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return uint64(len(a.layers[0]))
}

// Insert appends a commitment and returns its index.
func (a *Accumulator) Insert(leaf *big.Int) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if uint64(len(a.layers[0])) >= a.Capacity() {
		return 0, ErrTreeFull
	}
	idx := a.appendLocked(leaf)
	a.rehashFrom(idx, idx)
	return idx, nil
}

// BulkInsert appends all leaves or none of them.
func (a *Accumulator) BulkInsert(leaves []*big.Int) error {
	if len(leaves) == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	start := uint64(len(a.layers[0]))
	if start+uint64(len(leaves)) > a.Capacity() {
		return errors.Wrapf(ErrTreeFull, "%d leaves do not fit after %d", len(leaves), start)
	}
	for _, l := range leaves {
		a.appendLocked(l)
	}
	a.rehashFrom(start, start+uint64(len(leaves))-1)
	return nil
}

func (a *Accumulator) appendLocked(leaf *big.Int) uint64 {
	idx := uint64(len(a.layers[0]))
	v := new(big.Int).Set(leaf)
	a.layers[0] = append(a.layers[0], v)
	if _, dup := a.index[v.String()]; !dup {
		a.index[v.String()] = idx
	}
	return idx
}

// rehashFrom recomputes the nodes above leaves [first, last].
func (a *Accumulator) rehashFrom(first, last uint64) {
	for level := 1; level <= a.height; level++ {
		first, last = first>>1, last>>1
		below := a.layers[level-1]
		for i := first; i <= last; i++ {
			left := below[2*i]
			right := a.zeros[level-1]
			if 2*i+1 < uint64(len(below)) {
				right = below[2*i+1]
			}
			node := a.hasher.Hash(left, right)
			if i < uint64(len(a.layers[level])) {
				a.layers[level][i] = node
			} else {
				a.layers[level] = append(a.layers[level], node)
			}
		}
	}
}

// Root returns the current root; an empty tree has root zeros[height].
func (a *Accumulator) Root() *big.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.layers[a.height]) == 0 {
		return new(big.Int).Set(a.zeros[a.height])
	}
	return new(big.Int).Set(a.layers[a.height][0])
}

// Leaf returns the commitment stored at index.
func (a *Accumulator) Leaf(index uint64) (*big.Int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if index >= uint64(len(a.layers[0])) {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "index %d, %d leaves", index, len(a.layers[0]))
	}
	return new(big.Int).Set(a.layers[0][index]), nil
}

// IndexOf returns the first index holding the commitment.
func (a *Accumulator) IndexOf(leaf *big.Int) (uint64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	idx, ok := a.index[leaf.String()]
	return idx, ok
}

// Leaves returns a copy of the leaf sequence.
func (a *Accumulator) Leaves() []*big.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*big.Int, len(a.layers[0]))
	for i, l := range a.layers[0] {
		out[i] = new(big.Int).Set(l)
	}
	return out
}

// Path is a membership proof: siblings from the leaf level up, and the leaf index
// whose bits select left or right at each level.
type Path struct {
	Index    uint64
	Siblings []*big.Int
}

// Path returns the membership path of the leaf at index.
func (a *Accumulator) Path(index uint64) (*Path, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if index >= uint64(len(a.layers[0])) {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "index %d, %d leaves", index, len(a.layers[0]))
	}
	p := &Path{Index: index, Siblings: make([]*big.Int, a.height)}
	i := index
	for level := 0; level < a.height; level++ {
		sib := i ^ 1
		if sib < uint64(len(a.layers[level])) {
			p.Siblings[level] = new(big.Int).Set(a.layers[level][sib])
		} else {
			p.Siblings[level] = new(big.Int).Set(a.zeros[level])
		}
		i >>= 1
	}
	return p, nil
}

// ComputeRoot folds leaf up the path.
func (p *Path) ComputeRoot(h shielded.Hasher, leaf *big.Int) *big.Int {
	cur := new(big.Int).Set(leaf)
	for level, sib := range p.Siblings {
		if (p.Index>>uint(level))&1 == 0 {
			cur = h.Hash(cur, sib)
		} else {
			cur = h.Hash(sib, cur)
		}
	}
	return cur
}

// Verify reports whether leaf sits at p.Index under root.
func (p *Path) Verify(h shielded.Hasher, leaf, root *big.Int) bool {
	return p.ComputeRoot(h, leaf).Cmp(root) == 0
}

// Snapshot returns an independent copy of the tree.
func (a *Accumulator) Snapshot() *Accumulator {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c := &Accumulator{
		hasher: a.hasher,
		height: a.height,
		zeros:  a.zeros,
		layers: make([][]*big.Int, len(a.layers)),
		index:  make(map[string]uint64, len(a.index)),
	}
	for i, layer := range a.layers {
		c.layers[i] = append([]*big.Int(nil), layer...)
	}
	for k, v := range a.index {
		c.index[k] = v
	}
	return c
}

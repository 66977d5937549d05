package merkle

import (
	"bytes"
	"fmt"

	"github.com/kysee/mixpool/mixer/types"
	"github.com/kysee/mixpool/utils"
)

const (
	MaxDepth          = 32
	DefaultRootWindow = 16
)

// Path is a point-in-time inclusion proof: the sibling hash at every level
// from leaf to root, the leaf index whose bits give the left/right order,
// and the root the path was taken against. Immutable once returned.
type Path struct {
	Siblings [][]byte
	Index    uint64
	Root     []byte
}

// Tree is the append-only anonymity set of one pool: a fixed-depth binary
// MiMC hash tree over note commitments in insertion order. Empty positions
// hold the canonical zero subtree for their level. The tree itself is not
// synchronized; the pool serializes writers.
type Tree struct {
	depth      int
	windowSize int

	// zeros[i] is the node of an all-empty subtree of height i,
	// zeros[0] being the empty leaf. Computed once at construction.
	zeros [][]byte

	// levels[0] holds the leaves, levels[depth] the single root node.
	// Positions beyond len(levels[i]) are implicitly zeros[i].
	levels [][][]byte

	// recent roots, oldest first; always contains the current root.
	recentRoots [][]byte
}

// NewTree builds an empty tree of the given depth (capacity 2^depth)
// retaining the last windowSize roots.
func NewTree(depth, windowSize int) (*Tree, error) {
	if depth < 1 || depth > MaxDepth {
		return nil, fmt.Errorf("tree depth must be in [1,%d], got %d", MaxDepth, depth)
	}
	if windowSize < 1 {
		return nil, fmt.Errorf("root window must be at least 1, got %d", windowSize)
	}

	zeros := make([][]byte, depth+1)
	zeros[0] = make([]byte, 32)
	for i := 0; i < depth; i++ {
		zeros[i+1] = utils.MiMCHash(zeros[i], zeros[i])
	}

	t := &Tree{
		depth:      depth,
		windowSize: windowSize,
		zeros:      zeros,
		levels:     make([][][]byte, depth+1),
	}
	t.recentRoots = [][]byte{t.Root()}
	return t, nil
}

func (t *Tree) Depth() int { return t.depth }

// Size returns the number of inserted leaves, i.e. the anonymity set size.
func (t *Tree) Size() int { return len(t.levels[0]) }

func (t *Tree) IsFull() bool { return t.Size() >= 1<<t.depth }

// Root returns a copy of the current root. An empty tree's root is the
// precomputed zero cascade, never derived from an empty leaf sequence at
// call time.
func (t *Tree) Root() []byte {
	return append([]byte(nil), t.node(t.depth, 0)...)
}

// Leaves returns the ordered leaf sequence, the source of truth for root
// recomputation on restart.
func (t *Tree) Leaves() [][]byte {
	out := make([][]byte, len(t.levels[0]))
	for i, l := range t.levels[0] {
		out[i] = append([]byte(nil), l...)
	}
	return out
}

func (t *Tree) node(level int, pos uint64) []byte {
	if pos < uint64(len(t.levels[level])) {
		return t.levels[level][pos]
	}
	return t.zeros[level]
}

func (t *Tree) setNode(level int, pos uint64, v []byte) {
	for uint64(len(t.levels[level])) <= pos {
		t.levels[level] = append(t.levels[level], t.zeros[level])
	}
	t.levels[level][pos] = v
}

// Insert appends a leaf at the next free index and recomputes only the
// path from that leaf to the root. Returns the new root and the leaf
// index, or ErrPoolExhausted when all 2^depth slots are used.
func (t *Tree) Insert(leaf []byte) ([]byte, uint64, error) {
	if t.IsFull() {
		return nil, 0, types.ErrPoolExhausted
	}

	index := uint64(t.Size())
	cur := append([]byte(nil), leaf...)
	pos := index
	t.setNode(0, pos, cur)
	for lvl := 0; lvl < t.depth; lvl++ {
		var parent []byte
		if pos&1 == 0 {
			parent = utils.MiMCHash(cur, t.node(lvl, pos^1))
		} else {
			parent = utils.MiMCHash(t.node(lvl, pos^1), cur)
		}
		pos >>= 1
		t.setNode(lvl+1, pos, parent)
		cur = parent
	}

	t.pushRoot(cur)
	return append([]byte(nil), cur...), index, nil
}

func (t *Tree) pushRoot(root []byte) {
	t.recentRoots = append(t.recentRoots, append([]byte(nil), root...))
	if len(t.recentRoots) > t.windowSize {
		t.recentRoots = t.recentRoots[len(t.recentRoots)-t.windowSize:]
	}
}

// IsRecentRoot reports whether root is within the bounded history window.
// Proofs built against slightly stale roots stay valid across concurrent
// insertions; nullifier uniqueness, not root freshness, prevents double
// spends.
func (t *Tree) IsRecentRoot(root []byte) bool {
	for _, r := range t.recentRoots {
		if bytes.Equal(r, root) {
			return true
		}
	}
	return false
}

// RecentRoots returns a copy of the root window, oldest first.
func (t *Tree) RecentRoots() [][]byte {
	out := make([][]byte, len(t.recentRoots))
	for i, r := range t.recentRoots {
		out[i] = append([]byte(nil), r...)
	}
	return out
}

// PathAt returns the inclusion path for the leaf at index against the
// current root.
func (t *Tree) PathAt(index uint64) (*Path, error) {
	if index >= uint64(t.Size()) {
		return nil, fmt.Errorf("leaf index %d out of range (%d leaves)", index, t.Size())
	}
	siblings := make([][]byte, t.depth)
	for lvl := 0; lvl < t.depth; lvl++ {
		sib := t.node(lvl, (index>>uint(lvl))^1)
		siblings[lvl] = append([]byte(nil), sib...)
	}
	return &Path{Siblings: siblings, Index: index, Root: t.Root()}, nil
}

// ProveInclusion locates the leaf and returns its path against the
// current root.
func (t *Tree) ProveInclusion(leaf []byte) (*Path, error) {
	for i, l := range t.levels[0] {
		if bytes.Equal(l, leaf) {
			return t.PathAt(uint64(i))
		}
	}
	return nil, fmt.Errorf("leaf not found in tree")
}

// VerifyPath recomputes the root from a leaf and its path, hashing
// (current, sibling) in the order given by the index bit at each level.
func VerifyPath(leaf []byte, path *Path) bool {
	cur := leaf
	for lvl, sib := range path.Siblings {
		if (path.Index>>uint(lvl))&1 == 0 {
			cur = utils.MiMCHash(cur, sib)
		} else {
			cur = utils.MiMCHash(sib, cur)
		}
	}
	return bytes.Equal(cur, path.Root)
}

// Restore rebuilds a tree from a persisted leaf sequence. Only the final
// root seeds the window; use RestoreWindow to reinstate a persisted one.
func Restore(depth, windowSize int, leaves [][]byte) (*Tree, error) {
	t, err := NewTree(depth, windowSize)
	if err != nil {
		return nil, err
	}
	for _, leaf := range leaves {
		if _, _, err := t.Insert(leaf); err != nil {
			return nil, err
		}
	}
	t.recentRoots = [][]byte{t.Root()}
	return t, nil
}

// RestoreWindow replaces the root window with a persisted one. The newest
// persisted root must match the root recomputed from the leaves, otherwise
// the persisted state is inconsistent.
func (t *Tree) RestoreWindow(roots [][]byte) error {
	if len(roots) == 0 {
		return fmt.Errorf("empty root window")
	}
	if !bytes.Equal(roots[len(roots)-1], t.Root()) {
		return fmt.Errorf("persisted root window inconsistent with leaf sequence")
	}
	t.recentRoots = nil
	for _, r := range roots {
		t.recentRoots = append(t.recentRoots, append([]byte(nil), r...))
	}
	if len(t.recentRoots) > t.windowSize {
		t.recentRoots = t.recentRoots[len(t.recentRoots)-t.windowSize:]
	}
	return nil
}

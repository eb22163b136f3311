// Package tree implements the directory-tree snapshot model from
// spec.md §3/§4.3: a recursive, lazily-named-but-eagerly-walked record of a
// directory rooted at a backend path, used by the transfer engine and by
// listing operations. Grounded on the original_source FileSystemTree
// (pyrc/local/system.py) and on the teacher's pkg/storage/directory walking.
package tree

import (
	"github.com/combust-labs/execfabric/pkg/fspath"
)

// Walker is the minimal backend capability tree needs: a single-level
// directory walk at an absolute path. Backend implementations provide this
// via their Walk0 method (see pkg/backend).
type Walker interface {
	// Walk0 lists the immediate files and subdirectories of an absolute
	// directory path, returning basenames only (no nested traversal).
	Walk0(path string) (dirnames, filenames []string, err error)
	GetSize(path string) (int64, error)
	OSType() fspath.OSType
}

// Tree is a recursive snapshot of a directory structure, per spec.md §3.
// level == 0 iff parent == nil; level(child) == level(parent)+1. A Tree
// exclusively owns its subdirectories; Parent is a non-owning back-reference
// used only for ancestor traversal, never for destruction — Go's GC makes
// the "weak back-reference" concern from the original moot, but the
// ownership direction documented here still matters for reasoning about the
// structure.
type Tree struct {
	Root   string
	Parent *Tree
	Files  []string
	Dirs   map[string]*Tree
	Level  int
	OSType fspath.OSType
}

// Get returns the snapshot rooted at directory on w. It performs a
// depth-first Walk0 at every level (spec.md §4.3's get_tree), so the
// returned Tree is a snapshot taken at call time — callers must re-snapshot
// after mutating the backend (spec.md §4.3 invariant).
func Get(w Walker, directory string) (*Tree, error) {
	return build(w, directory, nil)
}

func build(w Walker, directory string, parent *Tree) (*Tree, error) {
	level := 0
	if parent != nil {
		level = parent.Level + 1
	}
	node := &Tree{
		Root:   directory,
		Parent: parent,
		Files:  nil,
		Dirs:   map[string]*Tree{},
		Level:  level,
		OSType: w.OSType(),
	}

	dirnames, filenames, err := w.Walk0(directory)
	if err != nil {
		return nil, err
	}
	node.Files = filenames

	for _, d := range dirnames {
		childPath := fspath.Join(w.OSType(), directory, d)
		child, err := build(w, childPath, node)
		if err != nil {
			return nil, err
		}
		node.Dirs[d] = child
	}

	return node, nil
}

// GetRoot returns only the top-level node, with subdirectory names as plain
// strings rather than recursing (spec.md §4.3's get_root).
func GetRoot(w Walker, directory string) (root string, dirnames, filenames []string, err error) {
	dirnames, filenames, err = w.Walk0(directory)
	if err != nil {
		return "", nil, nil, err
	}
	return directory, dirnames, filenames, nil
}

// Basename returns this node's directory name.
func (t *Tree) Basename() string {
	return fspath.Basename(t.OSType, t.Root)
}

// Nodes returns every node in the tree, including the receiver, ordered by
// level (breadth-first), per spec.md §4.3.
func (t *Tree) Nodes() []*Tree {
	var out []*Tree
	var levels [][]*Tree
	queue := []*Tree{t}
	for len(queue) > 0 {
		levels = append(levels, queue)
		var next []*Tree
		for _, n := range queue {
			for _, name := range sortedKeys(n.Dirs) {
				next = append(next, n.Dirs[name])
			}
		}
		queue = next
	}
	for _, lvl := range levels {
		out = append(out, lvl...)
	}
	return out
}

func sortedKeys(m map[string]*Tree) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Simple insertion sort: directory counts per node are small, and a
	// stable, deterministic node order matters more here than raw speed.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// RealFiles returns the absolute file paths contained directly in this node.
func (t *Tree) RealFiles() []string {
	out := make([]string, 0, len(t.Files))
	for _, f := range t.Files {
		out = append(out, fspath.Join(t.OSType, t.Root, f))
	}
	return out
}

// Ancestors returns this node's ancestors, nearest first.
func (t *Tree) Ancestors() []*Tree {
	var out []*Tree
	for p := t.Parent; p != nil; p = p.Parent {
		out = append(out, p)
	}
	return out
}

// RelativeToRoot returns this node's path relative to the tree root (the
// node with no Parent), joining ancestor basenames from just below the root
// down to this node. The root's own RelativeToRoot is "".
func (t *Tree) RelativeToRoot() string {
	ancestors := t.Ancestors()
	if len(ancestors) == 0 {
		return ""
	}
	// ancestors is nearest-first and always terminates at the true root;
	// drop it before reversing the rest to root-first order.
	ancestors = ancestors[:len(ancestors)-1]
	for i, j := 0, len(ancestors)-1; i < j; i, j = i+1, j-1 {
		ancestors[i], ancestors[j] = ancestors[j], ancestors[i]
	}
	segs := make([]string, 0, len(ancestors)+1)
	for _, a := range ancestors {
		segs = append(segs, a.Basename())
	}
	segs = append(segs, t.Basename())
	return fspath.Join(t.OSType, segs...)
}

// GetSize sums the size of every file contained in this node and its
// descendants, via w.GetSize per file (spec.md §4.3's getsize).
func (t *Tree) GetSize(w Walker) (int64, error) {
	var total int64
	for _, node := range t.Nodes() {
		for _, f := range node.RealFiles() {
			size, err := w.GetSize(f)
			if err != nil {
				return 0, err
			}
			total += size
		}
	}
	return total, nil
}

// Len returns the total count of nodes in the tree (this node plus every
// descendant), matching spec.md §8 property 5's len(tree).
func (t *Tree) Len() int {
	return len(t.Nodes())
}

// Package pathtree maps slash-separated logical paths onto the remote
// process group tree.
//
// The tree is never cached. Each resolution fetches a snapshot, builds an
// Index over it, and creates only the missing suffix of the requested path.
package pathtree

import (
	"strings"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/canvas"
)

// Separator splits logical path segments.
const Separator = "/"

// keySep joins segments into map keys. It cannot appear in a segment.
const keySep = "\x00"

// Split tokenises a logical path. Empty and whitespace-only segments are
// dropped, so "", "/" and " / " all yield an empty path.
func Split(path string) []string {
	var segments []string
	for _, tok := range strings.Split(path, Separator) {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			segments = append(segments, tok)
		}
	}
	return segments
}

// Join renders segments as a logical path.
func Join(segments []string) string {
	return strings.Join(segments, Separator)
}

// TrimRoot drops a leading segment equal to the root's own name.
func TrimRoot(rootName string, segments []string) []string {
	if len(segments) > 0 && rootName != "" && segments[0] == rootName {
		return segments[1:]
	}
	return segments
}

// Index is an immutable view of a group snapshot keyed by path from root.
// The root itself has the empty path.
type Index struct {
	rootID   string
	rootName string
	paths    map[string][]string
	byPath   map[string]string
	excluded []string
}

// BuildIndex computes the path of every group in groups. Groups whose parent
// chain contains a cycle or a parent missing from the snapshot are excluded.
// When two groups share a path the first in listing order wins.
func BuildIndex(rootID, rootName string, groups []canvas.Group) *Index {
	ix := &Index{
		rootID:   rootID,
		rootName: rootName,
		paths:    make(map[string][]string, len(groups)),
		byPath:   make(map[string]string, len(groups)),
	}
	ix.paths[rootID] = nil
	ix.byPath[""] = rootID

	nodes := make(map[string]canvas.Group, len(groups))
	for _, g := range groups {
		if _, dup := nodes[g.ID]; !dup {
			nodes[g.ID] = g
		}
	}

	for _, g := range groups {
		if g.ID == rootID {
			continue
		}
		if _, done := ix.paths[g.ID]; done {
			continue
		}
		path, ok := walk(rootID, g.ID, nodes)
		if !ok {
			ix.excluded = append(ix.excluded, g.ID)
			continue
		}
		ix.paths[g.ID] = path
		key := strings.Join(path, keySep)
		if _, taken := ix.byPath[key]; !taken {
			ix.byPath[key] = g.ID
		}
	}
	return ix
}

// walk follows parent links from id up to rootID and returns the names from
// root to id. The walk is bounded by a visited set.
func walk(rootID, id string, nodes map[string]canvas.Group) ([]string, bool) {
	var reversed []string
	visited := make(map[string]bool)
	cur := id
	for cur != rootID {
		if visited[cur] {
			return nil, false
		}
		visited[cur] = true
		g, ok := nodes[cur]
		if !ok {
			return nil, false
		}
		reversed = append(reversed, g.Name)
		cur = g.ParentID
	}
	path := make([]string, len(reversed))
	for i, name := range reversed {
		path[len(reversed)-1-i] = name
	}
	return path, true
}

// RootID returns the root group id.
func (ix *Index) RootID() string { return ix.rootID }

// RootName returns the root group name.
func (ix *Index) RootName() string { return ix.rootName }

// Len returns the number of indexed groups, root included.
func (ix *Index) Len() int { return len(ix.paths) }

// Excluded returns ids left out because of a cycle or missing parent.
func (ix *Index) Excluded() []string {
	return append([]string(nil), ix.excluded...)
}

// Lookup returns the group at exactly segments.
func (ix *Index) Lookup(segments []string) (string, bool) {
	id, ok := ix.byPath[strings.Join(segments, keySep)]
	return id, ok
}

// DeepestPrefix returns the deepest existing group along segments and how
// many segments it covers. Depths are tried from the shallowest and the scan
// stops at the first missing depth. With no match it returns the root and 0.
func (ix *Index) DeepestPrefix(segments []string) (string, int) {
	id, depth := ix.rootID, 0
	for d := 1; d <= len(segments); d++ {
		next, ok := ix.Lookup(segments[:d])
		if !ok {
			break
		}
		id, depth = next, d
	}
	return id, depth
}

// PathOf returns the path of a group from root.
func (ix *Index) PathOf(id string) ([]string, bool) {
	path, ok := ix.paths[id]
	if !ok {
		return nil, false
	}
	return append([]string(nil), path...), true
}

package benchmarks

import (
	"context"
	"fmt"
	"testing"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/canvas"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/canvas/canvastest"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/pathtree"
)

// buildTree returns a root plus fanout^depth groups, parents listed first.
func buildTree(fanout, depth int) []canvas.Group {
	groups := []canvas.Group{{ID: "root", Name: "NiFi Flow"}}
	level := []string{"root"}
	for d := 0; d < depth; d++ {
		var next []string
		for _, parent := range level {
			for i := 0; i < fanout; i++ {
				id := fmt.Sprintf("%s.%d", parent, i)
				groups = append(groups, canvas.Group{ID: id, Name: fmt.Sprintf("g%d", i), ParentID: parent})
				next = append(next, id)
			}
		}
		level = next
	}
	return groups
}

// BenchmarkBuildIndex_100 indexes about 100 groups.
func BenchmarkBuildIndex_100(b *testing.B) {
	groups := buildTree(10, 2)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pathtree.BuildIndex("root", "NiFi Flow", groups)
	}
}

// BenchmarkBuildIndex_10000 indexes about 10k groups.
func BenchmarkBuildIndex_10000(b *testing.B) {
	groups := buildTree(10, 4)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pathtree.BuildIndex("root", "NiFi Flow", groups)
	}
}

// BenchmarkLookup measures a path lookup in a built index.
func BenchmarkLookup(b *testing.B) {
	ix := pathtree.BuildIndex("root", "NiFi Flow", buildTree(10, 4))
	segments := pathtree.Split("g3/g7/g1/g9")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ix.Lookup(segments)
	}
}

// BenchmarkDeepestPrefix measures finding the deepest existing ancestor.
func BenchmarkDeepestPrefix(b *testing.B) {
	ix := pathtree.BuildIndex("root", "NiFi Flow", buildTree(10, 3))
	segments := pathtree.Split("g3/g7/g1/missing/deeper")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ix.DeepestPrefix(segments)
	}
}

// BenchmarkResolve measures a full resolve against the in-memory engine,
// snapshot included.
func BenchmarkResolve(b *testing.B) {
	e := canvastest.New("NiFi Flow")
	parent := e.Root()
	for _, name := range []string{"OrgA", "SiteB", "Line3"} {
		parent = e.AddGroup(parent, name)
	}
	for i := 0; i < 200; i++ {
		e.AddGroup(e.Root(), fmt.Sprintf("org-%d", i))
	}
	r := pathtree.NewResolver(e)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.Resolve(ctx, "OrgA/SiteB/Line3"); err != nil {
			b.Fatal(err)
		}
	}
}

package pathtree

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/canvas"
	ferrors "github.com/randalmurphal/flowdeploy/pkg/flowdeploy/errors"
)

const opResolve = "resolve path"

// Resolution is the outcome of ResolveOrCreate.
type Resolution struct {
	// GroupID is the group at the end of the path.
	GroupID string

	// Path is the normalised path, without the root name.
	Path []string

	// Created lists the groups created for the missing suffix, shallowest first.
	Created []canvas.Group
}

// Resolver resolves logical paths against a GroupTree.
type Resolver struct {
	tree   canvas.GroupTree
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a Resolver over tree.
func NewResolver(tree canvas.GroupTree, opts ...Option) *Resolver {
	r := &Resolver{tree: tree, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Snapshot fetches the group tree once and indexes it.
func (r *Resolver) Snapshot(ctx context.Context) (*Index, error) {
	rootID, err := r.tree.RootID(ctx)
	if err != nil {
		return nil, ferrors.Remote(opResolve, fmt.Errorf("get root: %w", err))
	}
	groups, err := r.tree.ListGroups(ctx, rootID)
	if err != nil {
		return nil, ferrors.Remote(opResolve, fmt.Errorf("list groups: %w", err))
	}

	rootName := ""
	for _, g := range groups {
		if g.ID == rootID {
			rootName = g.Name
			break
		}
	}

	ix := BuildIndex(rootID, rootName, groups)
	if excluded := ix.Excluded(); len(excluded) > 0 {
		r.logger.Warn("groups excluded from path index",
			slog.Int("count", len(excluded)),
			slog.Any("group_ids", excluded))
	}
	return ix, nil
}

// Resolve returns the group at path without creating anything.
func (r *Resolver) Resolve(ctx context.Context, path string) (string, error) {
	ix, err := r.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	segments := TrimRoot(ix.RootName(), Split(path))
	id, ok := ix.Lookup(segments)
	if !ok {
		return "", ferrors.NotFound(opResolve, "group path %q not found", Join(segments))
	}
	return id, nil
}

// ResolveOrCreate returns the group at path, creating the missing suffix.
// Calling it twice with the same path creates nothing the second time.
// There is no locking: concurrent callers on the same path may both create.
func (r *Resolver) ResolveOrCreate(ctx context.Context, path string) (*Resolution, error) {
	ix, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	segments := TrimRoot(ix.RootName(), Split(path))
	res := &Resolution{Path: segments}

	if id, ok := ix.Lookup(segments); ok {
		res.GroupID = id
		return res, nil
	}

	parentID, depth := ix.DeepestPrefix(segments)
	for _, name := range segments[depth:] {
		g, err := r.tree.CreateGroup(ctx, parentID, name, canvas.Position{})
		if err != nil {
			return nil, ferrors.New(ferrors.KindOf(err), opResolve,
				fmt.Sprintf("create segment %q under %s", name, parentID), err)
		}
		r.logger.Info("created group",
			slog.String("group_id", g.ID),
			slog.String("name", name),
			slog.String("parent_id", parentID))
		res.Created = append(res.Created, *g)
		parentID = g.ID
	}
	res.GroupID = parentID
	return res, nil
}

package preview

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/catprev/catprev/pkg/catalog"
)

// NodeResolver turns a compile request into a fully resolved node enriched
// with server facts.
type NodeResolver struct {
	lookup      NodeLookup
	serverFacts *ServerFactCache
	log         zerolog.Logger
}

// NewNodeResolver creates a node resolver.
func NewNodeResolver(lookup NodeLookup, serverFacts *ServerFactCache, logger zerolog.Logger) *NodeResolver {
	return &NodeResolver{
		lookup:      lookup,
		serverFacts: serverFacts,
		log:         logger,
	}
}

// Resolve resolves the request's target node.
//
// A pre-resolved node (UseNode) is honored only for local requests: it
// bypasses per-node lookup and therefore must never be accepted from the
// network path. Otherwise the target identity comes from the request key,
// falling back to the requesting identity's own node name, and is looked up
// via the node-information service.
func (r *NodeResolver) Resolve(ctx context.Context, req *CompileRequest) (*catalog.Node, error) {
	if req.Options.UseNode != nil {
		if req.Remote {
			return nil, NewPermissionError(
				"the use_node option is only available for local compile requests",
				nil,
			).WithNode(req.Target())
		}
		node := req.Options.UseNode
		r.serverFacts.MergeInto(node)
		return node, nil
	}

	name := req.Target()
	if name == "" {
		return nil, NewArgumentError("no node name or key given to compile", nil)
	}

	node, err := r.lookup.Find(ctx, name, LookupOptions{
		Environment:     req.Environment,
		TransactionUUID: req.Options.TransactionUUID,
	})
	if err != nil {
		return nil, NewCompilationError(
			fmt.Sprintf("failed when searching for node %s", name),
			err,
		).WithNode(name)
	}
	if node == nil {
		return nil, NewArgumentError(
			fmt.Sprintf("could not find node %q; cannot compile", name),
			nil,
		).WithNode(name)
	}

	r.serverFacts.MergeInto(node)

	r.log.Debug().
		Str("node", node.Name).
		Str("environment", node.Environment).
		Msg("Resolved node")

	return node, nil
}

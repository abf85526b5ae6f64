package catalog

import (
	"sort"
	"time"
)

// Node represents a managed node as seen by the compiler.
//
// The same Node instance is reused for both compilation passes of a dual
// compile: Environment points at the baseline environment during the first
// pass and is repointed at the preview environment before the second.
// Callers downstream of the orchestrator must not assume it is stable for
// the duration of a request.
type Node struct {
	// Name is the node's unique identity (typically its certname/FQDN).
	Name string `json:"name"`

	// Environment is the environment the next compile of this node runs
	// against. Mutable, see the type comment.
	Environment string `json:"environment"`

	// Trusted holds authentication-derived data about the requesting
	// identity. Read-only after assignment.
	Trusted map[string]any `json:"trusted,omitempty"`

	// Facts is the node's fact mapping. Server facts and request-supplied
	// facts are merged in before compilation.
	Facts map[string]any `json:"facts"`
}

// NewNode creates a node with an initialized fact mapping.
func NewNode(name, environment string) *Node {
	return &Node{
		Name:        name,
		Environment: environment,
		Facts:       make(map[string]any),
	}
}

// MergeFacts merges extra into the node's fact mapping without overwriting
// keys that are already present.
func (n *Node) MergeFacts(extra map[string]any) {
	if n.Facts == nil {
		n.Facts = make(map[string]any, len(extra))
	}
	for k, v := range extra {
		if _, exists := n.Facts[k]; !exists {
			n.Facts[k] = v
		}
	}
}

// FactSet is a batch of facts submitted for a single node.
type FactSet struct {
	// Name is the node the facts belong to.
	Name string `json:"name"`

	// Environment the facts were collected under, if known.
	Environment string `json:"environment,omitempty"`

	// Values is the fact mapping.
	Values map[string]any `json:"values"`

	// Timestamp is when the facts were produced.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Resource is a single managed resource in a compiled catalog.
type Resource struct {
	// Type is the resource type (e.g. "file", "service").
	Type string `json:"type"`

	// Title uniquely names the resource within its type.
	Title string `json:"title"`

	// Attributes is the resource's desired state.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Ref returns the canonical "Type[title]" reference for the resource.
func (r Resource) Ref() string {
	return r.Type + "[" + r.Title + "]"
}

// Catalog is a compiled, declarative set of managed resources for one node.
// The orchestrator treats it as opaque and only threads it through.
type Catalog struct {
	// Name is the node the catalog was compiled for.
	Name string `json:"name"`

	// Environment is the environment the catalog was compiled against.
	Environment string `json:"environment"`

	// Version identifies the compilation (transaction UUID or timestamp).
	Version string `json:"version,omitempty"`

	// Resources is the compiled resource set, sorted by reference.
	Resources []Resource `json:"resources"`

	// CompiledAt is when compilation finished.
	CompiledAt time.Time `json:"compiled_at,omitempty"`
}

// SortResources orders the catalog's resources by their canonical reference
// so that identical inputs produce structurally identical catalogs.
func (c *Catalog) SortResources() {
	sort.Slice(c.Resources, func(i, j int) bool {
		return c.Resources[i].Ref() < c.Resources[j].Ref()
	})
}

// CompileResult is the unit returned by a dual compile: the catalog the node
// would get today and the catalog it would get under the preview
// environment. Both are non-nil on success; on error the whole result is
// invalid.
type CompileResult struct {
	Baseline *Catalog `json:"baseline"`
	Preview  *Catalog `json:"preview"`
}

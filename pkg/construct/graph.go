package construct

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dominikbraun/graph"
	"go.uber.org/multierr"
)

// Graph is a directed acyclic graph of resources. An edge A -> B means A must exist before B.
type Graph struct {
	g     graph.Graph[ResourceId, *Resource]
	names map[string]ResourceId
}

func ResourceHasher(r *Resource) ResourceId {
	return r.ID
}

func NewGraph() *Graph {
	return &Graph{
		g:     graph.New(ResourceHasher, graph.Directed(), graph.PreventCycles()),
		names: make(map[string]ResourceId),
	}
}

// Add adds a resource. Logical names must be unique across types.
func (g *Graph) Add(r *Resource) error {
	if err := r.ID.Validate(); err != nil {
		return err
	}
	if existing, ok := g.names[r.ID.Name]; ok {
		return fmt.Errorf("logical name %s already used by %s", r.ID.Name, existing)
	}
	if err := g.g.AddVertex(r); err != nil {
		return fmt.Errorf("could not add %s: %w", r.ID, err)
	}
	g.names[r.ID.Name] = r.ID
	return nil
}

func (g *Graph) Resource(id ResourceId) (*Resource, error) {
	r, err := g.g.Vertex(id)
	if err != nil {
		return nil, fmt.Errorf("could not get %s: %w", id, err)
	}
	return r, nil
}

// Lookup finds a resource id by logical name.
func (g *Graph) Lookup(name string) (ResourceId, bool) {
	id, ok := g.names[name]
	return id, ok
}

func (g *Graph) Len() int {
	return len(g.names)
}

// AddDependency records that from must be created before to. Adding an edge that already exists is not an error.
func (g *Graph) AddDependency(from, to ResourceId) error {
	if from == to {
		return fmt.Errorf("%s cannot depend on itself", from)
	}
	err := g.g.AddEdge(from, to)
	switch {
	case err == nil, errors.Is(err, graph.ErrEdgeAlreadyExists):
		return nil
	case errors.Is(err, graph.ErrEdgeCreatesCycle):
		return fmt.Errorf("dependency %s -> %s would create a cycle: %w", from, to, err)
	default:
		return fmt.Errorf("could not add dependency %s -> %s: %w", from, to, err)
	}
}

// AddImplicitDependencies adds an edge for every Ref, GetAtt and Sub reference between resources.
// A reference to a logical name that is not in the graph is an error.
func (g *Graph) AddImplicitDependencies() error {
	ids, err := g.ids()
	if err != nil {
		return err
	}
	var errs error
	for _, id := range ids {
		r, err := g.g.Vertex(id)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, name := range r.References() {
			from, ok := g.names[name]
			if !ok {
				errs = multierr.Append(errs, fmt.Errorf("%s references unknown resource %s", id, name))
				continue
			}
			if from == id {
				errs = multierr.Append(errs, fmt.Errorf("%s references itself", id))
				continue
			}
			errs = multierr.Append(errs, g.AddDependency(from, id))
		}
	}
	return errs
}

// CreationOrder returns every resource id such that each comes after all of its dependencies.
// Ready resources are ordered by logical name.
func (g *Graph) CreationOrder() ([]ResourceId, error) {
	return TopologicalSort(g.g, ResourceIdLess)
}

// DirectDependencies returns the sorted ids that id directly depends on.
func (g *Graph) DirectDependencies(id ResourceId) ([]ResourceId, error) {
	pm, err := g.g.PredecessorMap()
	if err != nil {
		return nil, err
	}
	preds, ok := pm[id]
	if !ok {
		return nil, fmt.Errorf("could not get dependencies of %s: %w", id, graph.ErrVertexNotFound)
	}
	deps := make([]ResourceId, 0, len(preds))
	for p := range preds {
		deps = append(deps, p)
	}
	sort.Sort(SortedIds(deps))
	return deps, nil
}

func (g *Graph) ids() ([]ResourceId, error) {
	am, err := g.g.AdjacencyMap()
	if err != nil {
		return nil, err
	}
	ids := make([]ResourceId, 0, len(am))
	for id := range am {
		ids = append(ids, id)
	}
	sort.Sort(SortedIds(ids))
	return ids, nil
}

package engine

import (
	"fmt"
	"io"
	"sort"

	"github.com/emicklei/dot"

	"github.com/ride-compare/rideops/internal/ir"
)

// DAG represents a directed acyclic graph of reconcile steps for dependency ordering.
type DAG struct {
	nodes map[string]*dagNode
	order []string // topological order, ties broken by declaration order
}

type dagNode struct {
	addr     string
	kind     ir.Kind
	index    int
	edges    []string // steps this node depends on
	revEdges []string // steps that depend on this node
}

// BuildDAG constructs a dependency graph from steps. Dependencies on addresses
// outside the graph are treated as already satisfied.
func BuildDAG(steps []*Step) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode),
	}

	for i, s := range steps {
		if _, dup := dag.nodes[s.Address]; dup {
			return nil, fmt.Errorf("duplicate step %s", s.Address)
		}
		dag.nodes[s.Address] = &dagNode{addr: s.Address, kind: s.Kind, index: i}
	}

	for _, s := range steps {
		node := dag.nodes[s.Address]
		for _, dep := range s.DependsOn {
			if _, ok := dag.nodes[dep]; ok {
				node.edges = append(node.edges, dep)
				dag.nodes[dep].revEdges = append(dag.nodes[dep].revEdges, s.Address)
			}
		}
	}

	order, err := dag.topoSort()
	if err != nil {
		return nil, err
	}
	dag.order = order

	return dag, nil
}

// CreationOrder returns steps in dependency-respecting order.
func (d *DAG) CreationOrder() []string {
	return d.order
}

// Dependencies returns the list of dependencies for a given address.
func (d *DAG) Dependencies(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// topoSort performs Kahn's algorithm, always releasing the earliest declared ready node.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int)
	for addr, node := range d.nodes {
		inDegree[addr] = len(node.edges)
	}

	var ready []*dagNode
	for addr, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, d.nodes[addr])
		}
	}

	var sorted []string
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].index < ready[j].index })
		node := ready[0]
		ready = ready[1:]
		sorted = append(sorted, node.addr)

		for _, dependent := range node.revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, d.nodes[dependent])
			}
		}
	}

	if len(sorted) != len(d.nodes) {
		return nil, fmt.Errorf("dependency cycle detected in resource graph")
	}

	return sorted, nil
}

// GraphFormat selects the rendering of Render.
type GraphFormat string

const (
	FormatDOT     GraphFormat = "dot"
	FormatMermaid GraphFormat = "mermaid"
)

// Render writes the graph in DOT or Mermaid format, with nodes clustered by kind.
func (d *DAG) Render(w io.Writer, format GraphFormat) error {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("rankdir", "TB")
	graph.NodeInitializer(func(n dot.Node) {
		n.Attr("shape", "box")
		n.Attr("fontname", "Arial")
	})

	clusters := make(map[ir.Kind]*dot.Graph)
	nodes := make(map[string]dot.Node, len(d.order))
	for _, addr := range d.order {
		kind := d.nodes[addr].kind
		cluster, ok := clusters[kind]
		if !ok {
			cluster = graph.Subgraph(string(kind), dot.ClusterOption{})
			cluster.Attr("label", string(kind))
			cluster.Attr("style", "rounded")
			clusters[kind] = cluster
		}
		nodes[addr] = cluster.Node(addr)
	}

	for _, addr := range d.order {
		for _, dep := range d.nodes[addr].edges {
			graph.Edge(nodes[dep], nodes[addr])
		}
	}

	var output string
	switch format {
	case FormatMermaid:
		output = dot.MermaidGraph(graph, dot.MermaidTopToBottom)
	case FormatDOT, "":
		output = graph.String()
	default:
		return fmt.Errorf("unknown graph format %q", format)
	}

	_, err := io.WriteString(w, output)
	return err
}

package orchestrator

import (
	"fmt"
)

// DependencyGraph is a directed graph over named nodes. An edge from -> to
// means from must be handled before to. Nodes keep their insertion order,
// which breaks ties wherever the graph leaves the order open.
type DependencyGraph struct {
	nodes map[string]*GraphNode
	order []string
	edges map[string][]string
}

// GraphNode represents a node in the dependency graph
type GraphNode struct {
	Name     string
	Index    int
	InDegree int
	Visited  bool
	InStack  bool
}

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]*GraphNode),
		edges: make(map[string][]string),
	}
}

// AddNode adds a node to the graph. Adding a known name is a no-op.
func (dg *DependencyGraph) AddNode(name string) {
	if _, exists := dg.nodes[name]; exists {
		return
	}
	dg.nodes[name] = &GraphNode{Name: name, Index: len(dg.order)}
	dg.order = append(dg.order, name)
	dg.edges[name] = []string{}
}

// Has reports whether name is a node of the graph
func (dg *DependencyGraph) Has(name string) bool {
	_, ok := dg.nodes[name]
	return ok
}

// Nodes returns node names in insertion order
func (dg *DependencyGraph) Nodes() []string {
	out := make([]string, len(dg.order))
	copy(out, dg.order)
	return out
}

// AddDependency records that from must come before to
func (dg *DependencyGraph) AddDependency(from, to string) error {
	if _, exists := dg.nodes[from]; !exists {
		return fmt.Errorf("node %s not found", from)
	}
	if _, exists := dg.nodes[to]; !exists {
		return fmt.Errorf("node %s not found", to)
	}
	for _, existing := range dg.edges[from] {
		if existing == to {
			return nil
		}
	}

	dg.edges[from] = append(dg.edges[from], to)
	dg.nodes[to].InDegree++
	return nil
}

// BuildGraph builds the complete dependency graph from stages
func (dg *DependencyGraph) BuildGraph(stages []Stage) error {
	for _, stage := range stages {
		dg.AddNode(stage.Name)
	}

	for _, stage := range stages {
		for _, dep := range stage.DependsOn {
			if err := dg.AddDependency(dep, stage.Name); err != nil {
				return fmt.Errorf("failed to add dependency %s -> %s: %w", dep, stage.Name, err)
			}
		}
	}

	return nil
}

// DetectCycle returns the first cycle found by DFS, or nil
func (dg *DependencyGraph) DetectCycle() []string {
	for _, node := range dg.nodes {
		node.Visited = false
		node.InStack = false
	}

	for _, name := range dg.order {
		if !dg.nodes[name].Visited {
			if cycle := dg.dfsDetectCycle(name, []string{}); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func (dg *DependencyGraph) dfsDetectCycle(nodeName string, path []string) []string {
	node := dg.nodes[nodeName]
	node.Visited = true
	node.InStack = true
	path = append(path, nodeName)

	for _, neighbor := range dg.edges[nodeName] {
		neighborNode := dg.nodes[neighbor]
		if neighborNode.InStack {
			for i, name := range path {
				if name == neighbor {
					cycle := append([]string{}, path[i:]...)
					return append(cycle, neighbor)
				}
			}
		}
		if !neighborNode.Visited {
			if cycle := dg.dfsDetectCycle(neighbor, path); cycle != nil {
				return cycle
			}
		}
	}

	node.InStack = false
	return nil
}

// TopologicalSort returns nodes in dependency order using Kahn's algorithm.
// Among ready nodes the earliest inserted goes first.
func (dg *DependencyGraph) TopologicalSort() ([]string, error) {
	batches, err := dg.GetBatches()
	if err != nil {
		return nil, err
	}
	result := make([]string, 0, len(dg.order))
	for _, batch := range batches {
		result = append(result, batch...)
	}
	return result, nil
}

// OrderedSort is a stable topological order: at every step the earliest
// inserted node whose dependencies are all placed is emitted next. Unlike
// TopologicalSort it does not group by depth, so insertion order is kept
// wherever the edges allow it.
func (dg *DependencyGraph) OrderedSort() ([]string, error) {
	if cycle := dg.DetectCycle(); cycle != nil {
		return nil, fmt.Errorf("circular dependency detected: %v", cycle)
	}

	inDegree := make(map[string]int, len(dg.nodes))
	for name, node := range dg.nodes {
		inDegree[name] = node.InDegree
	}
	placed := make(map[string]bool, len(dg.nodes))
	result := make([]string, 0, len(dg.order))

	for len(result) < len(dg.order) {
		next := ""
		for _, name := range dg.order {
			if !placed[name] && inDegree[name] == 0 {
				next = name
				break
			}
		}
		if next == "" {
			return nil, fmt.Errorf("topological sort failed - graph contains cycles")
		}
		placed[next] = true
		result = append(result, next)
		for _, neighbor := range dg.edges[next] {
			inDegree[neighbor]--
		}
	}
	return result, nil
}

// GetBatches returns nodes grouped by depth. Every node of a batch depends
// only on nodes of earlier batches.
func (dg *DependencyGraph) GetBatches() ([][]string, error) {
	if cycle := dg.DetectCycle(); cycle != nil {
		return nil, fmt.Errorf("circular dependency detected: %v", cycle)
	}

	inDegree := make(map[string]int, len(dg.nodes))
	for name, node := range dg.nodes {
		inDegree[name] = node.InDegree
	}

	batches := [][]string{}
	processed := make(map[string]bool, len(dg.nodes))

	for len(processed) < len(dg.nodes) {
		currentBatch := []string{}
		for _, name := range dg.order {
			if inDegree[name] == 0 && !processed[name] {
				currentBatch = append(currentBatch, name)
			}
		}

		if len(currentBatch) == 0 {
			return nil, fmt.Errorf("unable to find next batch - possible circular dependency")
		}
		batches = append(batches, currentBatch)

		for _, name := range currentBatch {
			processed[name] = true
			for _, neighbor := range dg.edges[name] {
				inDegree[neighbor]--
			}
		}
	}

	return batches, nil
}

// GetDependents returns the nodes that directly depend on name
func (dg *DependencyGraph) GetDependents(name string) []string {
	if deps, exists := dg.edges[name]; exists {
		result := make([]string, len(deps))
		copy(result, deps)
		return result
	}
	return []string{}
}

// GetAllDependents returns every node that depends on name, recursively
func (dg *DependencyGraph) GetAllDependents(name string) []string {
	visited := map[string]bool{name: true}
	result := make([]string, 0)

	var collect func(string)
	collect = func(current string) {
		for _, dep := range dg.edges[current] {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			result = append(result, dep)
			collect(dep)
		}
	}

	collect(name)
	return result
}

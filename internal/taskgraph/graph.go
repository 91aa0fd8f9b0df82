// File: internal/taskgraph/graph.go
// Description: The dependency graph of subtasks and its topological scheduler.
// The graph is built from a structured decomposition, extended during
// replanning, and linearized into a ready queue with Kahn's algorithm.

package taskgraph

import (
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/strata-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Graph owns the subtask nodes, their dependency edges (recorded child to
// parent) and the topologically ordered ready queue. It is not safe for
// concurrent use; the orchestrator drives it from a single goroutine.
type Graph struct {
	logger *zap.Logger
	nodes  map[string]*schemas.ActionNode
	edges  map[string][]string
	// seed preserves insertion order so that repeated Order calls over the
	// same graph are reproducible.
	seed  []string
	queue []string
}

// New creates an empty graph.
func New(logger *zap.Logger) *Graph {
	return &Graph{
		logger: logger.Named("taskgraph"),
		nodes:  make(map[string]*schemas.ActionNode),
		edges:  make(map[string][]string),
	}
}

// Reset clears all nodes, edges and scheduling state.
func (g *Graph) Reset() {
	g.nodes = make(map[string]*schemas.ActionNode)
	g.edges = make(map[string][]string)
	g.seed = nil
	g.queue = nil
}

// Build populates the graph from a structured decomposition and computes the
// initial ready queue. Every dependency referenced by a spec entry must be
// defined in the same spec.
func (g *Graph) Build(spec map[string]schemas.NodeSpec) error {
	if _, err := g.insert(spec); err != nil {
		return err
	}
	_, err := g.Order()
	return err
}

// Merge inserts a replanned subgraph and anchors it by making anchorID depend
// on the subgraph's final node. The merge is rejected with ErrCycle before any
// edge is committed if the new dependency would close a cycle.
func (g *Graph) Merge(anchorID string, sub map[string]schemas.NodeSpec) error {
	if _, ok := g.nodes[anchorID]; !ok {
		return fmt.Errorf("%w: merge anchor %q", ErrUnknownNode, anchorID)
	}
	if len(sub) == 0 {
		return fmt.Errorf("empty replanned subgraph for anchor %q", anchorID)
	}

	ids := sortedKeys(sub)
	last := ids[len(ids)-1]

	// The anchor will depend on the subgraph's last node. That closes a cycle
	// iff the last node (through the combined edge sets) reaches the anchor.
	if last == anchorID || g.wouldReach(last, anchorID, sub) {
		return cycleError(fmt.Sprintf("merge at %q would make it depend on itself through %q", anchorID, last))
	}

	inserted, err := g.insert(sub)
	if err != nil {
		return err
	}
	g.edges[anchorID] = append(g.edges[anchorID], last)
	g.nodes[anchorID].Dependencies = append(g.nodes[anchorID].Dependencies, last)
	g.nodes[last].NextActions[anchorID] = g.nodes[anchorID].Description

	g.logger.Info("Merged replanned subgraph",
		zap.String("anchor", anchorID),
		zap.Strings("nodes", inserted),
		zap.String("tail", last))

	_, err = g.Order()
	return err
}

// insert creates nodes and edges for every spec entry, in lexicographic id
// order for reproducibility, and wires successor descriptions onto each
// dependency. Returns the inserted ids in that order.
func (g *Graph) insert(spec map[string]schemas.NodeSpec) ([]string, error) {
	ids := sortedKeys(spec)

	for _, id := range ids {
		if _, exists := g.nodes[id]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateNode, id)
		}
	}
	// Validate dependencies and kinds against the union of the spec and the
	// existing graph before mutating anything.
	kinds := make(map[string]schemas.NodeKind, len(ids))
	for _, id := range ids {
		for _, dep := range spec[id].Dependencies {
			if _, inSpec := spec[dep]; inSpec {
				continue
			}
			if _, inGraph := g.nodes[dep]; inGraph {
				continue
			}
			return nil, unknownDependency(id, dep)
		}
		kind, err := schemas.ParseNodeKind(spec[id].Type)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", id, err)
		}
		kinds[id] = kind
	}

	for _, id := range ids {
		entry := spec[id]
		g.nodes[id] = &schemas.ActionNode{
			ID:           id,
			Description:  entry.Description,
			Kind:         kinds[id],
			Dependencies: append([]string(nil), entry.Dependencies...),
			NextActions:  make(map[string]string),
		}
		g.edges[id] = append([]string(nil), entry.Dependencies...)
		g.seed = append(g.seed, id)
	}
	for _, id := range ids {
		for _, dep := range spec[id].Dependencies {
			g.nodes[dep].NextActions[id] = spec[id].Description
		}
	}
	return ids, nil
}

// wouldReach reports whether from can reach target by walking dependency
// edges over the union of the existing graph and the not-yet-inserted spec.
func (g *Graph) wouldReach(from, target string, sub map[string]schemas.NodeSpec) bool {
	visited := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if entry, ok := sub[cur]; ok {
			stack = append(stack, entry.Dependencies...)
		}
		stack = append(stack, g.edges[cur]...)
	}
	return false
}

// Order runs Kahn's algorithm over the nodes that are not yet done and
// replaces the ready queue with the resulting topological order. Candidates
// with equal in-degree are scheduled FIFO in insertion order, so replays of
// the same graph produce the same queue. A cycle among pending nodes is a
// hard error, never a silently truncated queue.
func (g *Graph) Order() ([]string, error) {
	pending := make(map[string]bool, len(g.nodes))
	for _, id := range g.seed {
		if !g.nodes[id].Done {
			pending[id] = true
		}
	}

	// children and in-degree restricted to pending nodes.
	children := make(map[string][]string, len(pending))
	indeg := make(map[string]int, len(pending))
	for _, id := range g.seed {
		if !pending[id] {
			continue
		}
		indeg[id] = 0
	}
	for _, id := range g.seed {
		if !pending[id] {
			continue
		}
		for _, dep := range g.edges[id] {
			if pending[dep] {
				children[dep] = append(children[dep], id)
				indeg[id]++
			}
		}
	}

	var fifo []string
	for _, id := range g.seed {
		if pending[id] && indeg[id] == 0 {
			fifo = append(fifo, id)
		}
	}

	order := make([]string, 0, len(pending))
	for len(fifo) > 0 {
		cur := fifo[0]
		fifo = fifo[1:]
		order = append(order, cur)
		for _, child := range children[cur] {
			indeg[child]--
			if indeg[child] == 0 {
				fifo = append(fifo, child)
			}
		}
	}

	if len(order) != len(pending) {
		var stuck []string
		for id, d := range indeg {
			if d > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		g.queue = nil
		return nil, cycleError(fmt.Sprintf("unschedulable nodes %v", stuck))
	}

	g.queue = order
	return append([]string(nil), order...), nil
}

// ReadyQueue returns a copy of the current topological order of pending nodes.
func (g *Graph) ReadyQueue() []string {
	return append([]string(nil), g.queue...)
}

// PopReady removes and returns the head of the ready queue.
func (g *Graph) PopReady() (string, bool) {
	if len(g.queue) == 0 {
		return "", false
	}
	head := g.queue[0]
	g.queue = g.queue[1:]
	return head, true
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*schemas.ActionNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the total node count.
func (g *Graph) Len() int { return len(g.nodes) }

// Pending returns the count of not-done nodes.
func (g *Graph) Pending() int {
	n := 0
	for _, node := range g.nodes {
		if !node.Done {
			n++
		}
	}
	return n
}

// MarkDone records a node's completion together with its return value and the
// code that produced it.
func (g *Graph) MarkDone(id, returnValue, code string) error {
	node, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	node.Done = true
	if returnValue != "" {
		node.ReturnValue = returnValue
	}
	if code != "" {
		node.RelevantCode = code
	}
	return nil
}

// PredecessorSummary compiles the descriptions and return values of a node's
// direct dependencies into a JSON object for prompt context.
func (g *Graph) PredecessorSummary(id string) (string, error) {
	node, ok := g.nodes[id]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}

	type depInfo struct {
		Description string `json:"description"`
		ReturnValue string `json:"return_val"`
	}
	summary := make(map[string]depInfo, len(node.Dependencies))
	for _, dep := range node.Dependencies {
		parent, ok := g.nodes[dep]
		if !ok {
			return "", fmt.Errorf("%w: dependency %q of %q", ErrUnknownNode, dep, id)
		}
		summary[dep] = depInfo{Description: parent.Description, ReturnValue: parent.ReturnValue}
	}

	raw, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("failed to marshal predecessor summary: %w", err)
	}
	return string(raw), nil
}

func sortedKeys(m map[string]schemas.NodeSpec) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

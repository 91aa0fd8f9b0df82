package taskgraph

import (
	"errors"
	"fmt"
)

var (
	// ErrCycle indicates the dependency relation restricted to not-done nodes
	// is not acyclic. It is a hard scheduling failure.
	ErrCycle = errors.New("taskgraph: dependency cycle")

	// ErrUnknownDependency indicates a node spec referenced a dependency id
	// that exists neither in the spec nor in the current graph.
	ErrUnknownDependency = errors.New("taskgraph: unknown dependency")

	// ErrUnknownNode indicates an operation referenced a node id that is not
	// in the graph.
	ErrUnknownNode = errors.New("taskgraph: unknown node")

	// ErrDuplicateNode indicates a spec tried to redefine an existing node id.
	ErrDuplicateNode = errors.New("taskgraph: duplicate node")
)

func unknownDependency(node, dep string) error {
	return fmt.Errorf("%w: node %q depends on %q", ErrUnknownDependency, node, dep)
}

func cycleError(detail string) error {
	return fmt.Errorf("%w: %s", ErrCycle, detail)
}

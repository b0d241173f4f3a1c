package node

import (
	"fmt"
)

// connectionPoints flattens an operand for linking: a plain node connects
// through itself, a model connects through its exit nodes (as sender) and
// entry nodes (as receiver).
func connectionPoints(n Node) (nodes []Node, edges []Edge, froms, tos []Node) {
	if m, ok := n.(*Model); ok {
		return m.nodes, m.edges, m.exits, m.entries
	}
	return []Node{n}, nil, []Node{n}, []Node{n}
}

// Link composes sender and receiver into a new model, connecting the
// sender's exit points to the receiver's entry points. Operand models are
// unpacked; neither operand is mutated.
func Link(from, to Node) (*Model, error) {
	if from == nil || to == nil {
		return nil, fmt.Errorf("link requires two nodes")
	}
	if from.Name() == to.Name() {
		return nil, fmt.Errorf("cannot link %s to itself", from.Name())
	}

	fromNodes, fromEdges, senders, _ := connectionPoints(from)
	toNodes, toEdges, _, receivers := connectionPoints(to)

	nodes := append(append([]Node{}, fromNodes...), toNodes...)
	edges := append(append([]Edge{}, fromEdges...), toEdges...)
	for _, s := range senders {
		for _, r := range receivers {
			edges = append(edges, Edge{From: s, To: r})
		}
	}
	return NewModel("", nodes, edges)
}

// Chain links nodes in sequence: Chain(a, b, c) is a >> b >> c.
func Chain(ns ...Node) (*Model, error) {
	if len(ns) < 2 {
		return nil, fmt.Errorf("chain requires at least two nodes")
	}
	var nodes []Node
	var edges []Edge
	for i, n := range ns {
		memberNodes, memberEdges, _, _ := connectionPoints(n)
		nodes = append(nodes, memberNodes...)
		edges = append(edges, memberEdges...)
		if i == 0 {
			continue
		}
		_, _, senders, _ := connectionPoints(ns[i-1])
		_, _, _, receivers := connectionPoints(n)
		for _, s := range senders {
			for _, r := range receivers {
				edges = append(edges, Edge{From: s, To: r})
			}
		}
	}
	return NewModel("", nodes, edges)
}

// Merge unions the nodes and edges of several operands into one model
// without adding connections.
func Merge(ns ...Node) (*Model, error) {
	if len(ns) == 0 {
		return nil, fmt.Errorf("merge requires at least one node")
	}
	var nodes []Node
	var edges []Edge
	for _, n := range ns {
		memberNodes, memberEdges, _, _ := connectionPoints(n)
		nodes = append(nodes, memberNodes...)
		edges = append(edges, memberEdges...)
	}
	return NewModel("", nodes, edges)
}

// LinkFeedback wires sender's previous-step state into receiver's
// feedback input.
func LinkFeedback(receiver Node, sender Node) error {
	recv, ok := receiver.(FeedbackReceiver)
	if !ok {
		return fmt.Errorf("%s does not accept feedback connections", receiver.Name())
	}
	return recv.LinkFeedback(sender)
}

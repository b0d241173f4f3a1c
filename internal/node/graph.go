package node

import (
	"sort"
)

// Edge is a directed data connection between two nodes of a model.
type Edge struct {
	From Node
	To   Node
}

// parentsAndChildren indexes the edge set by node name. Edges are walked
// in name order so the derived lists are identical across runs.
func parentsAndChildren(edges []Edge) (parents, children map[string][]Node) {
	sorted := make([]Edge, len(edges))
	copy(sorted, edges)
	sort.Slice(sorted, func(a, b int) bool {
		ka := sorted[a].From.Name() + "\x00" + sorted[a].To.Name()
		kb := sorted[b].From.Name() + "\x00" + sorted[b].To.Name()
		return ka < kb
	})

	parents = make(map[string][]Node)
	children = make(map[string][]Node)
	for _, e := range sorted {
		parents[e.To.Name()] = append(parents[e.To.Name()], e.From)
		children[e.From.Name()] = append(children[e.From.Name()], e.To)
	}
	return parents, children
}

// FindEntriesAndExits returns the input nodes (no incoming edge, isolated
// nodes included) and output nodes (no outgoing edge) of a graph, each
// sorted by name.
func FindEntriesAndExits(nodes []Node, edges []Edge) (entries, exits []Node) {
	senders := make(map[string]bool)
	receivers := make(map[string]bool)
	for _, e := range edges {
		senders[e.From.Name()] = true
		receivers[e.To.Name()] = true
	}
	for _, n := range nodes {
		if !receivers[n.Name()] {
			entries = append(entries, n)
		}
		if !senders[n.Name()] {
			exits = append(exits, n)
		}
	}
	sortByName(entries)
	sortByName(exits)
	return entries, exits
}

// TopoSort orders nodes with Kahn's algorithm. Nodes that become ready at
// the same level are taken in name order, so the execution order is
// reproducible across runs. A cycle leaves unresolved edges and is a
// structural error.
func TopoSort(nodes []Node, edges []Edge) ([]Node, error) {
	parents, children := parentsAndChildren(edges)

	indegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		indegree[n.Name()] = len(parents[n.Name()])
	}

	var ready []Node
	for _, n := range nodes {
		if indegree[n.Name()] == 0 {
			ready = append(ready, n)
		}
	}
	sortByName(ready)

	ordered := make([]Node, 0, len(nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		ordered = append(ordered, n)

		for _, child := range children[n.Name()] {
			indegree[child.Name()]--
			if indegree[child.Name()] == 0 {
				ready = insertByName(ready, child)
			}
		}
	}

	if len(ordered) != len(nodes) {
		return nil, ErrGraphCycle
	}
	return ordered, nil
}

// OfflineSubgraphs partitions a topologically ordered node list at
// offline-trainable boundaries: every offline learner closes a group,
// since it must see all upstream state before its own fit, and its
// children must see its fitted output.
func OfflineSubgraphs(ordered []Node) [][]Node {
	var groups [][]Node
	var current []Node
	for _, n := range ordered {
		current = append(current, n)
		if _, ok := n.(OfflineTrainer); ok {
			groups = append(groups, current)
			current = nil
		}
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

func sortByName(nodes []Node) {
	sort.Slice(nodes, func(a, b int) bool { return nodes[a].Name() < nodes[b].Name() })
}

func insertByName(nodes []Node, n Node) []Node {
	i := sort.Search(len(nodes), func(i int) bool { return nodes[i].Name() >= n.Name() })
	nodes = append(nodes, nil)
	copy(nodes[i+1:], nodes[i:])
	nodes[i] = n
	return nodes
}

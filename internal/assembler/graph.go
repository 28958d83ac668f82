package assembler

import (
	"strconv"

	"github.com/23skdu/longbow-lens/internal/present"
	"github.com/23skdu/longbow-lens/internal/trace"
)

// NodeKind classifies generation graph nodes.
type NodeKind string

const (
	NodeInput        NodeKind = "input"
	NodeHub          NodeKind = "hub"
	NodeStep         NodeKind = "step"
	NodeContinuation NodeKind = "continuation"
)

const (
	hubID          = "transformer"
	continuationID = "continue"
)

// Node is one vertex of the generation graph.
type Node struct {
	ID      string   `json:"id"`
	Kind    NodeKind `json:"kind"`
	Label   string   `json:"label"`
	Index   int      `json:"index"`
	Token   string   `json:"token,omitempty"`
	Prob    float64  `json:"prob,omitempty"`
	Percent string   `json:"percent,omitempty"`
}

// Edge connects two nodes by ID.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is an ordered node list plus edge list, independent of layout.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Count returns the number of nodes of the given kind.
func (g *Graph) Count(kind NodeKind) int {
	if g == nil {
		return 0
	}
	n := 0
	for _, node := range g.Nodes {
		if node.Kind == kind {
			n++
		}
	}
	return n
}

// Node looks a node up by ID.
func (g *Graph) Node(id string) (Node, bool) {
	if g != nil {
		for _, n := range g.Nodes {
			if n.ID == id {
				return n, true
			}
		}
	}
	return Node{}, false
}

// GenerationGraph links input tokens into the transformer hub, then the
// hub through each generation step in order to a continuation node. It
// returns nil when both inputs are nil.
func GenerationGraph(tokens []string, steps []trace.Step) *Graph {
	if tokens == nil && steps == nil {
		return nil
	}

	g := &Graph{}
	for i, tok := range tokens {
		id := "in-" + strconv.Itoa(i)
		g.Nodes = append(g.Nodes, Node{ID: id, Kind: NodeInput, Label: present.Label(tok, defaultLabelWidth), Index: i, Token: tok})
		g.Edges = append(g.Edges, Edge{From: id, To: hubID})
	}
	g.Nodes = append(g.Nodes, Node{ID: hubID, Kind: NodeHub, Label: "Transformer"})

	prev := hubID
	for i, s := range steps {
		id := "gen-" + strconv.Itoa(i)
		g.Nodes = append(g.Nodes, Node{
			ID:      id,
			Kind:    NodeStep,
			Label:   present.Label(s.Token, defaultLabelWidth),
			Index:   i,
			Token:   s.Token,
			Prob:    s.Prob,
			Percent: present.Percent(s.Prob),
		})
		g.Edges = append(g.Edges, Edge{From: prev, To: id})
		prev = id
	}

	g.Nodes = append(g.Nodes, Node{ID: continuationID, Kind: NodeContinuation, Label: "…"})
	g.Edges = append(g.Edges, Edge{From: prev, To: continuationID})
	return g
}

// Package graph models the dataflow graphs exchanged between the exporter
// and the edge converter: named nodes, tensor specs with unbound
// dimensions, and the registry of network builders.
package graph

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Op names shared by builders, the exporter and the edge converter.
const (
	OpPlaceholder  = "Placeholder"
	OpVariable     = "VarHandleOp"
	OpReadVariable = "ReadVariableOp"
	OpConst        = "Const"
	OpIdentity     = "Identity"
)

// TensorInfo describes a tensor bound by a signature.
type TensorInfo struct {
	Name  string `json:"name"`
	DType DType  `json:"dtype"`
	Shape Shape  `json:"shape"`
}

type Node struct {
	Name   string            `json:"name"`
	Op     string            `json:"op"`
	Inputs []string          `json:"inputs,omitempty"`
	DType  DType             `json:"dtype"`
	Shape  Shape             `json:"shape"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

func (n *Node) Clone() *Node {
	out := *n
	out.Inputs = append([]string(nil), n.Inputs...)
	out.Shape = n.Shape.Clone()
	if n.Attrs != nil {
		out.Attrs = make(map[string]string, len(n.Attrs))
		for k, v := range n.Attrs {
			out.Attrs[k] = v
		}
	}
	return &out
}

// Output returns the name of the node's first output tensor.
func (n *Node) Output() string { return n.Name + ":0" }

// Graph keeps nodes in insertion order, which builders guarantee is a
// topological order.
type Graph struct {
	Nodes []*Node `json:"nodes"`

	index map[string]int
}

var ErrNodeNotFound = errors.New("node not found")

func New() *Graph {
	return &Graph{index: make(map[string]int)}
}

func (g *Graph) reindex() {
	g.index = make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		g.index[n.Name] = i
	}
}

func (g *Graph) Add(n *Node) error {
	if g.index == nil {
		g.reindex()
	}
	if n.Name == "" {
		return errors.New("graph: node has no name")
	}
	if _, dup := g.index[n.Name]; dup {
		return fmt.Errorf("graph: duplicate node %q", n.Name)
	}
	for _, in := range n.Inputs {
		src, _, err := SplitTensorName(in)
		if err != nil {
			return err
		}
		if _, ok := g.index[src]; !ok {
			return fmt.Errorf("graph: node %q consumes %q before it is defined", n.Name, in)
		}
	}
	g.index[n.Name] = len(g.Nodes)
	g.Nodes = append(g.Nodes, n)
	return nil
}

func (g *Graph) Node(name string) (*Node, bool) {
	if g.index == nil || len(g.index) != len(g.Nodes) {
		g.reindex()
	}
	i, ok := g.index[name]
	if !ok {
		return nil, false
	}
	return g.Nodes[i], true
}

// Tensor resolves a "node:index" tensor name.
func (g *Graph) Tensor(name string) (*Node, error) {
	src, _, err := SplitTensorName(name)
	if err != nil {
		return nil, err
	}
	n, ok := g.Node(src)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, name)
	}
	return n, nil
}

// Info describes the tensor with the given name.
func (g *Graph) Info(name string) (TensorInfo, error) {
	n, err := g.Tensor(name)
	if err != nil {
		return TensorInfo{}, err
	}
	return TensorInfo{Name: name, DType: n.DType, Shape: n.Shape.Clone()}, nil
}

func (g *Graph) Len() int { return len(g.Nodes) }

// Variables returns the variable nodes in graph order.
func (g *Graph) Variables() []*Node {
	return g.ByOp(OpVariable)
}

func (g *Graph) ByOp(op string) []*Node {
	var out []*Node
	for _, n := range g.Nodes {
		if n.Op == op {
			out = append(out, n)
		}
	}
	return out
}

func (g *Graph) Clone() *Graph {
	out := &Graph{Nodes: make([]*Node, len(g.Nodes))}
	for i, n := range g.Nodes {
		out.Nodes[i] = n.Clone()
	}
	out.reindex()
	return out
}

// Validate checks names are unique and every input refers to an earlier node.
func (g *Graph) Validate() error {
	seen := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if _, dup := seen[n.Name]; dup {
			return fmt.Errorf("graph: duplicate node %q", n.Name)
		}
		for _, in := range n.Inputs {
			src, _, err := SplitTensorName(in)
			if err != nil {
				return err
			}
			if _, ok := seen[src]; !ok {
				return fmt.Errorf("graph: node %q consumes undefined %q", n.Name, in)
			}
		}
		seen[n.Name] = struct{}{}
	}
	g.reindex()
	return nil
}

// SplitTensorName splits "scope/node:0" into its node name and output index.
// A bare node name refers to output 0.
func SplitTensorName(name string) (string, int, error) {
	i := strings.LastIndexByte(name, ':')
	if i < 0 {
		return name, 0, nil
	}
	idx, err := strconv.Atoi(name[i+1:])
	if err != nil || idx < 0 || i == 0 {
		return "", 0, fmt.Errorf("graph: invalid tensor name %q", name)
	}
	return name[:i], idx, nil
}

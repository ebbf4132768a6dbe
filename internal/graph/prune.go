package graph

import "fmt"

// Prune returns the subgraph needed to compute outputs when inputs are fed.
// Nodes that produce a fed tensor become placeholders with the same name,
// so an internal tensor can serve as a signature input.
func (g *Graph) Prune(inputs, outputs []string) (*Graph, error) {
	fed := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		n, err := g.Tensor(in)
		if err != nil {
			return nil, fmt.Errorf("prune: input %w", err)
		}
		fed[n.Name] = true
	}

	keep := make(map[string]bool)
	var stack []string
	for _, out := range outputs {
		n, err := g.Tensor(out)
		if err != nil {
			return nil, fmt.Errorf("prune: output %w", err)
		}
		stack = append(stack, n.Name)
	}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if keep[name] {
			continue
		}
		keep[name] = true
		if fed[name] {
			continue
		}
		n, ok := g.Node(name)
		if !ok {
			return nil, fmt.Errorf("prune: %w: %s", ErrNodeNotFound, name)
		}
		if n.Op == OpPlaceholder {
			return nil, fmt.Errorf("prune: outputs depend on unfed placeholder %q", name)
		}
		for _, in := range n.Inputs {
			src, _, _ := SplitTensorName(in)
			stack = append(stack, src)
		}
	}

	out := New()
	for _, n := range g.Nodes {
		if !keep[n.Name] {
			continue
		}
		c := n.Clone()
		if fed[n.Name] && c.Op != OpPlaceholder {
			c.Op = OpPlaceholder
			c.Inputs = nil
			c.Attrs = nil
		}
		if err := out.Add(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Freeze turns variables into constants and variable reads into
// identities. The returned names are the frozen variables, in graph order.
func (g *Graph) Freeze() []string {
	var frozen []string
	for _, n := range g.Nodes {
		switch n.Op {
		case OpVariable:
			n.Op = OpConst
			frozen = append(frozen, n.Name)
		case OpReadVariable:
			n.Op = OpIdentity
		}
	}
	return frozen
}

// PinBatch replaces an unbound leading dimension with n on every node.
func (g *Graph) PinBatch(n int64) {
	for _, node := range g.Nodes {
		if len(node.Shape) > 0 && node.Shape[0] == Unbound {
			node.Shape[0] = n
		}
	}
}

// SetShape overrides the static shape of a placeholder.
func (g *Graph) SetShape(tensor string, shape Shape) error {
	n, err := g.Tensor(tensor)
	if err != nil {
		return err
	}
	if n.Op != OpPlaceholder {
		return fmt.Errorf("graph: %s is a %s, not a placeholder", tensor, n.Op)
	}
	n.Shape = shape.Clone()
	return nil
}

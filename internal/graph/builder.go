package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Kernels reports which fused operations the active backend provides.
// Builders lower to primitive ops when a kernel is missing.
type Kernels interface {
	HasKernel(op string) bool
}

// VarSpec is a trainable parameter the built graph expects.
type VarSpec struct {
	Name  string // parameter name as stored in checkpoints
	Node  string // variable node in the graph
	DType DType
	Shape Shape
}

// Topology is what a builder produces: the graph plus its input and output
// templates and variable specs, in declaration order.
type Topology struct {
	Graph     *Graph
	Inputs    []TensorInfo
	Outputs   []TensorInfo
	Variables []VarSpec
}

// BuildFunc adds the nodes of a network to g, deriving the topology from an
// effective configuration. scope prefixes every node name.
type BuildFunc func(g *Graph, scope string, cfg *Config, k Kernels) (*Topology, error)

var (
	buildersMu sync.RWMutex
	builders   = map[string]BuildFunc{}
)

// Register makes a builder available under a build function name, such as
// "training.networks.G_main". It panics on duplicates.
func Register(name string, fn BuildFunc) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	if _, dup := builders[name]; dup {
		panic(fmt.Sprintf("graph: builder %q already registered", name))
	}
	builders[name] = fn
}

// Lookup finds a builder by its full name. Checkpoints often record only
// the bare function name ("G_main"), so a name without a module path also
// matches a single registered builder with that final segment.
func Lookup(name string) (BuildFunc, bool) {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	if fn, ok := builders[name]; ok {
		return fn, true
	}
	if name == "" || strings.Contains(name, ".") {
		return nil, false
	}
	var found BuildFunc
	for full, fn := range builders {
		if full[strings.LastIndexByte(full, '.')+1:] == name {
			if found != nil {
				return nil, false
			}
			found = fn
		}
	}
	return found, found != nil
}

func Builders() []string {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	names := make([]string, 0, len(builders))
	for n := range builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Package network reconstructs a runnable network instance inside an
// execution context and fills its variables from checkpoint parameters.
package network

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samcharles93/ganport/internal/graph"
	"github.com/samcharles93/ganport/internal/session"
)

var (
	ErrParameterMismatch = errors.New("parameter mismatch")
	ErrUnknownBuilder    = errors.New("unknown build function")
)

// Instance is a network built in a session. It must not outlive the
// session that created it.
type Instance struct {
	Name      string
	BuildFunc string
	Config    *graph.Config
	Graph     *graph.Graph
	Inputs    []graph.TensorInfo
	Outputs   []graph.TensorInfo
	Variables []graph.VarSpec

	sess *session.Session
}

// New builds the network named name with the registered build function and
// allocates its variables on the session device.
func New(s *session.Session, name, buildFunc string, cfg *graph.Config) (*Instance, error) {
	fn, ok := graph.Lookup(buildFunc)
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownBuilder, buildFunc, strings.Join(graph.Builders(), ", "))
	}
	top, err := fn(s.Graph(), name, cfg, s.Kernels())
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", name, err)
	}
	for _, v := range top.Variables {
		if err := s.Alloc(v.Node, v.DType, v.Shape); err != nil {
			return nil, err
		}
	}
	return &Instance{
		Name:      name,
		BuildFunc: buildFunc,
		Config:    cfg.Clone(),
		Graph:     top.Graph,
		Inputs:    top.Inputs,
		Outputs:   top.Outputs,
		Variables: top.Variables,
		sess:      s,
	}, nil
}

// CopyVarsFrom uploads every variable from params by parameter name.
// Parameters the network does not declare are ignored. Nothing is uploaded
// unless every variable has a matching parameter.
func (in *Instance) CopyVarsFrom(params map[string]graph.Tensor) error {
	var problems []string
	for _, v := range in.Variables {
		t, ok := params[v.Name]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("%s: missing", v.Name))
		case !t.Shape.Equal(v.Shape):
			problems = append(problems, fmt.Sprintf("%s: shape %s, want %s", v.Name, t.Shape, v.Shape))
		case t.DType != v.DType:
			problems = append(problems, fmt.Sprintf("%s: dtype %s, want %s", v.Name, t.DType, v.DType))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		const show = 8
		more := ""
		if len(problems) > show {
			more = fmt.Sprintf(" (and %d more)", len(problems)-show)
			problems = problems[:show]
		}
		return fmt.Errorf("%w: %s%s", ErrParameterMismatch, strings.Join(problems, "; "), more)
	}
	for _, v := range in.Variables {
		if err := in.sess.Upload(v.Node, params[v.Name].Data); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot downloads every variable, keyed by graph node name.
func (in *Instance) Snapshot() (map[string]graph.Tensor, error) {
	out := make(map[string]graph.Tensor, len(in.Variables))
	for _, v := range in.Variables {
		t, err := in.sess.Download(v.Node)
		if err != nil {
			return nil, err
		}
		out[v.Node] = t
	}
	return out, nil
}

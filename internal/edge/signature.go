package edge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/samcharles93/ganport/internal/graph"
	"github.com/samcharles93/ganport/internal/savedmodel"
)

var ErrUnknownSignature = errors.New("unknown signature")

// Kind selects which interchange signature an edge artifact carries.
type Kind int

const (
	Default Kind = iota
	Mapping
	Synthesis
)

// policy is the per-kind conversion data.
type policy struct {
	name   string
	key    string
	suffix string
	// input is the shape fixed on the signature input. Leading 1 is the
	// batch, -1 stays free.
	input graph.Shape
}

var policies = [...]policy{
	Default:   {name: "default", key: savedmodel.DefaultSignatureKey, suffix: "", input: graph.Shape{1, graph.Unbound}},
	Mapping:   {name: "mapping", key: savedmodel.MappingKey, suffix: ".mapping", input: graph.Shape{1, graph.Unbound}},
	Synthesis: {name: "synthesis", key: savedmodel.SynthesisKey, suffix: ".synthesis", input: graph.Shape{1, graph.Unbound, graph.Unbound}},
}

// Kinds lists every signature kind.
func Kinds() []Kind { return []Kind{Default, Mapping, Synthesis} }

func (k Kind) valid() bool { return k >= 0 && int(k) < len(policies) }

func (k Kind) String() string {
	if !k.valid() {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return policies[k].name
}

// SignatureKey is the interchange signature the kind converts.
func (k Kind) SignatureKey() string { return policies[k].key }

// Suffix is appended to the output base name before the extension.
func (k Kind) Suffix() string { return policies[k].suffix }

// InputShape is the shape the kind fixes on its signature input.
func (k Kind) InputShape() graph.Shape { return policies[k].input.Clone() }

func (k Kind) MarshalText() ([]byte, error) {
	if !k.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSignature, int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseSignature(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseSignature maps a signature name to its kind. The interchange key
// "serving_default" is accepted for Default; an empty name means Default.
func ParseSignature(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return Default, nil
	}
	for _, k := range Kinds() {
		if n == policies[k].name || n == policies[k].key {
			return k, nil
		}
	}
	return 0, unknownSignature(name)
}

func unknownSignature(name string) error {
	best, bestDist := "", -1
	for _, k := range Kinds() {
		if d := levenshtein.ComputeDistance(strings.ToLower(name), policies[k].name); bestDist < 0 || d < bestDist {
			best, bestDist = policies[k].name, d
		}
	}
	if bestDist >= 0 && bestDist <= 3 {
		return fmt.Errorf("%w: %q (did you mean %q?)", ErrUnknownSignature, name, best)
	}
	return fmt.Errorf("%w: %q (want default, mapping or synthesis)", ErrUnknownSignature, name)
}

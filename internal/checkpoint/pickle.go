package checkpoint

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/nlpodyssey/gopickle/pickle"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/samcharles93/ganport/internal/graph"
)

// networkClass stands in for dnnlib.tflib.network.Network.
type networkClass struct{}

func (networkClass) PyNew(args ...interface{}) (interface{}, error) {
	return &network{}, nil
}

func (networkClass) Call(args ...interface{}) (interface{}, error) {
	return &network{}, nil
}

type network struct {
	name       string
	buildFunc  string
	config     *graph.Config
	components []*network
	variables  map[string]graph.Tensor
}

func (n *network) PySetState(state interface{}) error {
	d, ok := state.(*types.Dict)
	if !ok {
		return fmt.Errorf("network state is %T, want dict", state)
	}
	var err error
	if n.name, err = dictString(d, "name"); err != nil {
		return err
	}
	if n.buildFunc, err = dictString(d, "build_func_name"); err != nil {
		return err
	}

	n.config = graph.NewConfig()
	if raw, ok := d.Get("static_kwargs"); ok {
		kw, ok := raw.(*types.Dict)
		if !ok {
			return fmt.Errorf("network %s: static_kwargs is %T", n.name, raw)
		}
		for _, k := range kw.Keys() {
			key, ok := k.(string)
			if !ok {
				return fmt.Errorf("network %s: static_kwargs key %v is %T", n.name, k, k)
			}
			v, _ := kw.Get(k)
			n.config.Set(key, pyValue(v))
		}
	}

	if raw, ok := d.Get("components"); ok && raw != nil {
		comps, ok := raw.(*types.Dict)
		if !ok {
			return fmt.Errorf("network %s: components is %T", n.name, raw)
		}
		for _, k := range comps.Keys() {
			v, _ := comps.Get(k)
			c, ok := v.(*network)
			if !ok {
				return fmt.Errorf("network %s: component %v is %T", n.name, k, v)
			}
			n.components = append(n.components, c)
		}
	}

	raw, ok := d.Get("variables")
	if !ok {
		return fmt.Errorf("network %s: missing variables", n.name)
	}
	n.variables = make(map[string]graph.Tensor)
	return forEachPair(raw, func(name string, value interface{}) error {
		arr, ok := value.(*ndarray)
		if !ok {
			return fmt.Errorf("network %s: variable %s is %T", n.name, name, value)
		}
		t, err := arr.tensor()
		if err != nil {
			return fmt.Errorf("network %s: variable %s: %w", n.name, name, err)
		}
		n.variables[name] = t
		return nil
	})
}

// params flattens own and component variables; component variables are
// prefixed with the component network name.
func (n *network) params() (map[string]graph.Tensor, error) {
	out := make(map[string]graph.Tensor, len(n.variables))
	for k, v := range n.variables {
		out[k] = v
	}
	for _, c := range n.components {
		sub, err := c.params()
		if err != nil {
			return nil, err
		}
		for k, v := range sub {
			name := c.name + "/" + k
			if _, dup := out[name]; dup {
				return nil, fmt.Errorf("network %s: duplicate parameter %s", n.name, name)
			}
			out[name] = v
		}
	}
	return out, nil
}

// codecsEncode stands in for _codecs.encode, which protocol 2 pickles use
// to carry byte strings as latin-1 text.
type codecsEncode struct{}

func (codecsEncode) Call(args ...interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("_codecs.encode: missing argument")
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("_codecs.encode: argument is %T", args[0])
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			return nil, fmt.Errorf("_codecs.encode: rune %U outside latin-1", r)
		}
		out = append(out, byte(r))
	}
	return out, nil
}

// reconstructor stands in for copyreg._reconstructor.
type reconstructor struct{}

func (reconstructor) Call(args ...interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("copyreg._reconstructor: missing class")
	}
	if cls, ok := args[0].(types.PyNewable); ok {
		return cls.PyNew()
	}
	if cls, ok := args[0].(types.Callable); ok {
		return cls.Call()
	}
	return nil, fmt.Errorf("copyreg._reconstructor: cannot instantiate %T", args[0])
}

func findClass(module, name string) (interface{}, error) {
	switch module + "." + name {
	case "dnnlib.tflib.network.Network":
		return networkClass{}, nil
	case "numpy.core.multiarray._reconstruct", "numpy._core.multiarray._reconstruct":
		return ndarrayReconstruct{}, nil
	case "numpy.dtype":
		return dtypeClass{}, nil
	case "numpy.ndarray":
		return types.NewGenericClass(module, name), nil
	case "_codecs.encode":
		return codecsEncode{}, nil
	case "copyreg._reconstructor", "copy_reg._reconstructor":
		return reconstructor{}, nil
	}
	return nil, fmt.Errorf("unsupported pickled class %s.%s", module, name)
}

func decodePickle(data []byte) (*Bundle, error) {
	u := pickle.NewUnpickler(bytes.NewReader(data))
	u.FindClass = findClass
	v, err := u.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCheckpointFormat, err)
	}

	t, ok := v.(*types.Tuple)
	if !ok || t.Len() != 3 {
		return nil, fmt.Errorf("%w: top-level value is %s, want a 3-tuple of networks", ErrCheckpointFormat, describe(v))
	}
	nets := make([]*network, 3)
	for i := range nets {
		n, ok := t.Get(i).(*network)
		if !ok {
			return nil, fmt.Errorf("%w: element %d is %T, want a network", ErrCheckpointFormat, i, t.Get(i))
		}
		nets[i] = n
	}

	gs := nets[2]
	params, err := gs.params()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCheckpointFormat, err)
	}
	if gs.buildFunc == "" {
		return nil, fmt.Errorf("%w: network %s has no build function", ErrCheckpointFormat, gs.name)
	}
	return &Bundle{
		Name:      gs.name,
		BuildFunc: gs.buildFunc,
		Config:    gs.config,
		Params:    params,
		Auxiliary: []string{nets[0].name, nets[1].name},
	}, nil
}

func describe(v interface{}) string {
	if t, ok := v.(*types.Tuple); ok {
		return fmt.Sprintf("a %d-tuple", t.Len())
	}
	return fmt.Sprintf("%T", v)
}

func dictString(d *types.Dict, key string) (string, error) {
	v, ok := d.Get(key)
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("network state %s is %T, want string", key, v)
	}
	return s, nil
}

// forEachPair walks a list or tuple of (name, value) pairs, or a dict.
func forEachPair(v interface{}, fn func(string, interface{}) error) error {
	var items []interface{}
	switch c := v.(type) {
	case *types.List:
		for i := 0; i < c.Len(); i++ {
			items = append(items, c.Get(i))
		}
	case *types.Tuple:
		for i := 0; i < c.Len(); i++ {
			items = append(items, c.Get(i))
		}
	case *types.Dict:
		keys := c.Keys()
		for _, k := range keys {
			val, _ := c.Get(k)
			items = append(items, types.NewTupleFromSlice([]interface{}{k, val}))
		}
	default:
		return fmt.Errorf("variables are %T, want a list of pairs", v)
	}
	for i, it := range items {
		pair, ok := it.(*types.Tuple)
		if !ok || pair.Len() != 2 {
			return fmt.Errorf("variable %d is not a (name, value) pair", i)
		}
		name, ok := pair.Get(0).(string)
		if !ok {
			return fmt.Errorf("variable %d name is %T", i, pair.Get(0))
		}
		if err := fn(name, pair.Get(1)); err != nil {
			return err
		}
	}
	return nil
}

// pyValue converts a decoded Python value into plain Go values.
func pyValue(v interface{}) any {
	switch x := v.(type) {
	case *big.Int:
		if x.IsInt64() {
			return int(x.Int64())
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	case *types.Tuple:
		out := make([]any, x.Len())
		for i := range out {
			out[i] = pyValue(x.Get(i))
		}
		return out
	case *types.List:
		out := make([]any, x.Len())
		for i := range out {
			out[i] = pyValue(x.Get(i))
		}
		return out
	case *types.Dict:
		out := make(map[string]any, x.Len())
		keys := x.Keys()
		sort.Slice(keys, func(i, j int) bool { return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j]) })
		for _, k := range keys {
			val, _ := x.Get(k)
			out[fmt.Sprint(k)] = pyValue(val)
		}
		return out
	case []byte:
		return string(x)
	default:
		return x
	}
}

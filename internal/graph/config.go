package graph

import (
	"fmt"
	"math"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// Config is an ordered key/value map of static build arguments. Insertion
// order is preserved through JSON round trips so artifacts stay stable.
type Config struct {
	m *orderedmap.OrderedMap[string, any]
}

func NewConfig() *Config {
	return &Config{m: orderedmap.New[string, any]()}
}

// ConfigOf builds a Config from alternating key/value pairs.
func ConfigOf(kv ...any) *Config {
	c := NewConfig()
	for i := 0; i+1 < len(kv); i += 2 {
		c.Set(fmt.Sprint(kv[i]), kv[i+1])
	}
	return c
}

func (c *Config) init() {
	if c.m == nil {
		c.m = orderedmap.New[string, any]()
	}
}

func (c *Config) Set(key string, value any) {
	c.init()
	c.m.Set(key, value)
}

func (c *Config) Get(key string) (any, bool) {
	if c == nil || c.m == nil {
		return nil, false
	}
	return c.m.Get(key)
}

func (c *Config) Len() int {
	if c == nil || c.m == nil {
		return 0
	}
	return c.m.Len()
}

func (c *Config) Keys() []string {
	if c == nil || c.m == nil {
		return nil
	}
	keys := make([]string, 0, c.m.Len())
	for p := c.m.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

func (c *Config) Clone() *Config {
	out := NewConfig()
	if c == nil || c.m == nil {
		return out
	}
	for p := c.m.Oldest(); p != nil; p = p.Next() {
		out.m.Set(p.Key, p.Value)
	}
	return out
}

// Merge returns a new Config holding c's entries overwritten by each layer
// in order. Existing keys keep their position; new keys are appended.
func (c *Config) Merge(layers ...*Config) *Config {
	out := c.Clone()
	for _, l := range layers {
		if l == nil || l.m == nil {
			continue
		}
		for p := l.m.Oldest(); p != nil; p = p.Next() {
			out.m.Set(p.Key, p.Value)
		}
	}
	return out
}

// Int reads an integer entry, accepting any numeric representation that
// holds an integral value.
func (c *Config) Int(key string, def int) (int, error) {
	v, ok := c.Get(key)
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("config %q: %v is not an integer", key, n)
		}
		return int(n), nil
	case float32:
		if float64(n) != math.Trunc(float64(n)) {
			return 0, fmt.Errorf("config %q: %v is not an integer", key, n)
		}
		return int(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("config %q: expected integer, got %T", key, v)
}

func (c *Config) Float(key string, def float64) (float64, error) {
	v, ok := c.Get(key)
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("config %q: expected number, got %T", key, v)
}

func (c *Config) Bool(key string, def bool) (bool, error) {
	v, ok := c.Get(key)
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case int:
		return b != 0, nil
	case int64:
		return b != 0, nil
	case float64:
		return b != 0, nil
	}
	return false, fmt.Errorf("config %q: expected bool, got %T", key, v)
}

func (c *Config) String(key string, def string) (string, error) {
	v, ok := c.Get(key)
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("config %q: expected string, got %T", key, v)
	}
	return s, nil
}

func (c *Config) MarshalJSON() ([]byte, error) {
	c.init()
	return c.m.MarshalJSON()
}

func (c *Config) UnmarshalJSON(data []byte) error {
	c.m = orderedmap.New[string, any]()
	return c.m.UnmarshalJSON(data)
}

// ParseAssignment splits "key=value" and decodes value as a YAML scalar, so
// "8" is an int, "true" a bool and "null" clears the entry.
func ParseAssignment(s string) (string, any, error) {
	key, raw, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid assignment %q: want key=value", s)
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return "", nil, fmt.Errorf("invalid value for %q: %w", key, err)
	}
	switch v.(type) {
	case map[string]any, []any:
		return "", nil, fmt.Errorf("invalid value for %q: only scalars are supported", key)
	}
	return key, v, nil
}

// ParseAssignments folds a list of "key=value" strings into a Config.
func ParseAssignments(list []string) (*Config, error) {
	out := NewConfig()
	for _, s := range list {
		k, v, err := ParseAssignment(s)
		if err != nil {
			return nil, err
		}
		out.Set(k, v)
	}
	return out, nil
}

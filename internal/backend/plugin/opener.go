package plugin

import (
	"fmt"
	goplugin "plugin"

	"github.com/samcharles93/ganport/internal/backend"
)

// Symbol is the constructor every native backend plugin exports.
const Symbol = "NewBackend"

// Opener opens a native plugin file and returns its constructor.
type Opener interface {
	Open(path string) (Constructor, error)
}

type OpenerFunc func(path string) (Constructor, error)

func (f OpenerFunc) Open(path string) (Constructor, error) { return f(path) }

// GoPluginOpener loads shared objects built with -buildmode=plugin.
type GoPluginOpener struct{}

func (GoPluginOpener) Open(path string) (Constructor, error) {
	p, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	sym, err := p.Lookup(Symbol)
	if err != nil {
		return nil, err
	}
	switch fn := sym.(type) {
	case func() (backend.Backend, error):
		return fn, nil
	case *func() (backend.Backend, error):
		return *fn, nil
	default:
		return nil, fmt.Errorf("symbol %s has type %T, want func() (backend.Backend, error)", Symbol, sym)
	}
}

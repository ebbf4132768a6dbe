//go:build cuda

// Command cuda is the cuda backend plugin. Build it with
//
//	go build -tags cuda -buildmode=plugin -o plugins/ganport-cuda-<fingerprint>.so ./plugins/cuda
//
// where <fingerprint> is printed by "ganport backends".
package main

import (
	"github.com/samcharles93/ganport/internal/backend"
	"github.com/samcharles93/ganport/internal/backend/cuda"
)

// NewBackend is looked up by the plugin registry.
func NewBackend() (backend.Backend, error) {
	b, err := cuda.New()
	if err != nil {
		return nil, err
	}
	return b, nil
}

func main() {}

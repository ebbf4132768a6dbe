// Package export rebuilds a generator from checkpoint parameters and writes
// it as an interchange artifact with the default, mapping and synthesis
// signatures.
package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samcharles93/ganport/internal/backend"
	"github.com/samcharles93/ganport/internal/backend/plugin"
	"github.com/samcharles93/ganport/internal/checkpoint"
	"github.com/samcharles93/ganport/internal/graph"
	"github.com/samcharles93/ganport/internal/logger"
	"github.com/samcharles93/ganport/internal/network"
	"github.com/samcharles93/ganport/internal/savedmodel"
	"github.com/samcharles93/ganport/internal/session"
	"github.com/samcharles93/ganport/internal/version"
)

var ErrTemplateMismatch = errors.New("template mismatch")

// NetworkName is the scope the exported generator is built under.
const NetworkName = "Gs"

// Signature keys.
const (
	KeyLatents  = "latents"
	KeyDlatents = "dlatents"
	KeyImages   = "images"
)

// DefaultOverrides are applied on top of the checkpoint configuration
// before caller overrides: full precision, deterministic noise, dlatents
// exposed as an output and inference mode.
func DefaultOverrides() *graph.Config {
	return graph.ConfigOf(
		"num_fp16_res", 0,
		"randomize_noise", false,
		"return_dlatents", true,
		"is_training", false,
	)
}

type Options struct {
	OutDir    string
	Overrides *graph.Config
	// Backend overrides the selector default when non-empty.
	Backend   backend.Tag
	Overwrite bool
}

type Result struct {
	Dir        string
	ID         string
	Backend    backend.Tag
	PluginPath string
	Signatures []string
	Variables  int
	Elapsed    time.Duration
}

type Exporter struct {
	Selector *backend.Selector
	Registry *plugin.Registry
}

func New(sel *backend.Selector, reg *plugin.Registry) *Exporter {
	return &Exporter{Selector: sel, Registry: reg}
}

// EffectiveConfig merges the checkpoint configuration, DefaultOverrides and
// overrides, later layers winning.
func EffectiveConfig(static, overrides *graph.Config) *graph.Config {
	return static.Merge(DefaultOverrides(), overrides)
}

// Export writes b to opts.OutDir. Nothing is written unless every step
// succeeds.
func (e *Exporter) Export(ctx context.Context, b *checkpoint.Bundle, opts Options) (*Result, error) {
	start := time.Now()
	log := logger.FromContext(ctx)
	if err := savedmodel.CheckOutput(opts.OutDir, opts.Overwrite); err != nil {
		return nil, err
	}

	cfg := EffectiveConfig(b.Config, opts.Overrides)
	tag := e.Selector.Resolve(opts.Backend)
	h, err := e.Registry.Acquire(ctx, tag)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	log.Info("exporting", "network", b.Name, "build_func", b.BuildFunc, "backend", tag, "out", opts.OutDir)

	res := &Result{Backend: tag, PluginPath: h.Path}
	err = session.Do(ctx, graph.New(), h, func(s *session.Session) error {
		inst, err := network.New(s, NetworkName, b.BuildFunc, cfg)
		if err != nil {
			return err
		}
		if err := inst.CopyVarsFrom(b.Params); err != nil {
			return err
		}
		sigs, err := Signatures(inst)
		if err != nil {
			return err
		}
		vars, err := inst.Snapshot()
		if err != nil {
			return err
		}

		a := &savedmodel.Artifact{
			Meta: savedmodel.MetaGraph{
				Producer:   version.Producer(),
				Network:    b.Name,
				BuildFunc:  b.BuildFunc,
				Backend:    string(tag),
				Config:     cfg,
				Signatures: sigs,
				Graph:      inst.Graph,
			},
			Variables: vars,
		}
		if err := savedmodel.Write(ctx, opts.OutDir, a, opts.Overwrite); err != nil {
			return err
		}
		res.Dir, res.ID, res.Variables = a.Dir, a.Meta.ID, len(vars)
		res.Signatures = a.SignatureKeys()
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(start)
	log.Info("export complete", "dir", res.Dir, "id", res.ID, "variables", res.Variables, "elapsed", res.Elapsed)
	return res, nil
}

// Signatures binds the instance templates: latents and labels in, images
// and dlatents out.
func Signatures(inst *network.Instance) (map[string]savedmodel.SignatureDef, error) {
	if len(inst.Inputs) != 2 || len(inst.Outputs) != 2 {
		return nil, fmt.Errorf("%w: network has %d inputs and %d outputs, want 2 and 2", ErrTemplateMismatch, len(inst.Inputs), len(inst.Outputs))
	}
	latents := inst.Inputs[0]
	images, dlatents := inst.Outputs[0], inst.Outputs[1]
	sig := func(inKey string, in graph.TensorInfo, outKey string, out graph.TensorInfo) savedmodel.SignatureDef {
		return savedmodel.SignatureDef{
			MethodName: savedmodel.MethodPredict,
			Inputs:     map[string]graph.TensorInfo{inKey: in},
			Outputs:    map[string]graph.TensorInfo{outKey: out},
		}
	}
	return map[string]savedmodel.SignatureDef{
		savedmodel.DefaultSignatureKey: sig(KeyLatents, latents, KeyImages, images),
		savedmodel.MappingKey:          sig(KeyLatents, latents, KeyDlatents, dlatents),
		savedmodel.SynthesisKey:        sig(KeyDlatents, dlatents, KeyImages, images),
	}, nil
}

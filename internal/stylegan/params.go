package stylegan

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/samcharles93/ganport/internal/graph"
)

// Architecture selects how the synthesis network combines resolutions.
type Architecture string

const (
	ArchOrig   Architecture = "orig"
	ArchSkip   Architecture = "skip"
	ArchResnet Architecture = "resnet"
)

// Params are the static build arguments of the generator with their
// training-time defaults.
type Params struct {
	LatentSize       int
	LabelSize        int
	DlatentSize      int
	MappingLayers    int
	MappingFmaps     int
	MappingLRMul     float64
	Resolution       int
	NumChannels      int
	FmapBase         int
	FmapDecay        float64
	FmapMin          int
	FmapMax          int
	Architecture     Architecture
	NumFP16Res       int
	RandomizeNoise   bool
	ReturnDlatents   bool
	IsTraining       bool
	TruncationPsi    *float64
	TruncationCutoff *int
}

// ParseParams reads Params from an effective configuration. Unknown keys
// are ignored.
func ParseParams(cfg *graph.Config) (Params, error) {
	var p Params
	var err error
	ints := []struct {
		key string
		dst *int
		def int
	}{
		{"latent_size", &p.LatentSize, 512},
		{"label_size", &p.LabelSize, 0},
		{"dlatent_size", &p.DlatentSize, 512},
		{"mapping_layers", &p.MappingLayers, 8},
		{"mapping_fmaps", &p.MappingFmaps, 512},
		{"resolution", &p.Resolution, 1024},
		{"num_channels", &p.NumChannels, 3},
		{"fmap_base", &p.FmapBase, 16 << 10},
		{"fmap_min", &p.FmapMin, 1},
		{"fmap_max", &p.FmapMax, 512},
		{"num_fp16_res", &p.NumFP16Res, 0},
	}
	for _, f := range ints {
		if *f.dst, err = cfg.Int(f.key, f.def); err != nil {
			return p, err
		}
	}
	if p.MappingLRMul, err = cfg.Float("mapping_lrmul", 0.01); err != nil {
		return p, err
	}
	if p.FmapDecay, err = cfg.Float("fmap_decay", 1.0); err != nil {
		return p, err
	}
	arch, err := cfg.String("architecture", string(ArchSkip))
	if err != nil {
		return p, err
	}
	p.Architecture = Architecture(arch)
	if p.RandomizeNoise, err = cfg.Bool("randomize_noise", true); err != nil {
		return p, err
	}
	if p.ReturnDlatents, err = cfg.Bool("return_dlatents", false); err != nil {
		return p, err
	}
	if p.IsTraining, err = cfg.Bool("is_training", false); err != nil {
		return p, err
	}

	if v, ok := cfg.Get("truncation_psi"); !ok || v != nil {
		psi, err := cfg.Float("truncation_psi", 0.5)
		if err != nil {
			return p, err
		}
		p.TruncationPsi = &psi
	}
	if v, ok := cfg.Get("truncation_cutoff"); ok && v != nil {
		c, err := cfg.Int("truncation_cutoff", 0)
		if err != nil {
			return p, err
		}
		p.TruncationCutoff = &c
	}
	return p, p.Validate()
}

func (p Params) Validate() error {
	if p.Resolution < 4 || bits.OnesCount(uint(p.Resolution)) != 1 {
		return fmt.Errorf("stylegan: resolution %d is not a power of two >= 4", p.Resolution)
	}
	switch p.Architecture {
	case ArchOrig, ArchSkip, ArchResnet:
	default:
		return fmt.Errorf("stylegan: unknown architecture %q", p.Architecture)
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"latent_size", p.LatentSize},
		{"dlatent_size", p.DlatentSize},
		{"mapping_layers", p.MappingLayers},
		{"mapping_fmaps", p.MappingFmaps},
		{"num_channels", p.NumChannels},
		{"fmap_base", p.FmapBase},
		{"fmap_min", p.FmapMin},
		{"fmap_max", p.FmapMax},
	} {
		if f.v <= 0 {
			return fmt.Errorf("stylegan: %s must be positive, got %d", f.name, f.v)
		}
	}
	if p.LabelSize < 0 || p.NumFP16Res < 0 {
		return fmt.Errorf("stylegan: label_size and num_fp16_res must not be negative")
	}
	return nil
}

// ResolutionLog2 is log2 of the output resolution.
func (p Params) ResolutionLog2() int {
	return bits.Len(uint(p.Resolution)) - 1
}

// NumLayers is the number of per-layer dlatents the synthesis network takes.
func (p Params) NumLayers() int {
	return p.ResolutionLog2()*2 - 2
}

// NF is the feature map count at a given stage.
func (p Params) NF(stage int) int {
	n := int(float64(p.FmapBase) / math.Pow(2, float64(stage)*p.FmapDecay))
	return min(max(n, p.FmapMin), p.FmapMax)
}

// FP16 reports whether the block at log2 resolution res runs in half
// precision.
func (p Params) FP16(res int) bool {
	return res >= p.ResolutionLog2()+1-p.NumFP16Res
}

// truncation returns the psi to apply, or nil when truncation is disabled.
func (p Params) truncation() *float64 {
	if p.IsTraining || p.TruncationPsi == nil || *p.TruncationPsi == 1 {
		return nil
	}
	return p.TruncationPsi
}

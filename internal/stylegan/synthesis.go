package stylegan

import (
	"fmt"
	"math"
	"strconv"

	"github.com/samcharles93/ganport/internal/graph"
)

func (b *builder) blockDType(res int) graph.DType {
	if b.p.FP16(res) {
		return graph.Float16
	}
	return graph.Float32
}

func (b *builder) cast(scope, x string, dtype graph.DType) string {
	if b.dtypeOf(x) == dtype {
		return x
	}
	return b.op(scope+"/Cast", "Cast", dtype, b.shapeOf(x), map[string]string{"DstT": string(dtype)}, x)
}

func (b *builder) synthesis(dlatents string) string {
	p := b.p
	rl := p.ResolutionLog2()

	noises := make([]string, p.NumLayers()-1)
	for i := range noises {
		r := int64(1) << ((i + 5) / 2)
		noises[i] = b.variable(fmt.Sprintf("G_synthesis/noise%d", i), graph.Shape{1, 1, r, r})
	}

	nf1 := int64(p.NF(1))
	c := b.variable("G_synthesis/4x4/Const/const", graph.Shape{1, nf1, 4, 4})
	x := b.op("G_synthesis/4x4/Const/Tile", "Tile", graph.Float32, graph.Shape{graph.Unbound, nf1, 4, 4},
		map[string]string{"multiples": "[batch,1,1,1]"}, c, dlatents)
	x = b.cast("G_synthesis/4x4", x, b.blockDType(2))
	x = b.layer("G_synthesis/4x4/Conv", x, dlatents, 0, p.NF(1), 3, false, noises)

	var y string
	if p.Architecture == ArchSkip || rl == 2 {
		y = b.toRGB("G_synthesis/4x4/ToRGB", x, dlatents, 1, "")
	}
	for res := 3; res <= rl; res++ {
		scope := fmt.Sprintf("G_synthesis/%dx%d", 1<<res, 1<<res)
		x = b.block(scope, x, dlatents, res, noises)
		if p.Architecture == ArchSkip {
			y = b.upsample(scope+"/Upsample", y)
		}
		if p.Architecture == ArchSkip || res == rl {
			y = b.toRGB(scope+"/ToRGB", x, dlatents, res*2-3, y)
		}
	}
	return b.cast("G_synthesis/images", y, graph.Float32)
}

func (b *builder) block(scope, x, dlatents string, res int, noises []string) string {
	dtype := b.blockDType(res)
	x = b.cast(scope, x, dtype)
	t := x
	fmaps := b.p.NF(res - 1)
	x = b.layer(scope+"/Conv0_up", x, dlatents, res*2-5, fmaps, 3, true, noises)
	x = b.layer(scope+"/Conv1", x, dlatents, res*2-4, fmaps, 3, false, noises)
	if b.p.Architecture != ArchResnet {
		return x
	}

	fin := b.shapeOf(t)[1]
	w := b.variable(scope+"/Skip/weight", graph.Shape{1, 1, fin, int64(fmaps)})
	r := b.shapeOf(t)[2] * 2
	t = b.op(scope+"/Skip/Conv2DTranspose", "Conv2DBackpropInput", dtype, graph.Shape{graph.Unbound, int64(fmaps), r, r},
		map[string]string{"strides": "[1,1,2,2]", "data_format": "NCHW"}, t, w)
	t = b.blur(scope+"/Skip", t, r, "1,1")
	x = b.op(scope+"/Add", "AddV2", dtype, b.shapeOf(x), nil, x, t)
	return b.op(scope+"/Scale", "Mul", dtype, b.shapeOf(x), map[string]string{"scalar": ftoa(1 / math.Sqrt2)}, x)
}

// style projects one dlatent row to per-channel modulation scales.
func (b *builder) style(scope, dlatents string, idx, fin int) string {
	dl := int64(b.p.DlatentSize)
	s := b.op(scope+"/StridedSlice", "StridedSlice", graph.Float32, graph.Shape{graph.Unbound, dl},
		map[string]string{"index": strconv.Itoa(idx), "axis": "1"}, dlatents)
	mw := b.variable(scope+"/mod_weight", graph.Shape{dl, int64(fin)})
	mb := b.variable(scope+"/mod_bias", graph.Shape{int64(fin)})
	s = b.op(scope+"/mod/MatMul", "MatMul", graph.Float32, graph.Shape{graph.Unbound, int64(fin)},
		map[string]string{"wscale": ftoa(1 / math.Sqrt(float64(dl)))}, s, mw)
	return b.biasAct(scope+"/mod", s, mb, "linear", 1)
}

func (b *builder) layer(scope, x, dlatents string, idx, fmaps, kernel int, up bool, noises []string) string {
	dtype := b.dtypeOf(x)
	in := b.shapeOf(x)
	fin := in[1]
	k := int64(kernel)

	w := b.variable(scope+"/weight", graph.Shape{k, k, fin, int64(fmaps)})
	s := b.cast(scope+"/style", b.style(scope, dlatents, idx, int(fin)), dtype)

	r := in[2]
	convRes := r
	if up {
		r *= 2
		convRes = r + 1
	}
	attrs := map[string]string{
		"demodulate":    "true",
		"fused_modconv": "true",
		"up":            strconv.FormatBool(up),
		"data_format":   "NCHW",
	}
	x = b.op(scope+"/ModulatedConv2D", "ModulatedConv2D", dtype, graph.Shape{graph.Unbound, int64(fmaps), convRes, convRes}, attrs, x, w, s)
	if up {
		x = b.blur(scope, x, r, "1,1")
	}

	var noise string
	if b.p.RandomizeNoise {
		noise = b.op(scope+"/noise/RandomStandardNormal", "RandomStandardNormal", dtype, graph.Shape{graph.Unbound, 1, r, r}, nil, x)
	} else {
		noise = b.cast(scope+"/noise", noises[idx], dtype)
	}
	strength := b.variable(scope+"/noise_strength", graph.Shape{})
	noise = b.op(scope+"/noise/Mul", "Mul", dtype, b.shapeOf(noise), nil, noise, strength)
	x = b.op(scope+"/noise/AddV2", "AddV2", dtype, graph.Shape{graph.Unbound, int64(fmaps), r, r}, nil, x, noise)

	bias := b.variable(scope+"/bias", graph.Shape{int64(fmaps)})
	return b.biasAct(scope, x, bias, "lrelu", 1)
}

func (b *builder) toRGB(scope, x, dlatents string, idx int, y string) string {
	dtype := b.dtypeOf(x)
	in := b.shapeOf(x)
	c := int64(b.p.NumChannels)

	w := b.variable(scope+"/weight", graph.Shape{1, 1, in[1], c})
	s := b.cast(scope+"/style", b.style(scope, dlatents, idx, int(in[1])), dtype)
	shape := graph.Shape{graph.Unbound, c, in[2], in[3]}
	t := b.op(scope+"/ModulatedConv2D", "ModulatedConv2D", dtype, shape,
		map[string]string{"demodulate": "false", "fused_modconv": "true", "up": "false", "data_format": "NCHW"}, x, w, s)
	bias := b.variable(scope+"/bias", graph.Shape{c})
	t = b.biasAct(scope, t, bias, "linear", 1)
	if y == "" {
		return t
	}
	y = b.cast(scope+"/skip", y, dtype)
	return b.op(scope+"/AddV2", "AddV2", dtype, shape, nil, y, t)
}

// blur applies the [1,3,3,1] FIR filter after a transposed convolution.
func (b *builder) blur(scope, x string, r int64, pad string) string {
	dtype := b.dtypeOf(x)
	ch := b.shapeOf(x)[1]
	out := graph.Shape{graph.Unbound, ch, r, r}
	attrs := map[string]string{"kernel": "[1,3,3,1]", "pad": pad}
	if b.k != nil && b.k.HasKernel(KernelUpFirDn2D) {
		return b.op(scope+"/"+KernelUpFirDn2D, KernelUpFirDn2D, dtype, out, attrs, x)
	}
	in := b.shapeOf(x)
	padded := graph.Shape{graph.Unbound, ch, in[2] + 2, in[3] + 2}
	x = b.op(scope+"/Blur/Pad", "Pad", dtype, padded, map[string]string{"paddings": pad}, x)
	return b.op(scope+"/Blur/DepthwiseConv2dNative", "DepthwiseConv2dNative", dtype, out, attrs, x)
}

// upsample doubles the resolution of the skip image.
func (b *builder) upsample(scope, y string) string {
	dtype := b.dtypeOf(y)
	in := b.shapeOf(y)
	out := graph.Shape{graph.Unbound, in[1], in[2] * 2, in[3] * 2}
	attrs := map[string]string{"kernel": "[1,3,3,1]", "up": "2", "pad": "2,1"}
	if b.k != nil && b.k.HasKernel(KernelUpFirDn2D) {
		return b.op(scope+"/"+KernelUpFirDn2D, KernelUpFirDn2D, dtype, out, attrs, y)
	}
	y = b.op(scope+"/ZeroInsert", "Upsample2DZeros", dtype, out, map[string]string{"factor": "2"}, y)
	return b.op(scope+"/DepthwiseConv2dNative", "DepthwiseConv2dNative", dtype, out, attrs, y)
}

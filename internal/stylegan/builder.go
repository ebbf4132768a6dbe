// Package stylegan builds the StyleGAN2 generator graph registered under
// "training.networks.G_main".
package stylegan

import (
	"fmt"
	"math"
	"strconv"

	"github.com/samcharles93/ganport/internal/graph"
)

// BuildFuncName is the checkpoint build function this package handles.
const BuildFuncName = "training.networks.G_main"

// Fused kernels a backend may provide. Without them the builder lowers to
// primitive ops.
const (
	KernelFusedBiasAct = "FusedBiasAct"
	KernelUpFirDn2D    = "UpFirDn2D"
)

// Template names inside the network scope.
const (
	LatentsIn   = "latents_in"
	LabelsIn    = "labels_in"
	ImagesOut   = "images_out"
	DlatentsOut = "dlatents_out"
)

func init() {
	graph.Register(BuildFuncName, Build)
}

type builder struct {
	g     *graph.Graph
	scope string
	k     graph.Kernels
	p     Params
	vars  []graph.VarSpec
	err   error
}

// Build adds the generator to g under scope.
func Build(g *graph.Graph, scope string, cfg *graph.Config, k graph.Kernels) (*graph.Topology, error) {
	p, err := ParseParams(cfg)
	if err != nil {
		return nil, err
	}
	b := &builder{g: g, scope: scope, k: k, p: p}

	latents := b.placeholder(LatentsIn, graph.Shape{graph.Unbound, int64(p.LatentSize)})
	labels := b.placeholder(LabelsIn, graph.Shape{graph.Unbound, int64(p.LabelSize)})

	dlatents := b.mapping(latents, labels)
	if psi := p.truncation(); psi != nil {
		dlatents = b.truncate(dlatents, *psi)
	}
	dlatents = b.op(DlatentsOut, graph.OpIdentity, graph.Float32, b.shapeOf(dlatents), nil, dlatents)

	images := b.synthesis(dlatents)
	images = b.op(ImagesOut, graph.OpIdentity, graph.Float32, b.shapeOf(images), nil, images)
	if b.err != nil {
		return nil, b.err
	}

	top := &graph.Topology{Graph: g, Variables: b.vars}
	for _, name := range []string{latents, labels} {
		info, err := g.Info(name)
		if err != nil {
			return nil, err
		}
		top.Inputs = append(top.Inputs, info)
	}
	outs := []string{images}
	if p.ReturnDlatents {
		outs = append(outs, dlatents)
	}
	for _, name := range outs {
		info, err := g.Info(name)
		if err != nil {
			return nil, err
		}
		top.Outputs = append(top.Outputs, info)
	}
	return top, nil
}

func (b *builder) path(name string) string {
	if b.scope == "" {
		return name
	}
	return b.scope + "/" + name
}

func (b *builder) add(n *graph.Node) string {
	if b.err != nil {
		return n.Output()
	}
	if err := b.g.Add(n); err != nil {
		b.err = err
	}
	return n.Output()
}

func (b *builder) op(name, op string, dtype graph.DType, shape graph.Shape, attrs map[string]string, inputs ...string) string {
	return b.add(&graph.Node{
		Name:   b.path(name),
		Op:     op,
		Inputs: inputs,
		DType:  dtype,
		Shape:  shape,
		Attrs:  attrs,
	})
}

func (b *builder) placeholder(name string, shape graph.Shape) string {
	return b.op(name, graph.OpPlaceholder, graph.Float32, shape, nil)
}

// variable declares a parameter and returns the tensor that reads it.
func (b *builder) variable(param string, shape graph.Shape) string {
	node := b.path(param)
	b.vars = append(b.vars, graph.VarSpec{Name: param, Node: node, DType: graph.Float32, Shape: shape})
	v := b.op(param, graph.OpVariable, graph.Float32, shape, nil)
	return b.op(param+"/read", graph.OpReadVariable, graph.Float32, shape, nil, v)
}

func (b *builder) shapeOf(tensor string) graph.Shape {
	n, err := b.g.Tensor(tensor)
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return nil
	}
	return n.Shape.Clone()
}

func (b *builder) dtypeOf(tensor string) graph.DType {
	n, err := b.g.Tensor(tensor)
	if err != nil {
		return graph.Float32
	}
	return n.DType
}

func ftoa(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

// biasAct applies bias, activation and gain, fused when the backend can.
func (b *builder) biasAct(scope, x, bias, act string, lrmul float64) string {
	dtype := b.dtypeOf(x)
	shape := b.shapeOf(x)
	gain := 1.0
	if act == "lrelu" {
		gain = math.Sqrt2
	}
	if b.k != nil && b.k.HasKernel(KernelFusedBiasAct) {
		return b.op(scope+"/"+KernelFusedBiasAct, KernelFusedBiasAct, dtype, shape,
			map[string]string{"act": act, "gain": ftoa(gain), "lrmul": ftoa(lrmul), "alpha": "0.2"}, x, bias)
	}
	y := b.op(scope+"/BiasAdd", "BiasAdd", dtype, shape, map[string]string{"lrmul": ftoa(lrmul)}, x, bias)
	if act == "lrelu" {
		y = b.op(scope+"/LeakyRelu", "LeakyRelu", dtype, shape, map[string]string{"alpha": "0.2"}, y)
		y = b.op(scope+"/Gain", "Mul", dtype, shape, map[string]string{"scalar": ftoa(gain)}, y)
	}
	return y
}

func (b *builder) dense(scope, x string, fin, fout int, act string, lrmul float64) string {
	w := b.variable(scope+"/weight", graph.Shape{int64(fin), int64(fout)})
	bias := b.variable(scope+"/bias", graph.Shape{int64(fout)})
	shape := graph.Shape{graph.Unbound, int64(fout)}
	y := b.op(scope+"/MatMul", "MatMul", graph.Float32, shape,
		map[string]string{"wscale": ftoa(lrmul / math.Sqrt(float64(fin)))}, x, w)
	return b.biasAct(scope, y, bias, act, lrmul)
}

func (b *builder) mapping(latents, labels string) string {
	p := b.p
	x := latents
	fin := p.LatentSize
	if p.LabelSize > 0 {
		w := b.variable("G_mapping/LabelConcat/weight", graph.Shape{int64(p.LabelSize), int64(p.LatentSize)})
		y := b.op("G_mapping/LabelConcat/MatMul", "MatMul", graph.Float32, graph.Shape{graph.Unbound, int64(p.LatentSize)}, nil, labels, w)
		fin *= 2
		x = b.op("G_mapping/LabelConcat/concat", "ConcatV2", graph.Float32, graph.Shape{graph.Unbound, int64(fin)},
			map[string]string{"axis": "1"}, x, y)
	}
	x = b.op("G_mapping/Normalize", "PixelNorm", graph.Float32, b.shapeOf(x), map[string]string{"epsilon": "1e-8"}, x)

	for i := 0; i < p.MappingLayers; i++ {
		fout := p.MappingFmaps
		if i == p.MappingLayers-1 {
			fout = p.DlatentSize
		}
		x = b.dense(fmt.Sprintf("G_mapping/Dense%d", i), x, fin, fout, "lrelu", p.MappingLRMul)
		fin = fout
	}
	return b.op("G_mapping/Broadcast", "Tile", graph.Float32,
		graph.Shape{graph.Unbound, int64(p.NumLayers()), int64(p.DlatentSize)},
		map[string]string{"multiples": fmt.Sprintf("[1,%d,1]", p.NumLayers())}, x)
}

// truncate pulls dlatents towards the tracked average.
func (b *builder) truncate(dlatents string, psi float64) string {
	avg := b.variable("dlatent_avg", graph.Shape{int64(b.p.DlatentSize)})
	attrs := map[string]string{"psi": ftoa(psi)}
	if c := b.p.TruncationCutoff; c != nil {
		attrs["cutoff"] = strconv.Itoa(*c)
	}
	return b.op("Truncation/Lerp", "Lerp", graph.Float32, b.shapeOf(dlatents), attrs, avg, dlatents)
}

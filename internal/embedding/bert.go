package embedding

import (
	"fmt"
	"math"
)

// linear is a dense layer y = xWᵀ + b with W stored row-major as [out, in],
// the layout PyTorch checkpoints use.
type linear struct {
	weight  []float32
	bias    []float32
	in, out int
}

func loadLinear(st *safetensors, prefix string, in, out int) (linear, error) {
	w, shape, err := st.float32s(prefix + ".weight")
	if err != nil {
		return linear{}, err
	}
	if len(shape) != 2 || shape[0] != out || shape[1] != in {
		return linear{}, fmt.Errorf("%s.weight has shape %v, expected [%d, %d]", prefix, shape, out, in)
	}
	b, _, err := st.float32s(prefix + ".bias")
	if err != nil {
		return linear{}, err
	}
	if len(b) != out {
		return linear{}, fmt.Errorf("%s.bias has %d values, expected %d", prefix, len(b), out)
	}
	return linear{weight: w, bias: b, in: in, out: out}, nil
}

func (l linear) apply(x []float32) []float32 {
	y := make([]float32, l.out)
	for o := range y {
		row := l.weight[o*l.in : (o+1)*l.in]
		sum := float64(l.bias[o])
		for i, v := range x {
			sum += float64(row[i]) * float64(v)
		}
		y[o] = float32(sum)
	}
	return y
}

type layerNorm struct {
	weight []float32
	bias   []float32
	eps    float64
}

func loadLayerNorm(st *safetensors, prefix string, dim int, eps float64) (layerNorm, error) {
	w, _, err := st.float32s(prefix + ".weight")
	if err != nil {
		return layerNorm{}, err
	}
	b, _, err := st.float32s(prefix + ".bias")
	if err != nil {
		return layerNorm{}, err
	}
	if len(w) != dim || len(b) != dim {
		return layerNorm{}, fmt.Errorf("%s parameters do not match hidden size %d", prefix, dim)
	}
	return layerNorm{weight: w, bias: b, eps: eps}, nil
}

// apply normalizes x in place.
func (n layerNorm) apply(x []float32) {
	var mean float64
	for _, v := range x {
		mean += float64(v)
	}
	mean /= float64(len(x))

	var variance float64
	for _, v := range x {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(len(x))

	inv := 1 / math.Sqrt(variance+n.eps)
	for j := range x {
		x[j] = float32((float64(x[j])-mean)*inv*float64(n.weight[j]) + float64(n.bias[j]))
	}
}

type activation func(float64) float64

func activationFor(name string) (activation, error) {
	switch name {
	case "", "gelu":
		return func(x float64) float64 { return 0.5 * x * (1 + math.Erf(x/math.Sqrt2)) }, nil
	case "gelu_new", "gelu_fast", "gelu_pytorch_tanh":
		c := math.Sqrt(2 / math.Pi)
		return func(x float64) float64 { return 0.5 * x * (1 + math.Tanh(c*(x+0.044715*x*x*x))) }, nil
	case "relu":
		return func(x float64) float64 { return max(x, 0) }, nil
	default:
		return nil, fmt.Errorf("unsupported hidden_act %q", name)
	}
}

// encoderLayer is one post-norm BERT transformer block.
type encoderLayer struct {
	query, key, value linear
	attnOut           linear
	attnNorm          layerNorm
	intermediate      linear
	output            linear
	outNorm           layerNorm
}

func loadEncoderLayer(st *safetensors, i, dim, inner int, eps float64) (encoderLayer, error) {
	prefix := fmt.Sprintf("encoder.layer.%d.", i)
	var l encoderLayer
	var err error
	for _, p := range []struct {
		dst     *linear
		name    string
		in, out int
	}{
		{&l.query, "attention.self.query", dim, dim},
		{&l.key, "attention.self.key", dim, dim},
		{&l.value, "attention.self.value", dim, dim},
		{&l.attnOut, "attention.output.dense", dim, dim},
		{&l.intermediate, "intermediate.dense", dim, inner},
		{&l.output, "output.dense", inner, dim},
	} {
		if *p.dst, err = loadLinear(st, prefix+p.name, p.in, p.out); err != nil {
			return l, err
		}
	}
	if l.attnNorm, err = loadLayerNorm(st, prefix+"attention.output.LayerNorm", dim, eps); err != nil {
		return l, err
	}
	if l.outNorm, err = loadLayerNorm(st, prefix+"output.LayerNorm", dim, eps); err != nil {
		return l, err
	}
	return l, nil
}

// forward runs the block over a whole sequence. Every position attends to
// every other; a single unpadded sequence needs no attention mask.
func (l *encoderLayer) forward(h [][]float32, heads int, act activation) [][]float32 {
	n := len(h)
	dim := len(h[0])
	headDim := dim / heads
	scale := 1 / math.Sqrt(float64(headDim))

	q := make([][]float32, n)
	k := make([][]float32, n)
	v := make([][]float32, n)
	for t, x := range h {
		q[t] = l.query.apply(x)
		k[t] = l.key.apply(x)
		v[t] = l.value.apply(x)
	}

	attended := make([][]float32, n)
	scores := make([]float64, n)
	acc := make([]float64, headDim)
	for i := range n {
		attended[i] = make([]float32, dim)
		for hd := range heads {
			lo, hi := hd*headDim, (hd+1)*headDim

			best := math.Inf(-1)
			for j := range n {
				var s float64
				for d := lo; d < hi; d++ {
					s += float64(q[i][d]) * float64(k[j][d])
				}
				scores[j] = s * scale
				best = max(best, scores[j])
			}
			var sum float64
			for j := range n {
				scores[j] = math.Exp(scores[j] - best)
				sum += scores[j]
			}

			clear(acc)
			for j := range n {
				p := scores[j] / sum
				for d := lo; d < hi; d++ {
					acc[d-lo] += p * float64(v[j][d])
				}
			}
			for d := lo; d < hi; d++ {
				attended[i][d] = float32(acc[d-lo])
			}
		}
	}

	out := make([][]float32, n)
	for t := range n {
		a := l.attnOut.apply(attended[t])
		for d := range a {
			a[d] += h[t][d]
		}
		l.attnNorm.apply(a)

		mid := l.intermediate.apply(a)
		for d := range mid {
			mid[d] = float32(act(float64(mid[d])))
		}
		o := l.output.apply(mid)
		for d := range o {
			o[d] += a[d]
		}
		l.outNorm.apply(o)
		out[t] = o
	}
	return out
}

// Package modeltest writes small deterministic sentence encoder directories
// for tests.
package modeltest

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// Vocab is the vocabulary written by Write.
var Vocab = []string{
	"[PAD]", "[UNK]", "[CLS]", "[SEP]",
	"the", "quick", "brown", "fox", "jump", "##s", "##ed", "over", "lazy", "dog",
	"vector", "store", "search", "index", ".", ",", "?",
}

// Options controls the generated model.
type Options struct {
	Dimension    int
	MaxSeqLength int
	Positions    int
	Layers       int    // transformer layers, default 2
	Heads        int    // attention heads, default 2; must divide Dimension
	Pooling      string // "mean" or "cls"; empty leaves it unset
}

// Write creates a model directory under t.TempDir and returns its path.
func Write(t testing.TB, opts Options) string {
	t.Helper()
	if opts.Dimension <= 0 {
		opts.Dimension = 8
	}
	if opts.Positions <= 0 {
		opts.Positions = 32
	}
	if opts.Layers <= 0 {
		opts.Layers = 2
	}
	if opts.Heads <= 0 {
		opts.Heads = 2
	}

	dir := filepath.Join(t.TempDir(), "tiny-encoder")
	must(t, os.MkdirAll(dir, 0o755))

	must(t, os.WriteFile(filepath.Join(dir, "vocab.txt"), []byte(strings.Join(Vocab, "\n")+"\n"), 0o644))

	cfg := map[string]any{
		"hidden_size":             opts.Dimension,
		"vocab_size":              len(Vocab),
		"max_position_embeddings": opts.Positions,
		"num_hidden_layers":       opts.Layers,
		"num_attention_heads":     opts.Heads,
		"intermediate_size":       2 * opts.Dimension,
		"hidden_act":              "gelu",
	}
	if opts.Pooling != "" {
		cfg["pooling"] = opts.Pooling
	}
	writeJSON(t, filepath.Join(dir, "config.json"), cfg)
	if opts.MaxSeqLength > 0 {
		writeJSON(t, filepath.Join(dir, "sentence_bert_config.json"), map[string]any{"max_seq_length": opts.MaxSeqLength})
	}

	dim := opts.Dimension
	tensors := map[string]tensor{
		"embeddings.word_embeddings.weight":       {[]int{len(Vocab), dim}, fill(len(Vocab)*dim, 1)},
		"embeddings.position_embeddings.weight":   {[]int{opts.Positions, dim}, fill(opts.Positions*dim, 2)},
		"embeddings.token_type_embeddings.weight": {[]int{2, dim}, fill(2*dim, 3)},
		"embeddings.LayerNorm.weight":             {[]int{dim}, constant(dim, 1)},
		"embeddings.LayerNorm.bias":               {[]int{dim}, constant(dim, 0)},
	}
	inner := 2 * dim
	for i := range opts.Layers {
		prefix := fmt.Sprintf("encoder.layer.%d.", i)
		seed := uint32(10 * (i + 1))
		dense := func(name string, in, out int, salt uint32) {
			tensors[prefix+name+".weight"] = tensor{[]int{out, in}, scale(fill(out*in, seed+salt), 0.5)}
			tensors[prefix+name+".bias"] = tensor{[]int{out}, scale(fill(out, seed+salt+100), 0.1)}
		}
		dense("attention.self.query", dim, dim, 1)
		dense("attention.self.key", dim, dim, 2)
		dense("attention.self.value", dim, dim, 3)
		dense("attention.output.dense", dim, dim, 4)
		dense("intermediate.dense", dim, inner, 5)
		dense("output.dense", inner, dim, 6)
		for _, norm := range []string{"attention.output.LayerNorm", "output.LayerNorm"} {
			tensors[prefix+norm+".weight"] = tensor{[]int{dim}, constant(dim, 1)}
			tensors[prefix+norm+".bias"] = tensor{[]int{dim}, constant(dim, 0)}
		}
	}
	must(t, os.WriteFile(filepath.Join(dir, "model.safetensors"), encode(tensors), 0o644))
	return dir
}

type tensor struct {
	shape []int
	data  []float32
}

// encode serializes tensors in the safetensors layout with F32 data.
func encode(tensors map[string]tensor) []byte {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(tensors))
	var data []byte
	for _, name := range names {
		tn := tensors[name]
		start := len(data)
		for _, v := range tn.data {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
		}
		header[name] = map[string]any{
			"dtype":        "F32",
			"shape":        tn.shape,
			"data_offsets": []int{start, len(data)},
		}
	}
	hdr, _ := json.Marshal(header)

	out := binary.LittleEndian.AppendUint64(nil, uint64(len(hdr)))
	out = append(out, hdr...)
	return append(out, data...)
}

// fill returns n reproducible values in [-1, 1).
func fill(n int, seed uint32) []float32 {
	out := make([]float32, n)
	state := seed*2654435761 + 1
	for i := range out {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		out[i] = float32(state%2000)/1000 - 1
	}
	return out
}

func scale(values []float32, f float32) []float32 {
	for i := range values {
		values[i] *= f
	}
	return values
}

func constant(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func writeJSON(t testing.TB, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	must(t, err)
	must(t, os.WriteFile(path, data, 0o644))
}

func must(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

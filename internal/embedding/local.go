package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/bull/vector-rag/internal/rag"
)

// Files that make up a local model directory.
const (
	ConfigFile          = "config.json"
	SentenceConfigFile  = "sentence_bert_config.json"
	TokenizerConfigFile = "tokenizer_config.json"
	PoolingConfigFile   = "1_Pooling/config.json"
	VocabFile           = "vocab.txt"
	WeightsFile         = "model.safetensors"
)

// Pooling selects how token vectors are reduced to one sentence vector.
type Pooling string

const (
	PoolingMean Pooling = "mean"
	PoolingCLS  Pooling = "cls"
)

const (
	defaultMaxSeqLength = 256
	layerNormEpsilon    = 1e-12
)

type modelConfig struct {
	HiddenSize            int     `json:"hidden_size"`
	NumHiddenLayers       int     `json:"num_hidden_layers"`
	NumAttentionHeads     int     `json:"num_attention_heads"`
	IntermediateSize      int     `json:"intermediate_size"`
	HiddenAct             string  `json:"hidden_act"`
	VocabSize             int     `json:"vocab_size"`
	MaxPositionEmbeddings int     `json:"max_position_embeddings"`
	LayerNormEps          float64 `json:"layer_norm_eps"`
	Pooling               Pooling `json:"pooling"`
}

type sentenceConfig struct {
	MaxSeqLength int `json:"max_seq_length"`
}

type tokenizerConfig struct {
	DoLowerCase *bool `json:"do_lower_case"`
}

type poolingConfig struct {
	CLSToken   bool `json:"pooling_mode_cls_token"`
	MeanTokens bool `json:"pooling_mode_mean_tokens"`
}

// LocalModel runs a BERT-style sentence encoder (such as all-MiniLM-L6-v2)
// from its safetensors checkpoint. WordPiece tokens are embedded, passed
// through every transformer layer and the final hidden states are pooled.
// Vectors are not normalized, and identical input always yields
// bit-identical output.
//
// A LocalModel is read-only after loading and safe for concurrent use.
type LocalModel struct {
	name      string
	dim       int
	maxSeq    int
	pooling   Pooling
	eps       float64
	tokenizer *Tokenizer

	word      []float32 // vocab x dim
	position  []float32 // positions x dim, may be nil
	tokenType []float32 // dim, may be nil
	embedNorm *layerNorm
	layers    []encoderLayer
	heads     int
	act       activation

	truncations atomic.Int64
	logger      *slog.Logger
}

// LoadLocalModel reads a model directory. Any missing or malformed file is
// reported as rag.ErrModelLoad.
func LoadLocalModel(dir string, logger *slog.Logger) (*LocalModel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m, err := loadLocalModel(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", rag.ErrModelLoad, dir, err)
	}
	return m, nil
}

// LocalFactory returns a Factory that loads the model in dir.
func LocalFactory(dir string, logger *slog.Logger) Factory {
	return func() (Encoder, error) {
		return LoadLocalModel(dir, logger)
	}
}

func loadLocalModel(dir string, logger *slog.Logger) (*LocalModel, error) {
	var cfg modelConfig
	if err := readJSON(filepath.Join(dir, ConfigFile), &cfg, true); err != nil {
		return nil, err
	}
	if cfg.HiddenSize <= 0 {
		return nil, fmt.Errorf("%s: hidden_size must be positive", ConfigFile)
	}
	if cfg.NumHiddenLayers <= 0 {
		return nil, fmt.Errorf("%s: num_hidden_layers must be positive", ConfigFile)
	}
	if cfg.NumAttentionHeads <= 0 || cfg.HiddenSize%cfg.NumAttentionHeads != 0 {
		return nil, fmt.Errorf("%s: hidden_size %d is not divisible into %d attention heads",
			ConfigFile, cfg.HiddenSize, cfg.NumAttentionHeads)
	}
	if cfg.IntermediateSize <= 0 {
		cfg.IntermediateSize = 4 * cfg.HiddenSize
	}
	act, err := activationFor(cfg.HiddenAct)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ConfigFile, err)
	}

	var sentCfg sentenceConfig
	if err := readJSON(filepath.Join(dir, SentenceConfigFile), &sentCfg, false); err != nil {
		return nil, err
	}
	var tokCfg tokenizerConfig
	if err := readJSON(filepath.Join(dir, TokenizerConfigFile), &tokCfg, false); err != nil {
		return nil, err
	}
	var poolCfg poolingConfig
	if err := readJSON(filepath.Join(dir, PoolingConfigFile), &poolCfg, false); err != nil {
		return nil, err
	}

	lowercase := true
	if tokCfg.DoLowerCase != nil {
		lowercase = *tokCfg.DoLowerCase
	}
	tokenizer, err := LoadVocab(filepath.Join(dir, VocabFile), lowercase)
	if err != nil {
		return nil, err
	}

	weights, err := openSafetensors(filepath.Join(dir, WeightsFile))
	if err != nil {
		return nil, err
	}

	m := &LocalModel{
		name:      filepath.Base(dir),
		dim:       cfg.HiddenSize,
		pooling:   PoolingMean,
		eps:       cfg.LayerNormEps,
		heads:     cfg.NumAttentionHeads,
		act:       act,
		tokenizer: tokenizer,
		logger:    logger,
	}
	if m.eps <= 0 {
		m.eps = layerNormEpsilon
	}
	switch {
	case cfg.Pooling != "":
		if cfg.Pooling != PoolingMean && cfg.Pooling != PoolingCLS {
			return nil, fmt.Errorf("%s: unknown pooling %q", ConfigFile, cfg.Pooling)
		}
		m.pooling = cfg.Pooling
	case poolCfg.CLSToken && !poolCfg.MeanTokens:
		m.pooling = PoolingCLS
	}

	var shape []int
	m.word, shape, err = weights.float32s("embeddings.word_embeddings.weight")
	if err != nil {
		return nil, err
	}
	if len(shape) != 2 || shape[1] != m.dim {
		return nil, fmt.Errorf("word embeddings have shape %v, expected [vocab, %d]", shape, m.dim)
	}
	if shape[0] < tokenizer.VocabSize() {
		return nil, fmt.Errorf("word embeddings cover %d tokens, vocabulary has %d", shape[0], tokenizer.VocabSize())
	}

	positions := 0
	if _, _, ok := weights.lookup("embeddings.position_embeddings.weight"); ok {
		m.position, shape, err = weights.float32s("embeddings.position_embeddings.weight")
		if err != nil {
			return nil, err
		}
		if len(shape) != 2 || shape[1] != m.dim {
			return nil, fmt.Errorf("position embeddings have shape %v, expected [positions, %d]", shape, m.dim)
		}
		positions = shape[0]
	}
	if _, _, ok := weights.lookup("embeddings.token_type_embeddings.weight"); ok {
		all, shape, err := weights.float32s("embeddings.token_type_embeddings.weight")
		if err != nil {
			return nil, err
		}
		if len(shape) != 2 || shape[1] != m.dim {
			return nil, fmt.Errorf("token type embeddings have shape %v, expected [types, %d]", shape, m.dim)
		}
		m.tokenType = all[:m.dim]
	}
	if _, _, ok := weights.lookup("embeddings.LayerNorm.weight"); ok {
		norm, err := loadLayerNorm(weights, "embeddings.LayerNorm", m.dim, m.eps)
		if err != nil {
			return nil, err
		}
		m.embedNorm = &norm
	}

	m.layers = make([]encoderLayer, cfg.NumHiddenLayers)
	for i := range m.layers {
		if m.layers[i], err = loadEncoderLayer(weights, i, m.dim, cfg.IntermediateSize, m.eps); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}

	m.maxSeq = sentCfg.MaxSeqLength
	if m.maxSeq <= 0 {
		m.maxSeq = defaultMaxSeqLength
	}
	if cfg.MaxPositionEmbeddings > 0 {
		m.maxSeq = min(m.maxSeq, cfg.MaxPositionEmbeddings)
	}
	if positions > 0 {
		m.maxSeq = min(m.maxSeq, positions)
	}
	if m.maxSeq < 2 {
		return nil, fmt.Errorf("max sequence length %d leaves no room for text", m.maxSeq)
	}
	return m, nil
}

func readJSON(path string, v any, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Name returns the model directory name.
func (m *LocalModel) Name() string { return m.name }

// Dimension returns the hidden size.
func (m *LocalModel) Dimension() int { return m.dim }

// MaxSequenceLength returns the token limit, including [CLS] and [SEP].
func (m *LocalModel) MaxSequenceLength() int { return m.maxSeq }

// Truncations returns how many inputs have been cut to MaxSequenceLength.
func (m *LocalModel) Truncations() int64 { return m.truncations.Load() }

// Embed returns one vector per text. Inputs longer than the model's
// sequence limit are truncated; the count is available from Truncations.
func (m *LocalModel) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		ids, truncated := m.tokenizer.Encode(text, m.maxSeq)
		if truncated {
			m.truncations.Add(1)
			m.logger.Debug("Truncated input to model sequence limit", "model", m.name, "max_tokens", m.maxSeq)
		}
		out[i] = m.embedTokens(ids)
	}
	return out, nil
}

func (m *LocalModel) embedTokens(ids []int) []float32 {
	hidden := make([][]float32, len(ids))
	for pos, id := range ids {
		token := make([]float32, m.dim)
		copy(token, m.word[id*m.dim:(id+1)*m.dim])
		if m.position != nil {
			for j, v := range m.position[pos*m.dim : (pos+1)*m.dim] {
				token[j] += v
			}
		}
		if m.tokenType != nil {
			for j, v := range m.tokenType {
				token[j] += v
			}
		}
		if m.embedNorm != nil {
			m.embedNorm.apply(token)
		}
		hidden[pos] = token
	}

	for i := range m.layers {
		hidden = m.layers[i].forward(hidden, m.heads, m.act)
	}

	if m.pooling == PoolingCLS {
		return hidden[0]
	}
	pooled := make([]float64, m.dim)
	for _, token := range hidden {
		for j, v := range token {
			pooled[j] += float64(v)
		}
	}
	out := make([]float32, m.dim)
	n := float64(len(hidden))
	for j, v := range pooled {
		out[j] = float32(v / n)
	}
	return out
}

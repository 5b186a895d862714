package embedding

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// tensorInfo is one entry of a safetensors header.
type tensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// safetensors is an opened .safetensors file: an 8-byte little-endian
// header length, a JSON header describing each tensor, then raw data.
type safetensors struct {
	tensors map[string]tensorInfo
	data    []byte
}

func openSafetensors(path string) (*safetensors, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weights: %w", err)
	}
	if len(raw) < 8 {
		return nil, fmt.Errorf("weights file %s is truncated", path)
	}
	headerLen := binary.LittleEndian.Uint64(raw[:8])
	if headerLen > uint64(len(raw)-8) {
		return nil, fmt.Errorf("weights header length %d exceeds file size", headerLen)
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(raw[8:8+headerLen], &header); err != nil {
		return nil, fmt.Errorf("parse weights header: %w", err)
	}

	st := &safetensors{tensors: make(map[string]tensorInfo, len(header)), data: raw[8+headerLen:]}
	for name, msg := range header {
		if name == "__metadata__" {
			continue
		}
		var info tensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, fmt.Errorf("parse tensor %s: %w", name, err)
		}
		if info.DataOffsets[0] < 0 || info.DataOffsets[1] < info.DataOffsets[0] ||
			info.DataOffsets[1] > int64(len(st.data)) {
			return nil, fmt.Errorf("tensor %s has offsets outside the data section", name)
		}
		st.tensors[name] = info
	}
	return st, nil
}

// lookup finds a tensor by name, also trying the "bert." prefix used by
// checkpoints saved from the full pretraining model.
func (st *safetensors) lookup(name string) (tensorInfo, string, bool) {
	for _, candidate := range []string{name, "bert." + name} {
		if info, ok := st.tensors[candidate]; ok {
			return info, candidate, true
		}
	}
	return tensorInfo{}, "", false
}

// float32s decodes a tensor as float32, widening F16 and BF16 weights.
func (st *safetensors) float32s(name string) ([]float32, []int, error) {
	info, resolved, ok := st.lookup(name)
	if !ok {
		return nil, nil, fmt.Errorf("tensor %s not found", name)
	}
	buf := st.data[info.DataOffsets[0]:info.DataOffsets[1]]

	elems := 1
	for _, d := range info.Shape {
		elems *= d
	}

	var width int
	switch info.DType {
	case "F32":
		width = 4
	case "F16", "BF16":
		width = 2
	default:
		return nil, nil, fmt.Errorf("tensor %s has unsupported dtype %s", resolved, info.DType)
	}
	if len(buf) != elems*width {
		return nil, nil, fmt.Errorf("tensor %s holds %d bytes, shape %v needs %d",
			resolved, len(buf), info.Shape, elems*width)
	}

	out := make([]float32, elems)
	for i := range out {
		switch info.DType {
		case "F32":
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		case "F16":
			out[i] = float16ToFloat32(binary.LittleEndian.Uint16(buf[i*2:]))
		case "BF16":
			out[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(buf[i*2:])) << 16)
		}
	}
	return out, info.Shape, nil
}

func float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff

	switch {
	case exp == 0 && frac == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		// Subnormal: normalize the fraction.
		for frac&0x400 == 0 {
			frac <<= 1
			exp--
		}
		exp++
		frac &= 0x3ff
	case exp == 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | frac<<13)
	}
	return math.Float32frombits(sign | (exp+112)<<23 | frac<<13)
}

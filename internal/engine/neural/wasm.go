package neural

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WasmSegmenter delegates segmentation to a WebAssembly plugin.
//
// The module exports:
//
//	alloc(size i32) i32
//	segment(ptr i32, len i32) i64
//
// segment receives a JSON array of tokens and returns the packed location
// (ptr<<32 | len) of a JSON array of segment lengths counted in tokens.
//
// Plugins are reactors: the host runs _initialize once and then calls the
// exports repeatedly. Command modules exporting only _start are rejected.
type WasmSegmenter struct {
	mu      sync.Mutex
	rt      wazero.Runtime
	module  api.Module
	alloc   api.Function
	segment api.Function
}

// LoadWasmSegmenter compiles the plugin at path.
func LoadWasmSegmenter(ctx context.Context, path string) (*WasmSegmenter, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read segmenter module: %w", err)
	}
	return NewWasmSegmenter(ctx, wasmBytes)
}

func NewWasmSegmenter(ctx context.Context, wasmBytes []byte) (*WasmSegmenter, error) {
	rt := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}
	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("compile segmenter module: %w", err)
	}
	exports := compiled.ExportedFunctions()
	if _, ok := exports["_initialize"]; !ok {
		if _, ok := exports["_start"]; ok {
			rt.Close(ctx)
			return nil, errors.New("segmenter module is a command module; build it with -buildmode=c-shared")
		}
	}
	cfg := wazero.NewModuleConfig().WithStartFunctions("_initialize")
	module, err := rt.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate segmenter module: %w", err)
	}
	alloc := module.ExportedFunction("alloc")
	segment := module.ExportedFunction("segment")
	if alloc == nil || segment == nil {
		rt.Close(ctx)
		return nil, errors.New("segmenter module must export alloc and segment")
	}
	return &WasmSegmenter{rt: rt, module: module, alloc: alloc, segment: segment}, nil
}

func (w *WasmSegmenter) Segment(ctx context.Context, tokens []Token) ([]Segment, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	input, err := json.Marshal(tokens)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	mem := w.module.Memory()
	if mem == nil {
		return nil, errors.New("segmenter module has no memory")
	}
	res, err := w.alloc.Call(ctx, uint64(len(input)))
	if err != nil {
		return nil, fmt.Errorf("segmenter alloc: %w", err)
	}
	ptr := api.DecodeU32(res[0])
	if !mem.Write(ptr, input) {
		return nil, fmt.Errorf("segmenter input out of range (ptr=%d len=%d)", ptr, len(input))
	}
	res, err = w.segment.Call(ctx, uint64(ptr), uint64(len(input)))
	if err != nil {
		return nil, fmt.Errorf("segmenter call: %w", err)
	}
	outPtr := uint32(res[0] >> 32)
	outLen := uint32(res[0])
	output, ok := mem.Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("segmenter output out of range (ptr=%d len=%d)", outPtr, outLen)
	}
	var lengths []int
	if err := json.Unmarshal(output, &lengths); err != nil {
		return nil, fmt.Errorf("decode segmenter output: %w", err)
	}
	return splitByLengths(tokens, lengths)
}

func (w *WasmSegmenter) Close(ctx context.Context) error {
	if w == nil || w.rt == nil {
		return nil
	}
	return w.rt.Close(ctx)
}

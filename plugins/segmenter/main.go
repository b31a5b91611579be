//go:build wasip1

// Command segmenter is a reference WebAssembly segmenter plugin. It groups
// tokens into sentences and never lets a segment exceed maxWords words.
//
// The host expects a reactor module, so build it as a shared library:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o segmenter.wasm ./plugins/segmenter
//	tinygo build -buildmode=c-shared -target=wasip1 -no-debug -o segmenter.wasm ./plugins/segmenter
package main

import (
	"encoding/json"
	"unsafe"
)

const maxWords = 24

type token struct {
	Text  string `json:"text"`
	Punct bool   `json:"punct"`
}

var (
	// buffers pins allocations handed to the host.
	buffers = map[uint32][]byte{}
	// lastOutput is released on the next segment call.
	lastOutput uint32
)

//go:wasmexport alloc
func alloc(size uint32) uint32 {
	if size == 0 {
		size = 1
	}
	buf := make([]byte, size)
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0])))
	buffers[ptr] = buf
	return ptr
}

//go:wasmexport segment
func segment(ptr, length uint32) uint64 {
	if lastOutput != 0 {
		delete(buffers, lastOutput)
		lastOutput = 0
	}
	buf, ok := buffers[ptr]
	if !ok || int(length) > len(buf) {
		return 0
	}
	input := buf[:length]
	delete(buffers, ptr)

	var tokens []token
	if err := json.Unmarshal(input, &tokens); err != nil {
		return 0
	}
	out, err := json.Marshal(lengths(tokens))
	if err != nil {
		return 0
	}
	outPtr := alloc(uint32(len(out)))
	copy(buffers[outPtr], out)
	lastOutput = outPtr
	return uint64(outPtr)<<32 | uint64(len(out))
}

func lengths(tokens []token) []int {
	var (
		out   []int
		count int
		words int
	)
	for _, t := range tokens {
		if !t.Punct && words == maxWords {
			out = append(out, count)
			count, words = 0, 0
		}
		count++
		if !t.Punct {
			words++
			continue
		}
		if t.Text != "," {
			out = append(out, count)
			count, words = 0, 0
		}
	}
	if count > 0 {
		out = append(out, count)
	}
	return out
}

func main() {}

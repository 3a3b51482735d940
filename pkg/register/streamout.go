package register

import "fmt"

// StreamOutNames holds the register names used to manage one stream-out
// channel, derived from its index and buffer value type.
type StreamOutNames struct {
	StreamOut    string // STREAM_OUT0
	Target       string // STREAM_OUT0_TARGET
	BufferSize   string // STREAM_OUT0_BUFFER_SIZE
	LoopSize     string // STREAM_OUT0_LOOP_SIZE
	SetLoop      string // STREAM_OUT0_SET_LOOP
	BufferStatus string // STREAM_OUT0_BUFFER_STATUS
	Enable       string // STREAM_OUT0_ENABLE
	Buffer       string // STREAM_OUT0_BUFFER_F32
}

// NewStreamOutNames derives the register names for stream-out channel index.
// bufferType is "F32", "U16" or "U32".
func NewStreamOutNames(index int, bufferType string) (StreamOutNames, error) {
	if index < 0 || index >= MaxStreamOuts {
		return StreamOutNames{}, fmt.Errorf("register: stream-out index %d out of range 0-%d", index, MaxStreamOuts-1)
	}
	switch bufferType {
	case "F32", "U16", "U32":
	default:
		return StreamOutNames{}, fmt.Errorf("register: unknown stream-out buffer type %q", bufferType)
	}

	base := fmt.Sprintf("STREAM_OUT%d", index)
	return StreamOutNames{
		StreamOut:    base,
		Target:       base + "_TARGET",
		BufferSize:   base + "_BUFFER_SIZE",
		LoopSize:     base + "_LOOP_SIZE",
		SetLoop:      base + "_SET_LOOP",
		BufferStatus: base + "_BUFFER_STATUS",
		Enable:       base + "_ENABLE",
		Buffer:       base + "_BUFFER_" + bufferType,
	}, nil
}

// OutBufferType returns the stream-out buffer type string for streaming into
// target, e.g. "F32" for DAC0.
func OutBufferType(target string) (string, error) {
	reg, err := Lookup(target)
	if err != nil {
		return "", err
	}
	return reg.Type.BufferSuffix()
}

package pulsecore

import (
	"encoding/binary"
	"math"
)

// RenderBlocks drives the engine for n blocks without an audio device and
// returns the interleaved stereo output. Tests and offline bounces use this
// in place of a device callback.
func RenderBlocks(e *Engine, blocks int) []float32 {
	out := make([]float32, blocks*e.BlockFrames()*2)
	bf := e.BlockFrames()
	for b := 0; b < blocks; b++ {
		e.ProcessBlock(out[b*bf*2:(b+1)*bf*2], bf)
	}
	return out
}

// RenderSeconds drives the engine for the given duration, rounded up to
// whole blocks.
func RenderSeconds(e *Engine, seconds float64) []float32 {
	frames := int(float64(e.SampleRate()) * seconds)
	bf := e.BlockFrames()
	blocks := (frames + bf - 1) / bf
	return RenderBlocks(e, blocks)
}

// EncodeWAVFloat32LE wraps interleaved float32 samples in a RIFF/WAVE
// container (format 3, IEEE float).
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}

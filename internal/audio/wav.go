package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Info describes the PCM format of a WAV payload.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// Probe parses the header of a WAV payload and returns its format.
func Probe(data []byte) (*Info, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		if err := d.Err(); err != nil {
			return nil, fmt.Errorf("parse wav: %w", err)
		}
		return nil, errors.New("parse wav: not a valid wav file")
	}
	dur, err := d.Duration()
	if err != nil {
		return nil, fmt.Errorf("wav duration: %w", err)
	}
	return &Info{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
		Duration:   dur,
	}, nil
}

// PCMChunks decodes a 16-bit PCM WAV payload and slices the sample data into
// frames of at most chunkBytes, ready to stream over a socket without the
// container header.
func PCMChunks(wavData []byte, chunkBytes int) (*Info, [][]byte, error) {
	if chunkBytes <= 0 {
		return nil, nil, fmt.Errorf("chunk size %d", chunkBytes)
	}

	d := wav.NewDecoder(bytes.NewReader(wavData))
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, nil, fmt.Errorf("decode wav: %w", err)
	}
	if d.BitDepth != 16 {
		return nil, nil, fmt.Errorf("unsupported bit depth %d", d.BitDepth)
	}

	info := &Info{
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		BitDepth:   int(d.BitDepth),
	}

	pcm := pcmBytes(buf)
	var chunks [][]byte
	for i := 0; i < len(pcm); i += chunkBytes {
		end := min(i+chunkBytes, len(pcm))
		chunks = append(chunks, pcm[i:end])
	}
	return info, chunks, nil
}

// pcmBytes serializes decoded samples as little-endian 16-bit PCM.
func pcmBytes(buf *gaudio.IntBuffer) []byte {
	pcm := make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s)))
	}
	return pcm
}

// SamplesToWAV encodes float32 PCM samples as a mono 16-bit WAV byte slice.
func SamplesToWAV(samples []float32, sampleRate int) []byte {
	dataLen := len(samples) * 2
	totalLen := 44 + dataLen

	buf := make([]byte, totalLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(totalLen-8))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                   // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))

	for i, s := range samples {
		clamped := max(-1.0, min(1.0, s))
		val := int16(clamped * math.MaxInt16)
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(val))
	}

	return buf
}

// Package wav writes mono signed 16-bit little-endian PCM WAV files
// incrementally: a placeholder header first, sample data appended as it
// arrives, and the header patched with the final payload size on close.
package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// HeaderSize is the size of the canonical RIFF/WAV header in bytes.
const HeaderSize = 44

// WriteHeader writes the complete 44-byte RIFF/WAV header for mono signed
// 16-bit LE PCM at sampleRate, declaring payloadBytes bytes of sample data.
// Pass payloadBytes=0 for a placeholder and rewrite the header once the
// final size is known.
func WriteHeader(w io.Writer, sampleRate int, payloadBytes uint32) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)

	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	h := struct {
		// RIFF header
		RiffID   [4]byte
		RiffSize uint32
		WaveID   [4]byte
		// fmt sub-chunk
		FmtID       [4]byte
		FmtSize     uint32
		AudioFormat uint16
		NumChannels uint16
		SampleRate  uint32
		ByteRate    uint32
		BlockAlign  uint16
		BitsPerSamp uint16
		// data sub-chunk
		DataID   [4]byte
		DataSize uint32
	}{
		RiffID:      [4]byte{'R', 'I', 'F', 'F'},
		RiffSize:    36 + payloadBytes,
		WaveID:      [4]byte{'W', 'A', 'V', 'E'},
		FmtID:       [4]byte{'f', 'm', 't', ' '},
		FmtSize:     16,
		AudioFormat: audioFormat,
		NumChannels: numChannels,
		SampleRate:  uint32(sampleRate),
		ByteRate:    byteRate,
		BlockAlign:  blockAlign,
		BitsPerSamp: bitsPerSample,
		DataID:      [4]byte{'d', 'a', 't', 'a'},
		DataSize:    payloadBytes,
	}

	return binary.Write(w, binary.LittleEndian, &h)
}

// Writer appends samples to an open WAV file and tracks the payload size
// needed to patch the header when the file is finalized.
type Writer struct {
	f            *os.File
	sampleRate   int
	payloadBytes uint32
}

// Create opens path for writing, truncating any existing file, and writes a
// placeholder header declaring zero payload bytes.
func Create(path string, sampleRate int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	if err := WriteHeader(f, sampleRate, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write placeholder header: %w", err)
	}
	return &Writer{f: f, sampleRate: sampleRate}, nil
}

// AppendSamples serializes samples as little-endian int16 and appends them
// to the file. The payload counter advances by the bytes actually written,
// so a short write leaves the counter consistent with the file contents.
func (w *Writer) AppendSamples(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}

	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	n, err := w.f.Write(buf)
	w.payloadBytes += uint32(n)
	if err != nil {
		return fmt.Errorf("failed to append samples: %w", err)
	}
	return nil
}

// PayloadBytes reports the number of sample bytes appended so far.
func (w *Writer) PayloadBytes() uint32 {
	return w.payloadBytes
}

// Close patches the header with the final payload size and closes the file.
// The header is rewritten even when no samples were appended. The file is
// closed regardless of patch errors; the first error encountered is
// returned.
func (w *Writer) Close() error {
	var patchErr error
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		patchErr = fmt.Errorf("failed to seek to header: %w", err)
	} else if err := WriteHeader(w.f, w.sampleRate, w.payloadBytes); err != nil {
		patchErr = fmt.Errorf("failed to patch header: %w", err)
	}

	if err := w.f.Close(); err != nil && patchErr == nil {
		patchErr = fmt.Errorf("failed to close output file: %w", err)
	}
	return patchErr
}

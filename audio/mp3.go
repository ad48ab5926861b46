// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package audio

import (
	"errors"
	"fmt"
	"io"

	"github.com/amanitaverna/go-mp3"
)

// go-mp3 always decodes to interleaved 16-bit stereo.
const mp3BytesPerFrame = 4

// MP3Format handles MPEG-1/2 Layer III files.
type MP3Format struct{}

func (f *MP3Format) Metadata(r io.ReadSeeker, size int64) (Metadata, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to create MP3 decoder: %w", err)
	}

	sampleRate := decoder.SampleRate()
	var duration float64
	if sampleRate > 0 {
		duration = float64(decoder.Length()) / float64(sampleRate*mp3BytesPerFrame)
	}

	return Metadata{
		Format:       "MP3",
		Codec:        "MP3",
		SampleRate:   sampleRate,
		Channels:     2,
		BitDepth:     16,
		Duration:     duration,
		OriginalSize: size,
		Bitrate:      bitrateKbps(size, duration),
	}, nil
}

func (f *MP3Format) Samples(r io.ReadSeeker, sampleRate int) ([]float32, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create MP3 decoder: %w", err)
	}

	var samples []float32
	buffer := make([]byte, 4096)
	var carry []byte
	for {
		n, err := decoder.Read(buffer)
		data := append(carry, buffer[:n]...)
		whole := len(data) - len(data)%2
		for i := 0; i < whole; i += 2 {
			sample := int16(data[i]) | int16(data[i+1])<<8
			samples = append(samples, float32(sample)/32768.0)
		}
		carry = append([]byte(nil), data[whole:]...)

		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read MP3 data: %w", err)
		}
	}

	samples = ConvertToMono(samples, 2)
	return ResampleAudio(samples, decoder.SampleRate(), sampleRate), nil
}

// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package audio

import (
	"errors"
	"fmt"
	"io"

	"github.com/jfreymuth/oggvorbis"
)

// VorbisFormat handles OGG Vorbis files.
type VorbisFormat struct{}

func (f *VorbisFormat) Metadata(r io.ReadSeeker, size int64) (Metadata, error) {
	length, format, err := oggvorbis.GetLength(r)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read Vorbis stream: %w", err)
	}

	var duration float64
	if format.SampleRate > 0 {
		duration = float64(length) / float64(format.SampleRate)
	}

	return Metadata{
		Format:       "OGG",
		Codec:        CodecVorbis,
		SampleRate:   format.SampleRate,
		Channels:     format.Channels,
		BitDepth:     16,
		Duration:     duration,
		OriginalSize: size,
		Bitrate:      bitrateKbps(size, duration),
	}, nil
}

func (f *VorbisFormat) Samples(r io.ReadSeeker, sampleRate int) ([]float32, error) {
	if err := rewind(r); err != nil {
		return nil, err
	}
	decoder, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vorbis decoder: %w", err)
	}

	var samples []float32
	buffer := make([]float32, 16384)
	for {
		n, err := decoder.Read(buffer)
		samples = append(samples, buffer[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read OGG data: %w", err)
		}
	}

	samples = ConvertToMono(samples, decoder.Channels())
	return ResampleAudio(samples, decoder.SampleRate(), sampleRate), nil
}

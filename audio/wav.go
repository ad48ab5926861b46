// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package audio

import (
	"fmt"
	"io"

	"github.com/go-audio/wav"
)

type WAVFormat struct{}

func (f *WAVFormat) Metadata(r io.ReadSeeker, size int64) (Metadata, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return Metadata{}, fmt.Errorf("invalid WAV file")
	}

	format := decoder.Format()
	dur, err := decoder.Duration()
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to get duration: %w", err)
	}

	duration := dur.Seconds()
	return Metadata{
		Format:       "WAV",
		Codec:        "PCM",
		SampleRate:   format.SampleRate,
		Channels:     format.NumChannels,
		BitDepth:     int(decoder.BitDepth),
		Duration:     duration,
		OriginalSize: size,
		Bitrate:      bitrateKbps(size, duration),
	}, nil
}

func (f *WAVFormat) Samples(r io.ReadSeeker, sampleRate int) ([]float32, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM buffer: %w", err)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := float32(1.0) / float32(int64(1)<<(bitDepth-1))

	samples := make([]float32, len(buf.Data))
	for i, sample := range buf.Data {
		samples[i] = float32(sample) * scale
	}

	samples = ConvertToMono(samples, buf.Format.NumChannels)
	return ResampleAudio(samples, buf.Format.SampleRate, sampleRate), nil
}

// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package audio

import (
	"errors"
	"fmt"
	"io"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
)

// FLACFormat handles native FLAC streams.
type FLACFormat struct{}

func (f *FLACFormat) Metadata(r io.ReadSeeker, size int64) (Metadata, error) {
	stream, err := flac.New(r)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to parse FLAC stream: %w", err)
	}

	info := stream.Info
	if info == nil {
		return Metadata{}, fmt.Errorf("no StreamInfo found in FLAC stream")
	}

	var duration float64
	if info.SampleRate > 0 {
		duration = float64(info.NSamples) / float64(info.SampleRate)
	}

	return Metadata{
		Format:       "FLAC",
		Codec:        "FLAC",
		SampleRate:   int(info.SampleRate),
		Channels:     int(info.NChannels),
		BitDepth:     int(info.BitsPerSample),
		Duration:     duration,
		OriginalSize: size,
		Bitrate:      bitrateKbps(size, duration),
	}, nil
}

func (f *FLACFormat) Samples(r io.ReadSeeker, sampleRate int) ([]float32, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create FLAC stream: %w", err)
	}

	info := stream.Info
	if info == nil {
		return nil, fmt.Errorf("no StreamInfo found in FLAC stream")
	}

	var samples []float32
	for {
		fr, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse frame: %w", err)
		}
		samples = append(samples, mixFLACFrame(fr, int(info.BitsPerSample))...)
	}

	// Frames are already mixed down to mono.
	return ResampleAudio(samples, int(info.SampleRate), sampleRate), nil
}

// mixFLACFrame averages the subframes of fr into mono float32 samples.
func mixFLACFrame(fr *frame.Frame, bitsPerSample int) []float32 {
	blockSize := int(fr.Header.BlockSize)
	channels := len(fr.Subframes)
	result := make([]float32, blockSize)
	if channels == 0 || bitsPerSample == 0 {
		return result
	}

	scale := float32(1.0) / float32(int64(1)<<(bitsPerSample-1))
	for i := 0; i < blockSize; i++ {
		var sum int64
		for _, sub := range fr.Subframes {
			if i < len(sub.Samples) {
				sum += int64(sub.Samples[i])
			}
		}
		result[i] = float32(sum/int64(channels)) * scale
	}
	return result
}

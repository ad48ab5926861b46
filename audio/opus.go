// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package audio

import (
	"fmt"
	"io"
)

// Opus always runs at 48kHz internally; granule positions count in it.
const opusGranuleRate = 48000

// OpusFormat handles Ogg Opus files. Decoding lives in opus_cgo.go and
// opus_nocgo.go.
type OpusFormat struct{}

func (f *OpusFormat) Metadata(r io.ReadSeeker, size int64) (Metadata, error) {
	if err := rewind(r); err != nil {
		return Metadata{}, err
	}

	packets := &oggPackets{r: r}
	first, err := packets.next()
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read Opus stream: %w", err)
	}
	head, err := parseOpusHead(first)
	if err != nil {
		return Metadata{}, err
	}

	granule, err := lastGranule(r)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to scan Opus stream: %w", err)
	}
	var duration float64
	if samples := granule - head.preSkip; samples > 0 {
		duration = float64(samples) / opusGranuleRate
	}

	sampleRate := head.inputSampleRate
	if sampleRate == 0 {
		sampleRate = opusGranuleRate
	}

	return Metadata{
		Format:       "OPUS",
		Codec:        CodecOpus,
		SampleRate:   sampleRate,
		Channels:     head.channels,
		BitDepth:     16,
		Duration:     duration,
		OriginalSize: size,
		Bitrate:      bitrateKbps(size, duration),
	}, nil
}

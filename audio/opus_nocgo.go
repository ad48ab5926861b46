//go:build !cgo

// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package audio

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/pion/opus"
)

// 20ms at 48kHz
const opusFrameSize = 960

// Samples decodes with the pure Go pion decoder. It only understands SILK
// frames, which covers typical voice recordings.
func (f *OpusFormat) Samples(r io.ReadSeeker, sampleRate int) ([]float32, error) {
	if err := rewind(r); err != nil {
		return nil, err
	}

	packets := &oggPackets{r: r}
	// OpusHead, then OpusTags.
	for i := 0; i < 2; i++ {
		if _, err := packets.next(); err != nil {
			return nil, fmt.Errorf("failed to read Opus headers: %w", err)
		}
	}

	decoder := opus.NewDecoder()
	out := make([]byte, opusFrameSize*2)
	var pcm []float32
	var skipped int
	for {
		packet, err := packets.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(packet) == 0 {
			continue
		}

		if _, _, err := decoder.Decode(packet, out); err != nil {
			skipped++
			continue
		}
		for i := 0; i < opusFrameSize; i++ {
			sample := int16(out[i*2]) | int16(out[i*2+1])<<8
			pcm = append(pcm, float32(sample)/32768.0)
		}
	}

	if skipped > 0 {
		slog.Debug("skipped undecodable opus packets", "count", skipped)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("no valid Opus frames decoded")
	}
	return ResampleAudio(pcm, 48000, sampleRate), nil
}

//go:build cgo

// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package audio

import (
	"fmt"
	"io"

	oggopus "github.com/altager/oggopus"
	"layeh.com/gopus"
)

// Decoder frame size: 120ms at 48kHz, the largest Opus frame.
const opusMaxFrameSize = 5760

// Samples decodes with libopus through gopus.
func (f *OpusFormat) Samples(r io.ReadSeeker, sampleRate int) ([]float32, error) {
	if err := rewind(r); err != nil {
		return nil, err
	}
	dec, err := oggopus.NewOpusReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create oggopus OpusReader: %w", err)
	}

	var pcm []float32
	var decoder *gopus.Decoder
	for {
		packet, err := dec.NextPacket()
		if err != nil {
			break
		}

		if decoder == nil {
			decoder, err = gopus.NewDecoder(int(dec.InputSampleRate), int(dec.ChannelCount))
			if err != nil {
				return nil, fmt.Errorf("failed to create Opus decoder: %w", err)
			}
		}

		output, err := decoder.Decode(packet.PacketData, opusMaxFrameSize, false)
		if err != nil {
			continue
		}

		frame := make([]float32, len(output))
		for i, s := range output {
			frame[i] = float32(s) / 32768.0
		}
		pcm = append(pcm, ConvertToMono(frame, int(dec.ChannelCount))...)
	}

	if len(pcm) == 0 {
		return nil, fmt.Errorf("no valid Opus frames decoded")
	}
	return ResampleAudio(pcm, int(dec.InputSampleRate), sampleRate), nil
}

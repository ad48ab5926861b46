// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package audio

import (
	"fmt"
	"io"

	"github.com/Comcast/gaad"
)

// AACFormat handles raw ADTS AAC streams. Only the header is parsed; the
// command engine hands these to ffmpeg for decoding.
type AACFormat struct{}

func (f *AACFormat) Metadata(r io.ReadSeeker, size int64) (Metadata, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read AAC file: %w", err)
	}

	adts, err := gaad.ParseADTS(data)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to parse ADTS: %w", err)
	}

	channels := int(adts.ChannelConfiguration)
	if channels == 0 {
		channels = 1
	}

	var duration float64
	if adts.Bitrate > 0 {
		duration = float64(size*8) / float64(adts.Bitrate)
	}

	codec := "AAC"
	if int(adts.Profile) < len(gaad.AACProfileType) {
		codec = gaad.AACProfileType[adts.Profile]
	}

	return Metadata{
		Format:       "AAC",
		Codec:        codec,
		SampleRate:   int(adts.SamplingFrequency),
		Channels:     channels,
		BitDepth:     16,
		Duration:     duration,
		OriginalSize: size,
		Bitrate:      int(adts.Bitrate),
	}, nil
}

func (f *AACFormat) Samples(r io.ReadSeeker, sampleRate int) ([]float32, error) {
	return nil, fmt.Errorf("%w: AAC decoding needs the command engine", ErrUnsupported)
}

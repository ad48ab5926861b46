// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

// Package audio inspects and decodes the audio containers the dashboard accepts.
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned for files no decoder handles.
var ErrUnsupported = errors.New("unsupported audio format")

// Metadata describes an audio file.
type Metadata struct {
	Format       string  `json:"format"`
	Codec        string  `json:"codec"`
	SampleRate   int     `json:"sample_rate"`
	Channels     int     `json:"channels"`
	BitDepth     int     `json:"bit_depth"`
	Duration     float64 `json:"duration_seconds"`
	OriginalSize int64   `json:"original_size_bytes"`
	Bitrate      int     `json:"bitrate_kbps,omitempty"`
}

// Decoder reads one container/codec combination.
type Decoder interface {
	Metadata(r io.ReadSeeker, size int64) (Metadata, error)
	// Samples decodes to mono float32 in [-1, 1] at sampleRate.
	Samples(r io.ReadSeeker, sampleRate int) ([]float32, error)
}

// Lookup picks the decoder for a file from its extension. OGG files are
// sniffed to tell Vorbis from Opus.
func Lookup(filename string, r io.ReadSeeker) (Decoder, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".wav", ".wave":
		return &WAVFormat{}, nil
	case ".mp3":
		return &MP3Format{}, nil
	case ".flac":
		return &FLACFormat{}, nil
	case ".aac":
		return &AACFormat{}, nil
	case ".opus":
		return &OpusFormat{}, nil
	case ".ogg", ".oga":
		codec, err := DetectOggCodec(r)
		if err != nil {
			return nil, err
		}
		switch codec {
		case CodecVorbis:
			return &VorbisFormat{}, nil
		case CodecOpus:
			return &OpusFormat{}, nil
		}
		return nil, fmt.Errorf("%w: ogg codec %s", ErrUnsupported, codec)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, ext)
}

// Probe returns the metadata of the audio file at path.
func Probe(path string) (Metadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return Metadata{}, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Metadata{}, err
	}

	dec, err := Lookup(path, file)
	if err != nil {
		return Metadata{}, err
	}
	return dec.Metadata(file, info.Size())
}

// LoadSamples decodes the audio file at path to mono samples at sampleRate.
func LoadSamples(path string, sampleRate int) ([]float32, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	dec, err := Lookup(path, file)
	if err != nil {
		return nil, err
	}
	return dec.Samples(file, sampleRate)
}

// ConvertToMono averages interleaved channels.
func ConvertToMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	monoSamples := make([]float32, len(samples)/channels)
	for i := 0; i < len(monoSamples); i++ {
		sum := float32(0)
		for ch := 0; ch < channels; ch++ {
			sum += samples[i*channels+ch]
		}
		monoSamples[i] = sum / float32(channels)
	}
	return monoSamples
}

// ResampleAudio resamples using linear interpolation.
func ResampleAudio(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(float64(len(samples)) / ratio)
	resampled := make([]float32, outLen)

	for i := range resampled {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			resampled[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		resampled[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}

	return resampled
}

func bitrateKbps(size int64, duration float64) int {
	if duration <= 0 {
		return 0
	}
	return int(float64(size*8) / duration / 1000)
}

func rewind(r io.Seeker) error {
	_, err := r.Seek(0, io.SeekStart)
	return err
}

// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	CodecVorbis = "Vorbis"
	CodecOpus   = "Opus"
)

var (
	// OGG capture pattern: "OggS"
	oggCapturePattern = []byte("OggS")
	// Vorbis identification header begins with \x01vorbis
	vorbisHeader = []byte{0x01, 0x76, 0x6f, 0x72, 0x62, 0x69, 0x73}
	// Opus identification header begins with "OpusHead"
	opusHeader = []byte("OpusHead")
)

const oggPageHeaderSize = 27

type oggPage struct {
	granule  int64
	segments []byte
	data     []byte
}

// readOggPage reads the next page. io.EOF is returned cleanly at the end of the stream.
func readOggPage(r io.Reader) (*oggPage, error) {
	header := make([]byte, oggPageHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read OGG page header: %w", err)
	}
	if !bytes.Equal(header[:4], oggCapturePattern) {
		return nil, fmt.Errorf("not an OGG page (got %x, expected %x)", header[:4], oggCapturePattern)
	}

	page := &oggPage{
		granule:  int64(binary.LittleEndian.Uint64(header[6:14])),
		segments: make([]byte, int(header[26])),
	}
	if _, err := io.ReadFull(r, page.segments); err != nil {
		return nil, fmt.Errorf("failed to read segment table: %w", err)
	}

	var size int
	for _, s := range page.segments {
		size += int(s)
	}
	page.data = make([]byte, size)
	if _, err := io.ReadFull(r, page.data); err != nil {
		return nil, fmt.Errorf("failed to read page data: %w", err)
	}
	return page, nil
}

// oggPackets splits an OGG stream into packets, joining lacing values that
// continue across segments and pages.
type oggPackets struct {
	r       io.Reader
	pending [][]byte
	partial []byte
}

func (p *oggPackets) next() ([]byte, error) {
	for len(p.pending) == 0 {
		page, err := readOggPage(p.r)
		if err != nil {
			return nil, err
		}
		offset := 0
		for _, seg := range page.segments {
			p.partial = append(p.partial, page.data[offset:offset+int(seg)]...)
			offset += int(seg)
			if seg < 255 {
				p.pending = append(p.pending, p.partial)
				p.partial = nil
			}
		}
	}
	packet := p.pending[0]
	p.pending = p.pending[1:]
	return packet, nil
}

// DetectOggCodec inspects the first page of an OGG stream and restores the
// read position afterwards.
func DetectOggCodec(r io.ReadSeeker) (string, error) {
	startPos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", err
	}
	defer r.Seek(startPos, io.SeekStart)

	page, err := readOggPage(r)
	if err != nil {
		return "", fmt.Errorf("failed to detect OGG codec: %w", err)
	}

	switch {
	case bytes.HasPrefix(page.data, vorbisHeader):
		return CodecVorbis, nil
	case bytes.HasPrefix(page.data, opusHeader):
		return CodecOpus, nil
	case bytes.Contains(page.data, vorbisHeader[1:]):
		return CodecVorbis, nil
	case bytes.Contains(page.data, opusHeader):
		return CodecOpus, nil
	}
	return "", fmt.Errorf("%w: unknown OGG codec (first page size: %d bytes)", ErrUnsupported, len(page.data))
}

// opusHead is the identification header of an Ogg Opus stream.
type opusHead struct {
	channels        int
	preSkip         int64
	inputSampleRate int
}

func parseOpusHead(packet []byte) (opusHead, error) {
	if len(packet) < 19 || !bytes.HasPrefix(packet, opusHeader) {
		return opusHead{}, fmt.Errorf("missing OpusHead packet")
	}
	return opusHead{
		channels:        int(packet[9]),
		preSkip:         int64(binary.LittleEndian.Uint16(packet[10:12])),
		inputSampleRate: int(binary.LittleEndian.Uint32(packet[12:16])),
	}, nil
}

// lastGranule walks every page and returns the final granule position.
func lastGranule(r io.Reader) (int64, error) {
	var granule int64
	for {
		page, err := readOggPage(r)
		if errors.Is(err, io.EOF) {
			return granule, nil
		}
		if err != nil {
			return 0, err
		}
		if page.granule >= 0 {
			granule = page.granule
		}
	}
}

// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestWAV writes seconds of a 440Hz tone.
func writeTestWAV(t *testing.T, dir string, sampleRate, channels int, seconds float64) string {
	t.Helper()
	path := filepath.Join(dir, "tone.wav")
	out, err := os.Create(path)
	require.NoError(t, err)
	defer out.Close()

	frames := int(float64(sampleRate) * seconds)
	data := make([]int, 0, frames*channels)
	for i := 0; i < frames; i++ {
		v := int(math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)) * 16000)
		for ch := 0; ch < channels; ch++ {
			data = append(data, v)
		}
	}

	enc := wav.NewEncoder(out, sampleRate, 16, channels, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	return path
}

// oggPageBytes builds a single OGG page. The CRC is left empty; the reader does not check it.
func oggPageBytes(granule int64, packets ...[]byte) []byte {
	var segments []byte
	var body []byte
	for _, p := range packets {
		n := len(p)
		for n >= 255 {
			segments = append(segments, 255)
			n -= 255
		}
		segments = append(segments, byte(n))
		body = append(body, p...)
	}

	header := make([]byte, oggPageHeaderSize)
	copy(header, oggCapturePattern)
	binary.LittleEndian.PutUint64(header[6:14], uint64(granule))
	header[26] = byte(len(segments))

	page := append(header, segments...)
	return append(page, body...)
}

func opusHeadPacket(channels int, preSkip uint16, rate uint32) []byte {
	p := make([]byte, 19)
	copy(p, opusHeader)
	p[8] = 1
	p[9] = byte(channels)
	binary.LittleEndian.PutUint16(p[10:12], preSkip)
	binary.LittleEndian.PutUint32(p[12:16], rate)
	return p
}

func TestWAVProbeAndSamples(t *testing.T) {
	path := writeTestWAV(t, t.TempDir(), 8000, 2, 1.5)

	meta, err := Probe(path)
	require.NoError(t, err)
	assert.Equal(t, "WAV", meta.Format)
	assert.Equal(t, "PCM", meta.Codec)
	assert.Equal(t, 8000, meta.SampleRate)
	assert.Equal(t, 2, meta.Channels)
	assert.Equal(t, 16, meta.BitDepth)
	assert.InDelta(t, 1.5, meta.Duration, 0.01)
	assert.NotZero(t, meta.Bitrate)

	samples, err := LoadSamples(path, 16000)
	require.NoError(t, err)
	assert.InDelta(t, 24000, len(samples), 2)
	for _, s := range samples[:200] {
		assert.True(t, s >= -1 && s <= 1, "sample out of range: %f", s)
	}
}

func TestDetectOggCodec(t *testing.T) {
	t.Run("Opus", func(t *testing.T) {
		r := bytes.NewReader(oggPageBytes(0, opusHeadPacket(1, 312, 16000)))
		codec, err := DetectOggCodec(r)
		require.NoError(t, err)
		assert.Equal(t, CodecOpus, codec)

		pos, _ := r.Seek(0, 1)
		assert.Equal(t, int64(0), pos, "read position restored")
	})

	t.Run("Vorbis", func(t *testing.T) {
		packet := append(append([]byte{}, vorbisHeader...), make([]byte, 23)...)
		codec, err := DetectOggCodec(bytes.NewReader(oggPageBytes(0, packet)))
		require.NoError(t, err)
		assert.Equal(t, CodecVorbis, codec)
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := DetectOggCodec(bytes.NewReader(oggPageBytes(0, []byte("FLAC-in-ogg?"))))
		assert.ErrorIs(t, err, ErrUnsupported)
	})

	t.Run("NotOgg", func(t *testing.T) {
		_, err := DetectOggCodec(bytes.NewReader(bytes.Repeat([]byte("x"), 64)))
		assert.Error(t, err)
	})
}

func TestOpusMetadata(t *testing.T) {
	var stream []byte
	stream = append(stream, oggPageBytes(0, opusHeadPacket(2, 312, 44100))...)
	stream = append(stream, oggPageBytes(0, []byte("OpusTags\x00\x00\x00\x00\x00\x00\x00\x00"))...)
	stream = append(stream, oggPageBytes(48000, make([]byte, 300))...)
	stream = append(stream, oggPageBytes(96312, make([]byte, 40))...)

	f := &OpusFormat{}
	meta, err := f.Metadata(bytes.NewReader(stream), int64(len(stream)))
	require.NoError(t, err)
	assert.Equal(t, "OPUS", meta.Format)
	assert.Equal(t, 2, meta.Channels)
	assert.Equal(t, 44100, meta.SampleRate)
	assert.InDelta(t, 2.0, meta.Duration, 0.0001)
}

func TestOggPacketsSpanPages(t *testing.T) {
	big := bytes.Repeat([]byte{7}, 600)
	// A 600 byte packet laced as 255+255+90, split across two pages.
	page1 := oggPageBytes(0, big[:510])
	page1[26] = 2
	page1 = append(page1[:oggPageHeaderSize+2], big[:510]...)
	page2 := oggPageBytes(10, big[510:], []byte("tail"))

	p := &oggPackets{r: bytes.NewReader(append(page1, page2...))}
	first, err := p.next()
	require.NoError(t, err)
	assert.Len(t, first, 600)
	second, err := p.next()
	require.NoError(t, err)
	assert.Equal(t, []byte("tail"), second)
}

func TestLookup(t *testing.T) {
	cases := map[string]any{
		"a.WAV":  &WAVFormat{},
		"a.mp3":  &MP3Format{},
		"a.flac": &FLACFormat{},
		"a.aac":  &AACFormat{},
		"a.opus": &OpusFormat{},
	}
	for name, want := range cases {
		dec, err := Lookup(name, nil)
		require.NoError(t, err, name)
		assert.IsType(t, want, dec, name)
	}

	dec, err := Lookup("voice.ogg", bytes.NewReader(oggPageBytes(0, opusHeadPacket(1, 0, 48000))))
	require.NoError(t, err)
	assert.IsType(t, &OpusFormat{}, dec)

	_, err = Lookup("notes.m4a", nil)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestAACSamplesUnsupported(t *testing.T) {
	_, err := (&AACFormat{}).Samples(bytes.NewReader(nil), 16000)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestConvertToMono(t *testing.T) {
	assert.Equal(t, []float32{0.5, -0.5}, ConvertToMono([]float32{1, 0, 0, -1}, 2))
	in := []float32{1, 2}
	assert.Equal(t, in, ConvertToMono(in, 1))
}

func TestResampleAudio(t *testing.T) {
	in := []float32{0, 1, 2, 3, 4, 5, 6, 7}
	out := ResampleAudio(in, 16000, 8000)
	assert.Equal(t, []float32{0, 2, 4, 6}, out)

	up := ResampleAudio([]float32{0, 1}, 8000, 16000)
	assert.Equal(t, []float32{0, 0.5, 1, 1}, up)

	assert.Equal(t, in, ResampleAudio(in, 16000, 16000))
}

func TestFixtureFormats(t *testing.T) {
	for _, name := range []string{"test.mp3", "test.flac", "test.ogg"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join("..", "test_fixtures", name)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				t.Skipf("Test fixture not found at %s - please add test fixture", path)
			}

			meta, err := Probe(path)
			require.NoError(t, err)
			assert.NotEmpty(t, meta.SampleRate)
			assert.NotEmpty(t, meta.Duration)

			samples, err := LoadSamples(path, 16000)
			require.NoError(t, err)
			assert.NotEmpty(t, samples)
		})
	}
}

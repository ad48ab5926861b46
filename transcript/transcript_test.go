// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package transcript

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() Transcript {
	return Transcript{
		Language: "en",
		Segments: []Segment{
			{Start: 0, End: 2500 * time.Millisecond, Text: " Hello there."},
			{Start: 2500 * time.Millisecond, End: time.Hour + 61*time.Second + 5*time.Millisecond, Text: " General\tKenobi."},
		},
	}
}

func render(t *testing.T, format string) string {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, format, sample()))
	return buf.String()
}

func TestWriteTXT(t *testing.T) {
	assert.Equal(t, "Hello there.\nGeneral\tKenobi.\n", render(t, "txt"))
}

func TestWriteSRT(t *testing.T) {
	want := "1\n00:00:00,000 --> 00:00:02,500\nHello there.\n\n" +
		"2\n00:00:02,500 --> 01:01:01,005\nGeneral\tKenobi.\n\n"
	assert.Equal(t, want, render(t, "srt"))
}

func TestWriteVTT(t *testing.T) {
	want := "WEBVTT\n\n" +
		"00:00:00.000 --> 00:00:02.500\nHello there.\n\n" +
		"00:00:02.500 --> 01:01:01.005\nGeneral\tKenobi.\n\n"
	assert.Equal(t, want, render(t, "vtt"))
}

func TestWriteTSV(t *testing.T) {
	want := "start\tend\ttext\n0\t2500\tHello there.\n2500\t3661005\tGeneral Kenobi.\n"
	assert.Equal(t, want, render(t, "tsv"))
}

func TestWriteJSON(t *testing.T) {
	var out jsonTranscript
	require.NoError(t, json.Unmarshal([]byte(render(t, "json")), &out))

	assert.Equal(t, "en", out.Language)
	assert.Equal(t, " Hello there. General\tKenobi.", out.Text)
	require.Len(t, out.Segments, 2)
	assert.Equal(t, 1, out.Segments[1].ID)
	assert.Equal(t, 2.5, out.Segments[1].Start)
}

func TestWriteUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Write(&buf, "docx", sample()))
}

func TestWriteAll(t *testing.T) {
	dir := t.TempDir()
	formats, err := WriteAll(dir, "abc", sample())
	require.NoError(t, err)
	assert.Equal(t, Formats, formats)

	for _, f := range Formats {
		_, err := os.Stat(filepath.Join(dir, "abc."+f))
		assert.NoError(t, err, f)
	}
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "files/abc", Base("files/abc.mp3"))
	assert.Equal(t, "abc.srt", FileFor("abc.mp3", "srt"))
	assert.Equal(t, []string{"a.txt", "a.json", "a.tsv", "a.srt", "a.vtt"}, SiblingPaths("a.wav"))
	assert.True(t, IsFormat("vtt"))
	assert.False(t, IsFormat("mp3"))
}

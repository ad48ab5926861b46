// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

// Package transcript renders transcription segments in the output formats
// the whisper command line tool produces, so both engines leave the same
// files next to the stored audio.
package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Formats lists every transcript format, in the order they are written.
var Formats = []string{"txt", "json", "tsv", "srt", "vtt"}

type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

type Transcript struct {
	Language string
	Segments []Segment
}

// Text joins all segment texts.
func (t Transcript) Text() string {
	var b strings.Builder
	for _, seg := range t.Segments {
		b.WriteString(seg.Text)
	}
	return b.String()
}

// IsFormat reports whether name is a known transcript format.
func IsFormat(name string) bool {
	for _, f := range Formats {
		if f == name {
			return true
		}
	}
	return false
}

// Base strips the extension from a stored audio name.
func Base(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// FileFor returns the name of the transcript in format next to the audio file path.
func FileFor(path, format string) string {
	return Base(path) + "." + format
}

// SiblingPaths lists the transcript files that may exist for an audio file.
func SiblingPaths(path string) []string {
	paths := make([]string, 0, len(Formats))
	for _, f := range Formats {
		paths = append(paths, FileFor(path, f))
	}
	return paths
}

// Write renders t in format to w.
func Write(w io.Writer, format string, t Transcript) error {
	switch format {
	case "txt":
		return writeTXT(w, t)
	case "json":
		return writeJSON(w, t)
	case "tsv":
		return writeTSV(w, t)
	case "srt":
		return writeSRT(w, t)
	case "vtt":
		return writeVTT(w, t)
	default:
		return fmt.Errorf("unknown transcript format %q", format)
	}
}

// WriteAll writes every format as dir/base.<format> and returns the formats written.
func WriteAll(dir, base string, t Transcript) ([]string, error) {
	written := make([]string, 0, len(Formats))
	for _, format := range Formats {
		path := filepath.Join(dir, base+"."+format)
		f, err := os.Create(path)
		if err != nil {
			return written, fmt.Errorf("failed to create %s: %w", path, err)
		}
		err = Write(f, format, t)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, format)
	}
	return written, nil
}

func writeTXT(w io.Writer, t Transcript) error {
	for _, seg := range t.Segments {
		if _, err := fmt.Fprintln(w, strings.TrimSpace(seg.Text)); err != nil {
			return err
		}
	}
	return nil
}

type jsonSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type jsonTranscript struct {
	Text     string        `json:"text"`
	Segments []jsonSegment `json:"segments"`
	Language string        `json:"language"`
}

func writeJSON(w io.Writer, t Transcript) error {
	out := jsonTranscript{
		Text:     t.Text(),
		Segments: make([]jsonSegment, 0, len(t.Segments)),
		Language: t.Language,
	}
	for i, seg := range t.Segments {
		out.Segments = append(out.Segments, jsonSegment{
			ID:    i,
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
			Text:  seg.Text,
		})
	}
	return json.NewEncoder(w).Encode(out)
}

func writeTSV(w io.Writer, t Transcript) error {
	if _, err := fmt.Fprintln(w, "start\tend\ttext"); err != nil {
		return err
	}
	for _, seg := range t.Segments {
		text := strings.ReplaceAll(strings.TrimSpace(seg.Text), "\t", " ")
		if _, err := fmt.Fprintf(w, "%d\t%d\t%s\n", seg.Start.Milliseconds(), seg.End.Milliseconds(), text); err != nil {
			return err
		}
	}
	return nil
}

func writeSRT(w io.Writer, t Transcript) error {
	for i, seg := range t.Segments {
		_, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n",
			i+1, timestamp(seg.Start, ","), timestamp(seg.End, ","), strings.TrimSpace(seg.Text))
		if err != nil {
			return err
		}
	}
	return nil
}

func writeVTT(w io.Writer, t Transcript) error {
	if _, err := fmt.Fprint(w, "WEBVTT\n\n"); err != nil {
		return err
	}
	for _, seg := range t.Segments {
		_, err := fmt.Fprintf(w, "%s --> %s\n%s\n\n",
			timestamp(seg.Start, "."), timestamp(seg.End, "."), strings.TrimSpace(seg.Text))
		if err != nil {
			return err
		}
	}
	return nil
}

// timestamp formats d as HH:MM:SS<sep>mmm.
func timestamp(d time.Duration, sep string) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, sep, ms)
}

// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TranscriptionJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whisperdashboard_transcription_jobs_total",
		Help: "Total number of finished transcription jobs",
	}, []string{"status", "engine"})

	TranscriptionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "whisperdashboard_transcription_duration_seconds",
		Help:    "Wall time spent on a transcription job",
		Buckets: prometheus.ExponentialBuckets(1, 2.0, 12), // 1s to ~34min
	}, []string{"engine"})

	InferenceTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "whisperdashboard_inference_seconds",
		Help:    "Time spent inside the in-process whisper model",
		Buckets: prometheus.ExponentialBuckets(0.1, 2.0, 14),
	}, []string{"engine"})

	AudioDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "whisperdashboard_audio_duration_seconds",
		Help:    "Duration of imported audio files",
		Buckets: prometheus.ExponentialBuckets(1, 2.0, 14), // 1s to ~4.5h
	}, []string{"format"})

	ImportRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whisperdashboard_import_requests_total",
		Help: "Total number of audio import requests",
	}, []string{"status"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "whisperdashboard_queue_pending",
		Help: "Transcriptions waiting for a worker",
	})

	RunningJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "whisperdashboard_jobs_running",
		Help: "Transcriptions currently being processed",
	})

	EventClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "whisperdashboard_event_clients",
		Help: "Connected websocket event subscribers",
	})
)

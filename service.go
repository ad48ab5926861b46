// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gauthier-th/whisper-dashboard/audio"
	"github.com/gauthier-th/whisper-dashboard/config"
	"github.com/gauthier-th/whisper-dashboard/engine"
	"github.com/gauthier-th/whisper-dashboard/events"
	"github.com/gauthier-th/whisper-dashboard/links"
	"github.com/gauthier-th/whisper-dashboard/metrics"
	"github.com/gauthier-th/whisper-dashboard/middleware"
	"github.com/gauthier-th/whisper-dashboard/scheduler"
	"github.com/gauthier-th/whisper-dashboard/store"
	"github.com/gauthier-th/whisper-dashboard/transcript"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const pageSize = 15

// Queue is the part of the scheduler the API drives.
type Queue interface {
	Trigger()
	Cancel(id int64) bool
	Stats(ctx context.Context) (scheduler.Stats, error)
}

type TranscriptionService struct {
	config    *config.Config
	store     *store.Store
	scheduler Queue
	links     links.Store
	events    *events.Hub
	logger    *slog.Logger
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// ImportRequest names an audio file dropped in the inbox directory.
type ImportRequest struct {
	Source   string `json:"source" binding:"required" example:"meetings/2025-03-01.mp3"`
	Language string `json:"language,omitempty" example:"en"`
	Filename string `json:"filename,omitempty" example:"Board meeting.mp3"`
}

type ListResponse struct {
	Items    []store.Transcription `json:"items"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
	Total    int                   `json:"total"`
}

type DownloadLinkResponse struct {
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in_seconds"`
}

func NewTranscriptionService(cfg *config.Config, st *store.Store, queue Queue, linkStore links.Store, hub *events.Hub) *TranscriptionService {
	return &TranscriptionService{
		config:    cfg,
		store:     st,
		scheduler: queue,
		links:     linkStore,
		events:    hub,
		logger:    slog.With("component", "api"),
	}
}

// @Summary     Queue an audio file for transcription
// @Description Move a file from the inbox directory into storage and queue it
// @Tags        transcription
// @Accept      json
// @Produce     json
// @Param       request body ImportRequest true "File to import"
// @Success     201 {object} store.Transcription
// @Failure     400 {object} ErrorResponse
// @Failure     404 {object} ErrorResponse
// @Failure     413 {object} ErrorResponse
// @Failure     500 {object} ErrorResponse
// @Security    BearerAuth
// @Router      /api/transcriptions [post]
func (s *TranscriptionService) ImportHandler(c *gin.Context) {
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.ImportRequests.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "source is required"})
		return
	}
	if !filepath.IsLocal(req.Source) {
		metrics.ImportRequests.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "source must be a path inside the inbox"})
		return
	}

	src := filepath.Join(s.config.Storage.InboxDir, req.Source)
	info, err := os.Stat(src)
	if errors.Is(err, os.ErrNotExist) {
		metrics.ImportRequests.WithLabelValues("not_found").Inc()
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "source file not found"})
		return
	}
	if err != nil {
		s.fail(c, "failed to stat source", err)
		return
	}
	if info.IsDir() {
		metrics.ImportRequests.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "source is a directory"})
		return
	}
	if info.Size() > s.config.MaxFileSizeBytes() {
		metrics.ImportRequests.WithLabelValues("too_large").Inc()
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: fmt.Sprintf("File too large. Maximum size is %dMB", s.config.Audio.MaxFileSize),
		})
		return
	}

	ext := strings.ToLower(filepath.Ext(src))
	mime, err := mimetype.DetectFile(src)
	if err != nil {
		s.fail(c, "failed to detect file type", err)
		return
	}

	// Duration is informational; whisper copes with formats we cannot read.
	var duration float64
	if meta, err := audio.Probe(src); err == nil {
		duration = meta.Duration
		metrics.AudioDuration.WithLabelValues(strings.TrimPrefix(ext, ".")).Observe(duration)
	} else {
		s.logger.Debug("could not read audio metadata", "file", req.Source, "error", err)
	}

	stored := uuid.NewString() + ext
	dst := filepath.Join(s.config.Storage.FilesDir, stored)
	if err := moveFile(src, dst); err != nil {
		s.fail(c, "failed to move file into storage", err)
		return
	}

	filename := req.Filename
	if filename == "" {
		filename = filepath.Base(req.Source)
	}
	t := &store.Transcription{
		Filename: filename,
		Path:     stored,
		Size:     info.Size(),
		Mimetype: mime.String(),
		Duration: duration,
		Language: engine.NormalizeLanguage(req.Language),
		Status:   store.StatusPending,
		Owner:    middleware.TokenFrom(c).UserID,
	}
	id, err := s.store.Create(c.Request.Context(), t)
	if err != nil {
		// Give the file back to the inbox so the import can be retried.
		if merr := moveFile(dst, src); merr != nil {
			s.logger.Error("failed to return file to inbox", "file", dst, "source", src, "error", merr)
		}
		s.fail(c, "failed to queue transcription", err)
		return
	}

	created, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		// The row is queued; answer with what was inserted.
		s.logger.Warn("failed to reload queued transcription", "id", id, "error", err)
		created = t
	}

	metrics.ImportRequests.WithLabelValues("success").Inc()
	s.logger.Info("transcription queued", "id", id, "file", filename, "mimetype", t.Mimetype, "owner", t.Owner)
	s.events.Publish(*created)
	s.scheduler.Trigger()
	c.JSON(http.StatusCreated, created)
}

// @Summary     List transcriptions
// @Description Newest first, 15 per page. Non-admins only see their own.
// @Tags        transcription
// @Produce     json
// @Param       page   query int    false "Page number, starting at 1"
// @Param       status query string false "Filter by status" Enums(pending, processing, done, error)
// @Success     200 {object} ListResponse
// @Failure     400 {object} ErrorResponse
// @Security    BearerAuth
// @Router      /api/transcriptions [get]
func (s *TranscriptionService) ListHandler(c *gin.Context) {
	page := 1
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "page must be a positive integer"})
			return
		}
		page = n
	}

	opts := store.ListOptions{Limit: pageSize, Offset: (page - 1) * pageSize}
	if v := c.Query("status"); v != "" {
		switch st := store.Status(v); st {
		case store.StatusPending, store.StatusProcessing, store.StatusDone, store.StatusError:
			opts.Status = st
		default:
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("unknown status %q", v)})
			return
		}
	}
	if viewer := middleware.TokenFrom(c); !viewer.Admin {
		// An empty owner would disable the filter.
		if viewer.UserID == "" {
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied"})
			return
		}
		opts.Owner = viewer.UserID
	}

	items, err := s.store.List(c.Request.Context(), opts)
	if err != nil {
		s.fail(c, "failed to list transcriptions", err)
		return
	}
	total, err := s.store.Count(c.Request.Context(), opts)
	if err != nil {
		s.fail(c, "failed to count transcriptions", err)
		return
	}
	if items == nil {
		items = []store.Transcription{}
	}

	c.JSON(http.StatusOK, ListResponse{Items: items, Page: page, PageSize: pageSize, Total: total})
}

// @Summary     Get a transcription
// @Tags        transcription
// @Produce     json
// @Param       id path int true "Transcription ID"
// @Success     200 {object} store.Transcription
// @Failure     400 {object} ErrorResponse
// @Failure     403 {object} ErrorResponse
// @Failure     404 {object} ErrorResponse
// @Security    BearerAuth
// @Router      /api/transcriptions/{id} [get]
func (s *TranscriptionService) GetHandler(c *gin.Context) {
	t, ok := s.loadOwned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, t)
}

// @Summary     Delete a transcription
// @Description Stops the job if it is running and removes the audio and transcripts
// @Tags        transcription
// @Param       id path int true "Transcription ID"
// @Success     204
// @Failure     400 {object} ErrorResponse
// @Failure     403 {object} ErrorResponse
// @Failure     404 {object} ErrorResponse
// @Security    BearerAuth
// @Router      /api/transcriptions/{id} [delete]
func (s *TranscriptionService) DeleteHandler(c *gin.Context) {
	t, ok := s.loadOwned(c)
	if !ok {
		return
	}

	if s.scheduler.Cancel(t.ID) {
		s.logger.Info("cancelled running transcription", "id", t.ID)
	}
	if err := s.store.Delete(c.Request.Context(), t.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "transcription not found"})
			return
		}
		s.fail(c, "failed to delete transcription", err)
		return
	}

	files := append([]string{t.Path}, transcript.SiblingPaths(t.Path)...)
	for _, name := range files {
		p := filepath.Join(s.config.Storage.FilesDir, name)
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove file", "file", p, "error", err)
		}
	}

	s.logger.Info("transcription deleted", "id", t.ID)
	s.events.PublishDeleted(*t)
	c.Status(http.StatusNoContent)
}

// @Summary     Create a download link
// @Description Returns a short-lived URL that downloads the audio without a token
// @Tags        transcription
// @Produce     json
// @Param       id path int true "Transcription ID"
// @Success     200 {object} DownloadLinkResponse
// @Failure     403 {object} ErrorResponse
// @Failure     404 {object} ErrorResponse
// @Security    BearerAuth
// @Router      /api/transcriptions/{id}/download [get]
func (s *TranscriptionService) DownloadLinkHandler(c *gin.Context) {
	t, ok := s.loadOwned(c)
	if !ok {
		return
	}

	token, err := s.links.Issue(c.Request.Context(), t.ID)
	if err != nil {
		s.fail(c, "failed to create download link", err)
		return
	}
	c.JSON(http.StatusOK, DownloadLinkResponse{
		URL:       path.Join(s.config.API.BasePath, "/api/transcriptions/file", token),
		ExpiresIn: s.config.Downloads.LinkTTL,
	})
}

// @Summary     Download audio or a transcript
// @Description Append a format (txt, json, tsv, srt, vtt) to get a transcript instead of the audio
// @Tags        transcription
// @Produce     octet-stream
// @Param       token  path string true  "Download link token"
// @Param       format path string false "Transcript format"
// @Success     200 {file} file
// @Failure     400 {object} ErrorResponse
// @Failure     404 {object} ErrorResponse
// @Failure     410 {object} ErrorResponse
// @Router      /api/transcriptions/file/{token}/{format} [get]
func (s *TranscriptionService) FileHandler(c *gin.Context) {
	id, err := s.links.Resolve(c.Request.Context(), c.Param("token"))
	if errors.Is(err, links.ErrLinkExpired) {
		c.JSON(http.StatusGone, ErrorResponse{Error: "download link expired"})
		return
	}
	if err != nil {
		s.fail(c, "failed to resolve download link", err)
		return
	}

	t, err := s.store.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "transcription not found"})
		return
	}
	if err != nil {
		s.fail(c, "failed to load transcription", err)
		return
	}

	format := c.Param("format")
	if format == "" {
		s.serveFile(c, t.Path, t.Filename)
		return
	}
	if !transcript.IsFormat(format) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("unknown format %q", format)})
		return
	}
	if !hasFormat(t, format) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "transcript not available"})
		return
	}
	s.serveFile(c, transcript.FileFor(t.Path, format), transcript.FileFor(t.Filename, format))
}

// @Summary     Live transcription updates
// @Description Websocket streaming {"type":"transcription","transcription":{...}} on every change
// @Tags        transcription
// @Param       access_token query string false "Bearer token for clients that cannot set headers"
// @Success     101
// @Security    BearerAuth
// @Router      /api/transcriptions/events [get]
func (s *TranscriptionService) EventsHandler(c *gin.Context) {
	viewer := middleware.TokenFrom(c)
	if err := s.events.ServeWS(c.Writer, c.Request, viewer); err != nil {
		// The upgrader has already answered the request.
		s.logger.Debug("websocket upgrade failed", "error", err)
	}
}

// @Summary     Scheduler status
// @Tags        scheduler
// @Produce     json
// @Success     200 {object} scheduler.Stats
// @Security    BearerAuth
// @Router      /api/scheduler [get]
func (s *TranscriptionService) SchedulerHandler(c *gin.Context) {
	stats, err := s.scheduler.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, "failed to read scheduler state", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// loadOwned fetches the row named by :id and checks the caller may see it.
func (s *TranscriptionService) loadOwned(c *gin.Context) (*store.Transcription, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid transcription id"})
		return nil, false
	}

	t, err := s.store.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "transcription not found"})
		return nil, false
	}
	if err != nil {
		s.fail(c, "failed to load transcription", err)
		return nil, false
	}
	if !middleware.TokenFrom(c).CanAccess(t.Owner) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied"})
		return nil, false
	}
	return t, true
}

func (s *TranscriptionService) serveFile(c *gin.Context, name, downloadName string) {
	p := filepath.Join(s.config.Storage.FilesDir, name)
	if _, err := os.Stat(p); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "file not found"})
		return
	}
	c.FileAttachment(p, downloadName)
}

func (s *TranscriptionService) fail(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, "error", err, "path", c.FullPath())
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: msg})
}

func hasFormat(t *store.Transcription, format string) bool {
	for _, f := range t.Result {
		if f == format {
			return true
		}
	}
	return false
}

// moveFile renames src to dst, copying when they sit on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

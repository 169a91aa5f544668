// Package pipeline drives the per-message analysis sequence: filter image
// attachments, fetch bytes, classify, reply in-channel, archive to Drive,
// and append the audit row.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/imagesentry/imagesentry/internal/channel"
	"github.com/imagesentry/imagesentry/internal/ledger"
	"github.com/imagesentry/imagesentry/internal/metrics"
)

// replyTemplate is the only message the bot ever sends about an analysis.
// Failures are logged, never surfaced to the channel.
const replyTemplate = "The image was analyzed and determined to be: %s"

// imageExtensions is the set of attachment extensions accepted for analysis.
var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
}

// IsImage reports whether the filename carries an accepted image extension.
// The check is case-insensitive.
func IsImage(filename string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Detector classifies image bytes and returns the provider verdict.
type Detector interface {
	Detect(ctx context.Context, filename string, data []byte) (string, error)
}

// Archiver uploads a local file under a remote name and returns its id.
type Archiver interface {
	Upload(ctx context.Context, localPath, remoteName string) (string, error)
}

// Appender appends audit rows to the ledger.
type Appender interface {
	Append(ctx context.Context, rows [][]any) error
}

// Dispatcher runs prefix commands after attachment handling.
type Dispatcher interface {
	Dispatch(ctx context.Context, sender channel.Sender, msg channel.InboundMessage) error
}

// Config carries the pipeline policy knobs.
type Config struct {
	// ContinueOnUploadFailure keeps going to the ledger append when the
	// Drive upload fails, matching the source system's fire-and-forget
	// handling. Set false to abort the attachment instead.
	ContinueOnUploadFailure bool
	MaxConcurrentMessages   int64
	MaxConcurrentGoogle     int64
	MaxImageBytes           int64
	// HTTPClient fetches attachment bytes. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Pipeline orchestrates the three external calls per image attachment with
// per-attachment error containment.
type Pipeline struct {
	logger     *slog.Logger
	httpClient *http.Client
	detector   Detector
	archiver   Archiver
	appender   Appender
	sender     channel.Sender

	commands Dispatcher
	metrics  *metrics.Metrics

	continueOnUploadFailure bool
	maxImageBytes           int64

	// Blocking SDK calls share a bounded pool per dependency so a slow
	// dependency cannot absorb every handler goroutine.
	messageSem *semaphore.Weighted
	googleSem  *semaphore.Weighted
}

// New creates a pipeline. Detector, archiver, appender, and sender are
// required; commands and metrics attach through setters.
func New(log *slog.Logger, detector Detector, archiver Archiver, appender Appender, sender channel.Sender, cfg Config) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	maxMessages := cfg.MaxConcurrentMessages
	if maxMessages <= 0 {
		maxMessages = 8
	}
	maxGoogle := cfg.MaxConcurrentGoogle
	if maxGoogle <= 0 {
		maxGoogle = 4
	}
	maxImageBytes := cfg.MaxImageBytes
	if maxImageBytes <= 0 {
		maxImageBytes = 25 * 1024 * 1024
	}

	return &Pipeline{
		logger:                  log.With(slog.String("component", "pipeline")),
		httpClient:              httpClient,
		detector:                detector,
		archiver:                archiver,
		appender:                appender,
		sender:                  sender,
		continueOnUploadFailure: cfg.ContinueOnUploadFailure,
		maxImageBytes:           maxImageBytes,
		messageSem:              semaphore.NewWeighted(maxMessages),
		googleSem:               semaphore.NewWeighted(maxGoogle),
	}
}

// SetCommands attaches the command dispatcher invoked after attachment
// handling.
func (p *Pipeline) SetCommands(d Dispatcher) {
	p.commands = d
}

// SetMetrics attaches pipeline metrics.
func (p *Pipeline) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

// Handle processes one inbound message: every image attachment goes through
// the full analysis sequence, failures are contained per attachment, and the
// message is then offered to the command registry so ordinary commands keep
// working.
func (p *Pipeline) Handle(ctx context.Context, msg channel.InboundMessage) error {
	if msg.Sender.Bot {
		return nil
	}

	if err := p.messageSem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire message slot: %w", err)
	}
	defer p.messageSem.Release(1)

	for _, att := range msg.Attachments {
		if !IsImage(att.Name) {
			continue
		}
		p.processImage(ctx, msg, att)
	}

	if p.commands != nil {
		if err := p.commands.Dispatch(ctx, p.sender, msg); err != nil {
			p.logger.Error("command dispatch failed",
				slog.String("message_id", msg.ID), slog.Any("error", err))
		}
	}
	return nil
}

// processImage runs the per-image sequence. Nothing escapes: every failure
// is logged here and the remaining attachments of the message still run.
func (p *Pipeline) processImage(ctx context.Context, msg channel.InboundMessage, att channel.Attachment) {
	log := p.logger.With(
		slog.String("trace_id", uuid.NewString()),
		slog.String("message_id", msg.ID),
		slog.String("attachment", att.Name),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("image handling panicked", slog.Any("panic", r))
		}
	}()

	if p.metrics != nil {
		p.metrics.ImagesSeen.Inc()
	}

	data, err := p.fetch(ctx, att.URL)
	if err != nil {
		p.countFailure("fetch")
		log.Error("fetch attachment failed", slog.Any("error", err))
		return
	}

	verdict, err := p.detect(ctx, att.Name, data)
	if err != nil {
		p.countFailure("detect")
		log.Error("detect image failed", slog.Any("error", err))
		return
	}

	reply := fmt.Sprintf(replyTemplate, strings.ToUpper(verdict))
	if err := p.sender.Send(ctx, msg.ReplyTarget, reply); err != nil {
		p.countFailure("reply")
		log.Error("send verdict reply failed", slog.Any("error", err))
		return
	}
	if p.metrics != nil {
		p.metrics.Verdicts.WithLabelValues(verdict).Inc()
	}

	if err := p.archive(ctx, att.Name, data); err != nil {
		p.countFailure("upload")
		log.Error("archive image failed", slog.Any("error", err))
		if !p.continueOnUploadFailure {
			return
		}
	}

	row := ledger.Row(msg.Sender.DisplayName, att.URL, verdict, msg.CreatedAt)
	if err := p.append(ctx, row); err != nil {
		p.countFailure("append")
		log.Error("append audit row failed", slog.Any("error", err))
		return
	}

	log.Info("image processed", slog.String("verdict", verdict))
}

// fetch downloads the attachment bytes. Any non-200 response counts as "no
// data" and aborts the attachment.
func (p *Pipeline) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	p.observe("attachment_fetch", start)
	if err != nil {
		return nil, fmt.Errorf("fetch attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("attachment fetch returned status %d", resp.StatusCode)
	}

	return readAllWithLimit(resp.Body, p.maxImageBytes)
}

func (p *Pipeline) detect(ctx context.Context, filename string, data []byte) (string, error) {
	start := time.Now()
	defer p.observe("detection", start)
	return p.detector.Detect(ctx, filename, data)
}

// archive spools the bytes to a temporary file, uploads it, and removes the
// temporary file whether or not the upload succeeded.
func (p *Pipeline) archive(ctx context.Context, name string, data []byte) error {
	tmp, err := os.CreateTemp("", "imagesentry-*"+strings.ToLower(filepath.Ext(name)))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := p.googleSem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire google slot: %w", err)
	}
	defer p.googleSem.Release(1)

	start := time.Now()
	defer p.observe("drive_upload", start)
	if _, err := p.archiver.Upload(ctx, tmpPath, name); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) append(ctx context.Context, row []any) error {
	if err := p.googleSem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire google slot: %w", err)
	}
	defer p.googleSem.Release(1)

	start := time.Now()
	defer p.observe("sheets_append", start)
	return p.appender.Append(ctx, [][]any{row})
}

func (p *Pipeline) countFailure(stage string) {
	if p.metrics != nil {
		p.metrics.StageFailures.WithLabelValues(stage).Inc()
	}
}

func (p *Pipeline) observe(dependency string, start time.Time) {
	if p.metrics != nil {
		p.metrics.ExternalCallDuration.WithLabelValues(dependency).Observe(time.Since(start).Seconds())
	}
}

func readAllWithLimit(reader io.Reader, maxBytes int64) ([]byte, error) {
	limited := &io.LimitedReader{R: reader, N: maxBytes + 1}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("attachment exceeds %d bytes", maxBytes)
	}
	return data, nil
}

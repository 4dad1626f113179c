package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"streamforge/internal/media"
	"streamforge/internal/models"
	"streamforge/internal/observability/metrics"
	"streamforge/internal/storage"
)

// Config assembles an Orchestrator. Store and Toolchain are required; every
// other field has a sensible default.
type Config struct {
	Store     storage.Repository
	Toolchain media.Toolchain

	// Queue carries submitted video IDs to the workers. When nil the
	// orchestrator owns an in-process queue sized by QueueSize and closes it
	// on shutdown; an externally supplied queue (Redis Streams in multi-node
	// deployments) is left open.
	Queue Queue

	// Workers is the number of goroutines draining the queue. Each worker
	// drives one video at a time through probe, ladder planning, and
	// rendition fan-out.
	Workers   int
	QueueSize int

	// EncodeConcurrency bounds simultaneous transcode runs across all
	// videos. Defaults to GOMAXPROCS capped at four, matching what a single
	// ffmpeg host sustains before encodes start starving each other.
	EncodeConcurrency int

	// RetryAttempts caps how often one rendition is attempted when failures
	// are transient. Delays grow by a factor of four from RetryBaseDelay up
	// to RetryMaxDelay.
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// StageTimeout bounds each toolchain invocation: probe, transcode,
	// segment, and thumbnail capture individually.
	StageTimeout time.Duration

	// SegmentSeconds is the nominal chunk duration handed to the segmenter.
	SegmentSeconds float64

	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

const (
	defaultWorkers        = 2
	defaultQueueSize      = 64
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 8 * time.Second
	defaultStageTimeout   = 30 * time.Minute
)

func defaultEncodeConcurrency() int {
	n := runtime.GOMAXPROCS(0)
	if n > 4 {
		return 4
	}
	if n < 1 {
		return 1
	}
	return n
}

// claimableStatuses are the video states Submit may take the processing
// lease from. Analyzing and processing are excluded so a second Submit while
// a run is live reports ErrPipelineActive instead of restarting the work.
var claimableStatuses = []string{
	models.VideoStatusUploaded,
	models.VideoStatusReady,
	models.VideoStatusPartiallyReady,
	models.VideoStatusFailed,
}

// recoverableStatuses are the states a crashed run leaves behind.
var recoverableStatuses = []string{
	models.VideoStatusAnalyzing,
	models.VideoStatusProcessing,
}

// Orchestrator drives uploaded videos through probing, ladder planning,
// bounded-concurrency transcoding, segmenting, and terminal status
// reconciliation. One orchestrator per process; workers pull video IDs from
// the queue and renditions of a single video are encoded in parallel under
// the shared encode semaphore.
type Orchestrator struct {
	store          storage.Repository
	toolchain      media.Toolchain
	queue          Queue
	ownsQueue      bool
	workers        int
	attempts       int
	baseDelay      time.Duration
	maxDelay       time.Duration
	stageTimeout   time.Duration
	segmentSeconds float64
	encodeSem      *semaphore.Weighted
	logger         *slog.Logger
	metrics        *metrics.Recorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	active  map[string]context.CancelFunc
	started bool
}

func New(cfg Config) *Orchestrator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	concurrency := cfg.EncodeConcurrency
	if concurrency <= 0 {
		concurrency = defaultEncodeConcurrency()
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultRetryBaseDelay
	}
	maxDelay := cfg.RetryMaxDelay
	if maxDelay < baseDelay {
		maxDelay = defaultRetryMaxDelay
	}
	stageTimeout := cfg.StageTimeout
	if stageTimeout <= 0 {
		stageTimeout = defaultStageTimeout
	}
	segmentSeconds := cfg.SegmentSeconds
	if segmentSeconds <= 0 {
		segmentSeconds = storage.DefaultSegmentSeconds
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	queue := cfg.Queue
	ownsQueue := false
	if queue == nil {
		queue = NewMemoryQueue(queueSize)
		ownsQueue = true
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:          cfg.Store,
		toolchain:      cfg.Toolchain,
		queue:          queue,
		ownsQueue:      ownsQueue,
		workers:        workers,
		attempts:       attempts,
		baseDelay:      baseDelay,
		maxDelay:       maxDelay,
		stageTimeout:   stageTimeout,
		segmentSeconds: segmentSeconds,
		encodeSem:      semaphore.NewWeighted(int64(concurrency)),
		logger:         logger,
		metrics:        recorder,
		ctx:            ctx,
		cancel:         cancel,
		active:         make(map[string]context.CancelFunc),
	}
}

// Start launches the worker pool and requeues videos left mid-pipeline by a
// previous process. Calling Start twice is a no-op.
func (p *Orchestrator) Start() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	go p.recoverInterrupted()
}

// Shutdown cancels all in-flight runs and waits for the workers to drain,
// bounded by ctx. Interrupted videos stay in analyzing or processing and are
// reclaimed by the next Start.
func (p *Orchestrator) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if p.ownsQueue {
		return p.queue.Close()
	}
	return nil
}

// Submit takes the processing lease on a video and queues it for the
// workers. Videos already being analyzed or processed are rejected with
// storage.ErrPipelineActive; terminal videos are re-run from scratch.
func (p *Orchestrator) Submit(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("video id is required")
	}
	video, err := p.store.ClaimVideo(id, claimableStatuses, models.VideoStatusAnalyzing)
	if err != nil {
		return err
	}
	if err := p.enqueueJob(video.ID); err != nil {
		return err
	}
	p.metrics.ObservePipelineEvent("submitted")
	p.logger.Info("video queued for processing", "video_id", video.ID)
	return nil
}

// Cancel aborts the in-flight run for the given video, if any, and reports
// whether one was active. Workers observe the cancellation at the next stage
// boundary and write no further state for the video.
func (p *Orchestrator) Cancel(id string) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	cancel, ok := p.active[strings.TrimSpace(id)]
	p.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	p.logger.Info("pipeline run cancelled", "video_id", id)
	return true
}

// Queue exposes the job queue for health checks.
func (p *Orchestrator) Queue() Queue {
	return p.queue
}

func (p *Orchestrator) enqueueJob(id string) error {
	err := p.queue.Enqueue(p.ctx, Job{VideoID: id, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		err = fmt.Errorf("enqueue pipeline job: %w", err)
		p.failVideo(id, err)
	}
	return err
}

func (p *Orchestrator) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.queue.Jobs():
			if !ok {
				return
			}
			id := strings.TrimSpace(job.VideoID)
			if id == "" {
				continue
			}
			runCtx, ok := p.beginRun(id)
			if !ok {
				// Either a redelivered duplicate of the live run or a
				// resubmission racing the previous run's teardown. Bounce it
				// back instead of dropping: finished runs shed duplicates at
				// the terminal-status check.
				p.requeueLater(job)
				continue
			}
			p.processVideo(runCtx, id)
			p.finishRun(id)
		}
	}
}

// beginRun registers a cancellable context for the video so Cancel can reach
// it. Duplicate queue entries for a video already running are dropped.
func (p *Orchestrator) beginRun(id string) (context.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.active[id]; exists {
		return nil, false
	}
	runCtx, cancel := context.WithCancel(p.ctx)
	p.active[id] = cancel
	return runCtx, true
}

func (p *Orchestrator) finishRun(id string) {
	p.mu.Lock()
	cancel, ok := p.active[id]
	delete(p.active, id)
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

func (p *Orchestrator) requeueLater(job Job) {
	go func() {
		select {
		case <-p.ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
		if err := p.queue.Enqueue(p.ctx, job); err != nil {
			p.logger.Warn("failed to requeue duplicate job", "video_id", job.VideoID, "error", err)
		}
	}()
}

// recoverInterrupted requeues videos a previous process left in analyzing or
// processing. The claim resets their rendition plan so the run starts clean.
func (p *Orchestrator) recoverInterrupted() {
	if p.store == nil {
		return
	}
	for _, video := range p.store.StuckVideos() {
		select {
		case <-p.ctx.Done():
			return
		default:
		}
		if _, err := p.store.ClaimVideo(video.ID, recoverableStatuses, models.VideoStatusAnalyzing); err != nil {
			p.logger.Warn("failed to reclaim interrupted video", "video_id", video.ID, "error", err)
			continue
		}
		if err := p.enqueueJob(video.ID); err != nil {
			continue
		}
		p.metrics.ObservePipelineEvent("recovered")
		p.logger.Info("requeued interrupted video", "video_id", video.ID)
	}
}

func (p *Orchestrator) processVideo(ctx context.Context, id string) {
	if p.store == nil {
		return
	}
	video, ok := p.store.GetVideo(id)
	if !ok {
		p.logger.Warn("video removed before processing", "video_id", id)
		return
	}
	if models.VideoStatusTerminal(video.Status) {
		// Stale queue entry from a run that already finished.
		return
	}
	logger := p.logger.With("video_id", id)

	probe, err := p.probeSource(ctx, video)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.metrics.ObservePipelineEvent("probe_failed")
		p.failVideo(id, err)
		return
	}
	sourceProbe := models.SourceProbe{
		Duration:  probe.Duration,
		Width:     probe.Width,
		Height:    probe.Height,
		Codec:     probe.Codec,
		FrameRate: probe.FrameRate,
	}
	if _, err := p.store.UpdateVideo(id, storage.VideoUpdate{Probe: &sourceProbe}); err != nil {
		logger.Error("failed to store probe result", "error", err)
		return
	}
	logger.Info("source analyzed",
		"duration_seconds", probe.Duration,
		"resolution", sourceProbe.Resolution(),
		"codec", probe.Codec,
	)

	specs := media.PlanLadder(probe.Width, probe.Height)
	plan := make([]storage.CreateRenditionParams, 0, len(specs))
	for _, spec := range specs {
		plan = append(plan, storage.CreateRenditionParams{
			Quality:         spec.Quality,
			Width:           spec.Width,
			Height:          spec.Height,
			Bitrate:         spec.Bitrate,
			Codec:           spec.Codec,
			FrameRate:       float64(spec.FPS),
			SegmentDuration: p.segmentSeconds,
		})
	}
	renditions, err := p.store.CreateRenditions(id, plan)
	if err != nil {
		p.failVideo(id, fmt.Errorf("plan renditions: %w", err))
		return
	}
	processing := models.VideoStatusProcessing
	if _, err := p.store.UpdateVideo(id, storage.VideoUpdate{Status: &processing}); err != nil {
		logger.Error("failed to mark video processing", "error", err)
		return
	}

	p.captureThumbnails(ctx, video, probe)

	var wg sync.WaitGroup
	for i := range renditions {
		wg.Add(1)
		go func(rendition models.Rendition, spec media.QualitySpec) {
			defer wg.Done()
			p.processRendition(ctx, video, rendition, spec, probe.Duration)
		}(renditions[i], specs[i])
	}
	wg.Wait()

	p.reconcileVideo(ctx, id, logger)
}

func (p *Orchestrator) probeSource(ctx context.Context, video models.Video) (media.ProbeResult, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()
	probe, err := p.toolchain.Probe(stageCtx, video.SourceFile)
	if err != nil {
		return media.ProbeResult{}, fmt.Errorf("probe source: %w", err)
	}
	return probe, nil
}

// captureThumbnails grabs the poster set once per video. Failures are logged
// and swallowed; missing thumbnails never block playback.
func (p *Orchestrator) captureThumbnails(ctx context.Context, video models.Video, probe media.ProbeResult) {
	if _, _, err := p.store.GetThumbnail(video.ID, models.ThumbnailSizeSmall); err == nil {
		return
	}
	stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()
	set, err := p.toolchain.Thumbnails(stageCtx, video.SourceFile, media.ThumbnailOffset(probe.Duration))
	if err != nil {
		p.logger.Warn("thumbnail capture failed", "video_id", video.ID, "error", err)
		return
	}
	if _, err := p.store.PutThumbnails(video.ID, storage.PutThumbnailsParams{
		ContentType: set.ContentType,
		Small:       set.Small,
		Medium:      set.Medium,
		Large:       set.Large,
	}); err != nil {
		p.logger.Warn("failed to store thumbnails", "video_id", video.ID, "error", err)
	}
}

func (p *Orchestrator) processRendition(ctx context.Context, video models.Video, rendition models.Rendition, spec media.QualitySpec, sourceDuration float64) {
	if err := p.encodeSem.Acquire(ctx, 1); err != nil {
		return
	}
	defer p.encodeSem.Release(1)

	logger := p.logger.With("video_id", video.ID, "rendition_id", rendition.ID, "quality", rendition.Quality)
	p.metrics.TranscodeJobStarted(rendition.Quality)

	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if attempt > 1 {
			logger.Warn("retrying rendition", "attempt", attempt, "error", lastErr)
			if err := p.waitBackoff(ctx, attempt-1); err != nil {
				p.metrics.TranscodeJobFailed(rendition.Quality)
				return
			}
		}
		err := p.runRenditionAttempt(ctx, video, rendition, spec, sourceDuration)
		if err == nil {
			p.metrics.TranscodeJobCompleted(rendition.Quality)
			logger.Info("rendition ready", "attempts", attempt)
			return
		}
		if ctx.Err() != nil {
			// Cancelled or shutting down: leave the rendition as-is for the
			// next run to reset.
			p.metrics.TranscodeJobFailed(rendition.Quality)
			return
		}
		lastErr = err
		if !shouldRetry(err) {
			break
		}
	}
	p.metrics.TranscodeJobFailed(rendition.Quality)
	p.failRendition(rendition.ID, lastErr)
}

// retryableError marks a mid-attempt failure outside the toolchain, such as a
// scratch-dir or segment persist error, that the retry budget still covers.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

func markRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

func shouldRetry(err error) bool {
	var rErr *retryableError
	if errors.As(err, &rErr) {
		return true
	}
	return media.IsTransient(err)
}

// runRenditionAttempt performs one full encode-segment-store cycle in a
// scratch directory. Each stage gets its own timeout; stored segments from a
// failed earlier attempt are cleared before new ones land.
func (p *Orchestrator) runRenditionAttempt(ctx context.Context, video models.Video, rendition models.Rendition, spec media.QualitySpec, sourceDuration float64) error {
	workDir, err := os.MkdirTemp("", "streamforge-encode-*")
	if err != nil {
		return markRetryable(fmt.Errorf("create work dir: %w", err))
	}
	defer os.RemoveAll(workDir)

	if err := p.setRenditionStatus(rendition.ID, models.RenditionStatusEncoding); err != nil {
		return markRetryable(err)
	}
	encodedPath := filepath.Join(workDir, "encoded.mp4")
	transcodeCtx, cancelTranscode := context.WithTimeout(ctx, p.stageTimeout)
	err = p.toolchain.Transcode(transcodeCtx, video.SourceFile, spec, encodedPath)
	cancelTranscode()
	if err != nil {
		return fmt.Errorf("transcode %s: %w", rendition.Quality, err)
	}

	if err := p.setRenditionStatus(rendition.ID, models.RenditionStatusSegmenting); err != nil {
		return markRetryable(err)
	}
	chunkDir := filepath.Join(workDir, "chunks")
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return markRetryable(fmt.Errorf("create chunk dir: %w", err))
	}
	segmentCtx, cancelSegment := context.WithTimeout(ctx, p.stageTimeout)
	defer cancelSegment()
	chunks, err := p.toolchain.Segment(segmentCtx, encodedPath, rendition.SegmentDuration, chunkDir)
	if err != nil {
		return fmt.Errorf("segment %s: %w", rendition.Quality, err)
	}
	summary, err := storeSegments(segmentCtx, p.store, rendition.ID, chunks, sourceDuration, rendition.SegmentDuration)
	if err != nil {
		return markRetryable(err)
	}

	ready := models.RenditionStatusReady
	if _, err := p.store.UpdateRendition(rendition.ID, storage.RenditionUpdate{
		Status:       &ready,
		SegmentCount: &summary.Count,
		Duration:     &summary.Duration,
		TotalBytes:   &summary.TotalBytes,
		Error:        stringPtr(""),
	}); err != nil {
		return markRetryable(fmt.Errorf("mark rendition ready: %w", err))
	}
	return nil
}

// waitBackoff sleeps before a retry. The delay quadruples per failure from
// the base, capped at the maximum, and aborts early on cancellation.
func (p *Orchestrator) waitBackoff(ctx context.Context, failures int) error {
	delay := p.baseDelay
	for i := 1; i < failures; i++ {
		delay *= 4
		if delay >= p.maxDelay {
			delay = p.maxDelay
			break
		}
	}
	if delay > p.maxDelay {
		delay = p.maxDelay
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func (p *Orchestrator) setRenditionStatus(id, status string) error {
	if _, err := p.store.UpdateRendition(id, storage.RenditionUpdate{Status: &status}); err != nil {
		return fmt.Errorf("mark rendition %s: %w", status, err)
	}
	return nil
}

func (p *Orchestrator) failRendition(id string, cause error) {
	failed := models.RenditionStatusFailed
	message := "rendition failed"
	if cause != nil {
		message = strings.TrimSpace(cause.Error())
	}
	if _, err := p.store.UpdateRendition(id, storage.RenditionUpdate{Status: &failed, Error: &message}); err != nil {
		p.logger.Error("failed to mark rendition failed", "rendition_id", id, "error", err, "failure", cause)
		return
	}
	p.logger.Error("rendition failed", "rendition_id", id, "error", cause)
}

// reconcileVideo derives the video's terminal status from its rendition
// outcomes. Cancelled runs write nothing so the video stays claimable.
func (p *Orchestrator) reconcileVideo(ctx context.Context, id string, logger *slog.Logger) {
	if ctx.Err() != nil {
		return
	}
	renditions, err := p.store.ListRenditions(id)
	if err != nil {
		logger.Error("failed to list renditions", "error", err)
		return
	}
	ready := 0
	var failures []string
	for _, rendition := range renditions {
		if rendition.Status == models.RenditionStatusReady {
			ready++
		} else {
			failures = append(failures, rendition.Quality)
		}
	}

	status := models.VideoStatusFailed
	event := "video_failed"
	switch {
	case ready > 0 && len(failures) == 0:
		status = models.VideoStatusReady
		event = "video_ready"
	case ready > 0:
		status = models.VideoStatusPartiallyReady
		event = "video_partially_ready"
	}

	completedAt := time.Now().UTC()
	update := storage.VideoUpdate{Status: &status, CompletedAt: &completedAt}
	if len(failures) > 0 {
		message := fmt.Sprintf("renditions failed: %s", strings.Join(failures, ", "))
		update.Error = &message
	} else {
		update.Error = stringPtr("")
	}
	if _, err := p.store.UpdateVideo(id, update); err != nil {
		logger.Error("failed to finalize video", "error", err)
		return
	}
	p.metrics.ObservePipelineEvent(event)
	logger.Info("video processing finished",
		"status", status,
		"ready_renditions", ready,
		"total_renditions", len(renditions),
	)
}

func (p *Orchestrator) failVideo(id string, cause error) {
	failed := models.VideoStatusFailed
	message := strings.TrimSpace(cause.Error())
	completedAt := time.Now().UTC()
	if _, err := p.store.UpdateVideo(id, storage.VideoUpdate{
		Status:      &failed,
		Error:       &message,
		CompletedAt: &completedAt,
	}); err != nil {
		p.logger.Error("failed to mark video failed", "video_id", id, "error", err, "failure", cause)
		return
	}
	p.metrics.ObservePipelineEvent("video_failed")
	p.logger.Error("video processing failed", "video_id", id, "error", cause)
}

func stringPtr(s string) *string {
	return &s
}

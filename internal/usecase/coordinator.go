// Package usecase contains the chunk upload coordinator: the state machine
// that turns start/stop actions into capture cycles, websocket sends, and
// session store updates.
package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"micbridge/internal/audio"
	"micbridge/internal/domain"
	"micbridge/internal/ports"
	"micbridge/internal/protocol"
	"micbridge/internal/store"
)

var ErrNoActiveRecording = errors.New("no active recording session")

const (
	captureStartRetries = 3
	captureStartDelay   = 500 * time.Millisecond
	completeWait        = 4 * time.Second
	pumpReadSize        = 4096
)

// Config controls coordinator behavior. Zero values fall back to the
// documented defaults.
type Config struct {
	Audio    ports.AudioConfig
	Username string
	Language string

	// ChunkInterval is the period between chunk cuts.
	ChunkInterval time.Duration
	// BatteryThreshold forces a stop when a fresh read is at or below it.
	BatteryThreshold int
	// MinChunkBytes is the smallest PCM payload worth sending; shorter
	// cuts are skipped, never fatal.
	MinChunkBytes int
	// AckWait is how long an acknowledgment may lag before a miss is
	// logged. Misses never abort the session.
	AckWait time.Duration
	// ServerErrorBudget is how many server error frames are tolerated
	// before the session is force-stopped.
	ServerErrorBudget int
}

func (c Config) withDefaults() Config {
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = 20 * time.Second
	}
	if c.BatteryThreshold <= 0 {
		c.BatteryThreshold = 5
	}
	if c.MinChunkBytes <= 0 {
		c.MinChunkBytes = 3200 // 100ms of 16kHz mono s16le
	}
	if c.AckWait <= 0 {
		c.AckWait = 15 * time.Second
	}
	if c.ServerErrorBudget <= 0 {
		c.ServerErrorBudget = 3
	}
	return c
}

// Coordinator orchestrates recording sessions: one open channel and one
// capture stream at a time, driven by a fixed-period chunk ticker.
type Coordinator struct {
	capture ports.AudioCapture
	dialer  ports.ChannelDialer
	battery ports.BatteryReader
	store   *store.Store
	events  ports.EventSink
	cfg     Config
	logger  *zap.Logger

	mu      sync.Mutex
	current *activeRecording
}

func NewCoordinator(
	capture ports.AudioCapture,
	dialer ports.ChannelDialer,
	battery ports.BatteryReader,
	sessions *store.Store,
	events ports.EventSink,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		capture: capture,
		dialer:  dialer,
		battery: battery,
		store:   sessions,
		events:  events,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// Start opens the channel, performs the init handshake, starts capture, and
// creates the session record. A connect failure creates no session and
// resolves back to idle.
func (c *Coordinator) Start(ctx context.Context) error {
	previous := c.detach()
	restarted := previous != nil
	if restarted {
		c.finalize(context.Background(), previous, domain.ReasonStreamingRestarted)
	}

	c.events.StateChanged(domain.RecordingStateConnecting, domain.ReasonConnecting)

	sessionCtx, cancel := context.WithCancel(ctx)
	channel, err := c.dialer.Dial(sessionCtx)
	if err != nil {
		cancel()
		c.events.RecordingError(domain.ErrorCodeConnect, err.Error())
		c.events.StateChanged(domain.RecordingStateIdle, domain.ReasonConnectFailed)
		return err
	}

	if err := channel.Send(protocol.NewInitMessage(c.cfg.Username)); err != nil {
		_ = channel.Close()
		cancel()
		c.events.RecordingError(domain.ErrorCodeConnect, err.Error())
		c.events.StateChanged(domain.RecordingStateIdle, domain.ReasonConnectFailed)
		return err
	}

	audioSession, err := c.startCapture(sessionCtx)
	if err != nil {
		_ = channel.Close()
		cancel()
		c.events.RecordingError(domain.ErrorCodeCaptureStart, err.Error())
		c.events.StateChanged(domain.RecordingStateIdle, domain.ReasonConnectFailed)
		return err
	}

	// A fresh recording starts with a fresh transcript.
	c.store.ClearTranscript()

	startBattery := c.readBattery()
	session := c.store.CreateSession(store.CreateParams{
		Username:      c.cfg.Username,
		StartBattery:  startBattery,
		ChunkInterval: c.cfg.ChunkInterval,
	})

	rec := &activeRecording{
		sessionID:  session.ID,
		cancel:     cancel,
		audio:      audioSession,
		channel:    channel,
		buf:        &chunkBuffer{},
		state:      domain.RecordingStateStreaming,
		stopCh:     make(chan struct{}),
		complete:   make(chan struct{}),
		pumpDone:   make(chan struct{}),
		loopDone:   make(chan struct{}),
		eventsDone: make(chan struct{}),
	}

	c.mu.Lock()
	c.current = rec
	c.mu.Unlock()

	go c.pumpAudio(rec)
	go c.runChunkLoop(rec)
	go c.consumeServerEvents(rec)

	reason := domain.ReasonStreamingStarted
	if restarted {
		reason = domain.ReasonStreamingRestarted
	}
	c.events.StateChanged(domain.RecordingStateStreaming, reason)
	c.logger.Info("recording started",
		zap.String("session_id", session.ID),
		zap.Duration("chunk_interval", c.cfg.ChunkInterval))
	return nil
}

// Stop ends the active recording and returns the finalized session record.
func (c *Coordinator) Stop(ctx context.Context) (domain.Session, error) {
	rec := c.detach()
	if rec == nil {
		return domain.Session{}, ErrNoActiveRecording
	}
	c.finalize(ctx, rec, domain.ReasonUserStopped)

	session, ok := c.store.Session(rec.sessionID)
	if !ok {
		return domain.Session{}, ErrNoActiveRecording
	}
	return session, nil
}

// Status reports the coordinator state for UI consumption.
func (c *Coordinator) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return domain.Status{State: domain.RecordingStateIdle}
	}
	state := c.current.getState()
	return domain.Status{
		State:     state,
		Active:    state != domain.RecordingStateIdle,
		SessionID: c.current.sessionID,
	}
}

// detach removes and returns the current recording so exactly one goroutine
// finalizes it; concurrent stop paths see nil.
func (c *Coordinator) detach() *activeRecording {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.current
	c.current = nil
	return rec
}

// forceStop is the shared path for low battery, channel loss, and repeated
// server errors. It is a no-op when rec is no longer current.
func (c *Coordinator) forceStop(rec *activeRecording, reason domain.RecordingStateReason) {
	c.mu.Lock()
	if c.current != rec {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), completeWait+time.Second)
	defer cancel()
	c.finalize(ctx, rec, reason)
}

// finalize drives Stopping back to Idle: cancel the ticker synchronously,
// stop capture, flush the last cut, send end, time-box the close handshake,
// close the channel, and finalize the store record. Every exit from
// streaming funnels through here so sessions never dangle.
func (c *Coordinator) finalize(ctx context.Context, rec *activeRecording, reason domain.RecordingStateReason) {
	rec.setState(domain.RecordingStateStopping)
	c.events.StateChanged(domain.RecordingStateStopping, reason)

	rec.signalStop()
	<-rec.loopDone

	if err := rec.audio.Stop(); err != nil {
		c.events.RecordingError(domain.ErrorCodeCaptureStop, err.Error())
	}
	<-rec.pumpDone

	// Final flush of whatever the last partial cycle captured.
	c.sendChunk(rec, rec.buf.Cut())

	if err := rec.channel.Send(protocol.NewEndMessage(rec.sessionID)); err != nil {
		c.logger.Warn("failed to send end message",
			zap.String("session_id", rec.sessionID), zap.Error(err))
	} else {
		select {
		case <-rec.complete:
		case <-time.After(completeWait):
			c.logger.Warn("close acknowledgment timed out",
				zap.String("session_id", rec.sessionID))
		case <-ctx.Done():
		}
	}

	rec.cancel()
	_ = rec.channel.Close()
	<-rec.eventsDone

	stopBattery := c.readBattery()
	if reason == domain.ReasonLowBattery {
		// Close anything active so nothing keeps recording on a dying
		// battery, even if the single-active invariant was broken.
		ended := c.store.EndActiveSessions(stopBattery)
		c.logger.Info("low battery cutover",
			zap.String("session_id", rec.sessionID),
			zap.Int("sessions_ended", ended))
	} else {
		c.store.EndSession(rec.sessionID, stopBattery)
	}

	rec.setState(domain.RecordingStateIdle)
	c.events.StateChanged(domain.RecordingStateIdle, domain.ReasonStopped)
}

func (c *Coordinator) startCapture(ctx context.Context) (ports.AudioSession, error) {
	var lastErr error
	for attempt := 1; attempt <= captureStartRetries; attempt++ {
		session, err := c.capture.Start(ctx, c.cfg.Audio)
		if err == nil {
			return session, nil
		}
		lastErr = err
		c.logger.Warn("capture start failed",
			zap.Int("attempt", attempt), zap.Error(err))

		if attempt == captureStartRetries {
			break
		}
		select {
		case <-time.After(captureStartDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// pumpAudio drains the capture stream into the chunk buffer.
func (c *Coordinator) pumpAudio(rec *activeRecording) {
	defer close(rec.pumpDone)

	p := make([]byte, pumpReadSize)
	for {
		n, err := rec.audio.Read(p)
		if n > 0 {
			_, _ = rec.buf.Write(p[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				c.events.RecordingError(domain.ErrorCodeCaptureRead, err.Error())
			}
			return
		}
	}
}

// runChunkLoop cuts and sends a chunk every ChunkInterval until stopped.
func (c *Coordinator) runChunkLoop(rec *activeRecording) {
	defer close(rec.loopDone)

	ticker := time.NewTicker(c.cfg.ChunkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rec.stopCh:
			return
		case <-ticker.C:
			c.checkAckLag(rec)
			c.sendChunk(rec, rec.buf.Cut())
		}
	}
}

// sendChunk frames a PCM cut as WAV and sends it at-most-once. Short cuts
// are skipped and send failures are dropped; the loop always moves on to the
// next scheduled chunk.
func (c *Coordinator) sendChunk(rec *activeRecording, pcm []byte) {
	if len(pcm) < c.cfg.MinChunkBytes {
		if len(pcm) > 0 {
			c.logger.Info("skipping short chunk",
				zap.String("session_id", rec.sessionID),
				zap.Int("bytes", len(pcm)))
		}
		return
	}

	rec.chunkID++
	wav := audio.EncodeWAV(pcm, c.cfg.Audio.SampleRate, c.cfg.Audio.Channels)
	msg := protocol.NewAudioMessage(rec.chunkID, base64.StdEncoding.EncodeToString(wav), c.cfg.Language)
	msg.SessionID = rec.sessionID
	msg.Timestamp = time.Now().UnixMilli()

	if err := rec.channel.Send(msg); err != nil {
		c.events.RecordingError(domain.ErrorCodeChunkSend, err.Error())
		c.logger.Warn("chunk dropped",
			zap.String("session_id", rec.sessionID),
			zap.Int("chunk_id", rec.chunkID),
			zap.Error(err))
		return
	}

	c.logger.Debug("chunk sent",
		zap.String("session_id", rec.sessionID),
		zap.Int("chunk_id", rec.chunkID),
		zap.Int("bytes", len(wav)))
}

// checkAckLag logs when acknowledgments fall behind sends for longer than
// AckWait. A lagging ack is a miss to log, not a reason to abort.
func (c *Coordinator) checkAckLag(rec *activeRecording) {
	session, ok := c.store.Session(rec.sessionID)
	if !ok || rec.chunkID == 0 || session.ChunksSent >= rec.chunkID {
		return
	}
	reference := session.LastChunkSent
	if reference.IsZero() {
		reference = session.StartTime
	}
	if time.Since(reference) > c.cfg.AckWait {
		c.logger.Warn("acknowledgment overdue",
			zap.String("session_id", rec.sessionID),
			zap.Int("last_acked", session.ChunksSent),
			zap.Int("last_sent", rec.chunkID))
	}
}

// consumeServerEvents applies server frames to the store until the channel
// closes. Stops triggered from here run on their own goroutine so the drain
// in finalize cannot deadlock against this loop.
func (c *Coordinator) consumeServerEvents(rec *activeRecording) {
	for msg := range rec.channel.Events() {
		switch msg.Type {
		case protocol.TypeInitialized:
			c.store.SetServerSession(rec.sessionID, msg.SessionID)
			c.logger.Info("session initialized",
				zap.String("session_id", rec.sessionID),
				zap.String("server_session_id", msg.SessionID),
				zap.Int("session_count", msg.SessionCount))

		case protocol.TypeAudioReceived:
			level := c.readBattery()
			c.store.UpdateChunkProgress(rec.sessionID, msg.Chunk, time.Now(), level)
			if level != nil && *level <= c.cfg.BatteryThreshold {
				c.logger.Warn("battery threshold reached",
					zap.String("session_id", rec.sessionID),
					zap.Int("level", *level),
					zap.Int("threshold", c.cfg.BatteryThreshold))
				go c.forceStop(rec, domain.ReasonLowBattery)
			}

		case protocol.TypeTranscription:
			entry := domain.TranscriptionEntry{
				Text:       msg.Text,
				ChunkID:    msg.ChunkID,
				ReceivedAt: time.Now(),
			}
			c.store.AppendTranscription(entry)
			c.events.Transcription(entry)

		case protocol.TypeSessionComplete:
			c.logger.Info("session complete acknowledged",
				zap.String("session_id", rec.sessionID),
				zap.Int("total_chunks", msg.TotalChunks))
			rec.signalComplete()

		case protocol.TypePong:
			c.logger.Debug("pong", zap.Int("chunk_id", msg.ChunkID))

		case protocol.TypeError:
			rec.serverErrs++
			c.events.RecordingError(domain.ErrorCodeServer, msg.Message)
			if rec.serverErrs >= c.cfg.ServerErrorBudget {
				c.logger.Warn("server error budget exhausted",
					zap.String("session_id", rec.sessionID),
					zap.Int("errors", rec.serverErrs))
				go c.forceStop(rec, domain.ReasonServerErrors)
			}
		}
	}

	close(rec.eventsDone)
	// The channel closed underneath us; if the recording is still live,
	// finalize it through the standard path.
	c.forceStop(rec, domain.ReasonChannelClosed)
}

// readBattery returns a fresh level or nil when unreadable. Reads are
// side-effect-free; the freshest read wins.
func (c *Coordinator) readBattery() *int {
	if c.battery == nil {
		return nil
	}
	info, err := c.battery.Read()
	if err != nil {
		c.logger.Debug("battery read failed", zap.Error(err))
		return nil
	}
	return &info.Level
}

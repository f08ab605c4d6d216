// Package store holds session records and the transcription log. All
// mutation goes through the defined operations; callers receive copies.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"micbridge/internal/domain"
)

// Store owns every Session and TranscriptionEntry record. Operations that
// reference a missing session id are logged no-ops, never errors, because
// updates can race with user-initiated clears.
type Store struct {
	mu         sync.Mutex
	order      []string
	sessions   map[string]*domain.Session
	transcript []domain.TranscriptionEntry
	logger     *zap.Logger
}

func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		sessions: make(map[string]*domain.Session),
		logger:   logger,
	}
}

// CreateParams describes a new recording session.
type CreateParams struct {
	Username      string
	StartBattery  *int
	ChunkInterval time.Duration
	StartTime     time.Time
}

// CreateSession deactivates any existing active session and appends a new
// active one, preserving the at-most-one-active invariant.
func (s *Store) CreateSession(p CreateParams) domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := p.StartTime
	if start.IsZero() {
		start = time.Now()
	}

	for _, id := range s.order {
		prev := s.sessions[id]
		if prev.IsActive {
			prev.IsActive = false
			s.logger.Info("deactivated previous session",
				zap.String("session_id", prev.ID))
		}
	}

	session := &domain.Session{
		ID:             newSessionID(),
		Username:       p.Username,
		StartTime:      start,
		StartBattery:   copyBattery(p.StartBattery),
		CurrentBattery: copyBattery(p.StartBattery),
		IsActive:       true,
		ChunkInterval:  p.ChunkInterval,
	}
	s.order = append(s.order, session.ID)
	s.sessions[session.ID] = session

	s.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.Duration("chunk_interval", session.ChunkInterval))
	return *session
}

// UpdateChunkProgress records an acknowledged chunk. Acknowledgments can
// arrive out of chunk order; a count that would regress ChunksSent is
// ignored.
func (s *Store) UpdateChunkProgress(id string, chunkCount int, at time.Time, battery *int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		s.logger.Warn("chunk progress for unknown session", zap.String("session_id", id))
		return
	}

	if chunkCount < session.ChunksSent {
		s.logger.Debug("ignoring stale chunk acknowledgment",
			zap.String("session_id", id),
			zap.Int("chunk", chunkCount),
			zap.Int("chunks_sent", session.ChunksSent))
	} else {
		session.ChunksSent = chunkCount
		session.LastChunkSent = at
	}
	if battery != nil {
		session.CurrentBattery = copyBattery(battery)
	}
}

// SetServerSession records the server-assigned session identity from the
// initialized handshake.
func (s *Store) SetServerSession(id string, serverSessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		s.logger.Warn("server session for unknown session", zap.String("session_id", id))
		return
	}
	session.ServerSessionID = serverSessionID
}

// EndSession finalizes a session. Ending an already-ended session is a
// no-op; an ended session is never reactivated in place.
func (s *Store) EndSession(id string, stopBattery *int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(id, stopBattery)
}

// EndActiveSessions finalizes every active session and returns how many it
// ended. The low-battery cutover uses it so that nothing stays active even
// if the single-active invariant was broken by a bug.
func (s *Store) EndActiveSessions(stopBattery *int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ended := 0
	for _, id := range s.order {
		if s.sessions[id].IsActive {
			s.endLocked(id, stopBattery)
			ended++
		}
	}
	return ended
}

func (s *Store) endLocked(id string, stopBattery *int) {
	session, ok := s.sessions[id]
	if !ok {
		s.logger.Warn("end for unknown session", zap.String("session_id", id))
		return
	}
	if !session.IsActive {
		return
	}
	session.IsActive = false
	if stopBattery != nil {
		session.StopBattery = copyBattery(stopBattery)
	}
	s.logger.Info("session ended",
		zap.String("session_id", id),
		zap.Int("chunks_sent", session.ChunksSent))
}

// AppendTranscription appends one recognized line, preserving arrival order.
func (s *Store) AppendTranscription(entry domain.TranscriptionEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now()
	}
	s.transcript = append(s.transcript, entry)
}

// Transcript returns a copy of the transcription log.
func (s *Store) Transcript() []domain.TranscriptionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.TranscriptionEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Sessions returns copies of all sessions in creation order.
func (s *Store) Sessions() []domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Session, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.sessions[id])
	}
	return out
}

// Session returns a copy of one session.
func (s *Store) Session(id string) (domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, false
	}
	return *session, true
}

// ActiveSession returns the active session, if any.
func (s *Store) ActiveSession() (domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		if s.sessions[id].IsActive {
			return *s.sessions[id], true
		}
	}
	return domain.Session{}, false
}

// ClearSessions removes every session record.
func (s *Store) ClearSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.sessions = make(map[string]*domain.Session)
}

// ClearHistory removes finished sessions, keeping any active one.
func (s *Store) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(func(session *domain.Session) bool { return !session.IsActive })
}

// ClearActive removes any active session without finalizing it.
func (s *Store) ClearActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(func(session *domain.Session) bool { return session.IsActive })
}

// ClearTranscript drops the transcription log.
func (s *Store) ClearTranscript() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = nil
}

func (s *Store) removeLocked(match func(*domain.Session) bool) {
	kept := s.order[:0]
	for _, id := range s.order {
		if match(s.sessions[id]) {
			delete(s.sessions, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

func copyBattery(level *int) *int {
	if level == nil {
		return nil
	}
	v := *level
	return &v
}

// newSessionID mirrors the server's session naming: a uuid truncated to
// eight characters.
func newSessionID() string {
	return uuid.NewString()[:8]
}

package store

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"micbridge/internal/domain"
)

func intPtr(v int) *int { return &v }

func activeCount(sessions []domain.Session) int {
	n := 0
	for _, s := range sessions {
		if s.IsActive {
			n++
		}
	}
	return n
}

func TestCreateSessionDeactivatesPrevious(t *testing.T) {
	t.Parallel()

	s := New(zaptest.NewLogger(t))
	first := s.CreateSession(CreateParams{Username: "a"})
	second := s.CreateSession(CreateParams{Username: "b"})

	sessions := s.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if activeCount(sessions) != 1 {
		t.Fatalf("expected exactly one active session")
	}

	got, _ := s.Session(first.ID)
	if got.IsActive {
		t.Fatalf("first session should be deactivated")
	}
	active, ok := s.ActiveSession()
	if !ok || active.ID != second.ID {
		t.Fatalf("expected second session active, got %+v", active)
	}
}

func TestChunkProgressAndEndLifecycle(t *testing.T) {
	t.Parallel()

	s := New(zaptest.NewLogger(t))
	session := s.CreateSession(CreateParams{StartBattery: intPtr(80), ChunkInterval: 20 * time.Second})

	t1 := time.Now()
	s.UpdateChunkProgress(session.ID, 1, t1, intPtr(78))
	t2 := t1.Add(20 * time.Second)
	s.UpdateChunkProgress(session.ID, 2, t2, intPtr(76))
	s.EndSession(session.ID, intPtr(75))

	got, ok := s.Session(session.ID)
	if !ok {
		t.Fatalf("session missing")
	}
	if got.ChunksSent != 2 {
		t.Fatalf("expected 2 chunks sent, got %d", got.ChunksSent)
	}
	if got.IsActive {
		t.Fatalf("expected finalized session")
	}
	if got.StopBattery == nil || *got.StopBattery != 75 {
		t.Fatalf("unexpected stop battery: %v", got.StopBattery)
	}
	if got.StartBattery == nil || *got.StartBattery != 80 {
		t.Fatalf("unexpected start battery: %v", got.StartBattery)
	}
	// The stop reading never rewrites the last in-session reading.
	if got.CurrentBattery == nil || *got.CurrentBattery != 76 {
		t.Fatalf("unexpected current battery: %v", got.CurrentBattery)
	}
	if !got.LastChunkSent.Equal(t2) {
		t.Fatalf("unexpected last chunk time: %v", got.LastChunkSent)
	}
}

func TestChunkProgressNeverRegresses(t *testing.T) {
	t.Parallel()

	s := New(zaptest.NewLogger(t))
	session := s.CreateSession(CreateParams{})

	now := time.Now()
	s.UpdateChunkProgress(session.ID, 4, now, nil)
	// Acknowledgment for chunk 3 arrives late.
	s.UpdateChunkProgress(session.ID, 3, now.Add(time.Second), intPtr(50))

	got, _ := s.Session(session.ID)
	if got.ChunksSent != 4 {
		t.Fatalf("expected chunks sent to stay at 4, got %d", got.ChunksSent)
	}
	// The battery reading from the stale ack still counts as freshest.
	if got.CurrentBattery == nil || *got.CurrentBattery != 50 {
		t.Fatalf("expected battery update from stale ack, got %v", got.CurrentBattery)
	}
}

func TestOperationsOnUnknownSessionAreNoOps(t *testing.T) {
	t.Parallel()

	s := New(zaptest.NewLogger(t))
	session := s.CreateSession(CreateParams{})

	s.UpdateChunkProgress("missing", 1, time.Now(), nil)
	s.EndSession("missing", nil)
	s.SetServerSession("missing", "srv-1")

	got, _ := s.Session(session.ID)
	if got.ChunksSent != 0 || !got.IsActive {
		t.Fatalf("store should be unchanged, got %+v", got)
	}
}

func TestEndSessionIsIdempotent(t *testing.T) {
	t.Parallel()

	s := New(zaptest.NewLogger(t))
	session := s.CreateSession(CreateParams{})

	s.EndSession(session.ID, intPtr(60))
	s.EndSession(session.ID, intPtr(10))

	got, _ := s.Session(session.ID)
	if got.StopBattery == nil || *got.StopBattery != 60 {
		t.Fatalf("second end should be a no-op, got stop battery %v", got.StopBattery)
	}
	if len(s.Sessions()) != 1 {
		t.Fatalf("no duplicate records expected")
	}
}

func TestEndActiveSessionsClosesEverythingActive(t *testing.T) {
	t.Parallel()

	s := New(zaptest.NewLogger(t))
	s.CreateSession(CreateParams{})
	s.CreateSession(CreateParams{})

	if ended := s.EndActiveSessions(intPtr(4)); ended != 1 {
		t.Fatalf("expected 1 active session ended, got %d", ended)
	}
	if activeCount(s.Sessions()) != 0 {
		t.Fatalf("expected no active sessions")
	}
}

func TestRoundTripChunkProgress(t *testing.T) {
	t.Parallel()

	s := New(zaptest.NewLogger(t))
	session := s.CreateSession(CreateParams{})

	const n = 7
	for i := 1; i <= n; i++ {
		s.UpdateChunkProgress(session.ID, i, time.Now(), nil)
	}
	s.EndSession(session.ID, nil)

	got, _ := s.Session(session.ID)
	if got.ChunksSent != n || got.IsActive {
		t.Fatalf("unexpected final record: %+v", got)
	}
}

func TestTranscriptionLogPreservesArrivalOrder(t *testing.T) {
	t.Parallel()

	s := New(zaptest.NewLogger(t))
	s.AppendTranscription(domain.TranscriptionEntry{Text: "first", ChunkID: 2})
	s.AppendTranscription(domain.TranscriptionEntry{Text: "second", ChunkID: 1})

	log := s.Transcript()
	if len(log) != 2 || log[0].Text != "first" || log[1].Text != "second" {
		t.Fatalf("unexpected transcript order: %+v", log)
	}
	if log[0].ReceivedAt.IsZero() {
		t.Fatalf("expected received timestamp to be stamped")
	}

	s.ClearTranscript()
	if len(s.Transcript()) != 0 {
		t.Fatalf("expected cleared transcript")
	}
}

func TestClearOperations(t *testing.T) {
	t.Parallel()

	s := New(zaptest.NewLogger(t))
	old := s.CreateSession(CreateParams{})
	s.EndSession(old.ID, nil)
	current := s.CreateSession(CreateParams{})

	s.ClearHistory()
	sessions := s.Sessions()
	if len(sessions) != 1 || sessions[0].ID != current.ID {
		t.Fatalf("expected only the active session to survive, got %+v", sessions)
	}

	s.ClearActive()
	if len(s.Sessions()) != 0 {
		t.Fatalf("expected empty store after clearing active")
	}

	s.CreateSession(CreateParams{})
	s.ClearSessions()
	if len(s.Sessions()) != 0 {
		t.Fatalf("expected empty store after clearing all")
	}
}

func TestSessionIDsAreUnique(t *testing.T) {
	t.Parallel()

	s := New(zaptest.NewLogger(t))
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		session := s.CreateSession(CreateParams{})
		if seen[session.ID] {
			t.Fatalf("duplicate session id %q", session.ID)
		}
		seen[session.ID] = true
	}
}

package server

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/botany-labs/voice-agent-service/internal/conversation"
)

// endedHistoryLimit bounds how many ended sessions stay queryable for
// their final call logs.
const endedHistoryLimit = 100

// Session is one call tracked by the registry. EndedAt is zero while the
// call is live.
type Session struct {
	ID        string
	Transport string
	StartedAt time.Time
	EndedAt   time.Time

	conversation *conversation.Conversation
}

// SessionInfo is a monitoring snapshot of one session.
type SessionInfo struct {
	ID         string    `json:"id"`
	Transport  string    `json:"transport"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	Duration   string    `json:"duration"`
	LogEntries int       `json:"log_entries"`
}

// RegistryStats reports registry counters.
type RegistryStats struct {
	ActiveSessions int    `json:"active_sessions"`
	MaxSessions    int    `json:"max_sessions"`
	TotalStarted   uint64 `json:"total_started"`
	TotalEnded     uint64 `json:"total_ended"`
	TotalRejected  uint64 `json:"total_rejected"`
}

// Registry tracks live call sessions and enforces the concurrent call
// limit.
type Registry struct {
	logger      *slog.Logger
	maxSessions int

	mu       sync.RWMutex
	sessions map[string]*Session
	ended    []*Session

	totalStarted  uint64
	totalEnded    uint64
	totalRejected uint64
}

// NewRegistry creates a session registry.
func NewRegistry(maxSessions int, logger *slog.Logger) (*Registry, error) {
	if maxSessions < 1 {
		return nil, fmt.Errorf("max sessions must be at least 1, got %d", maxSessions)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		logger:      logger,
		maxSessions: maxSessions,
		sessions:    make(map[string]*Session),
	}, nil
}

// Create registers a new session, rejecting it at the concurrency limit.
func (r *Registry) Create(transport string, conv *conversation.Conversation) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.maxSessions {
		r.totalRejected++
		return nil, fmt.Errorf("maximum concurrent calls reached (%d)", r.maxSessions)
	}

	session := &Session{
		ID:           uuid.New().String(),
		Transport:    transport,
		StartedAt:    time.Now(),
		conversation: conv,
	}

	r.sessions[session.ID] = session
	r.totalStarted++

	r.logger.Info("Call session created",
		slog.String("session_id", session.ID),
		slog.String("transport", transport),
		slog.Int("active_sessions", len(r.sessions)),
	)

	return session, nil
}

// Remove ends a session and returns its duration. The session stays
// queryable for its final call log until the history limit evicts it. The
// second return is false when the session was already removed.
func (r *Registry) Remove(id string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[id]
	if !exists {
		return 0, false
	}

	delete(r.sessions, id)
	r.totalEnded++

	// An ended copy keeps the live pointer immutable for concurrent readers.
	ended := &Session{
		ID:           session.ID,
		Transport:    session.Transport,
		StartedAt:    session.StartedAt,
		EndedAt:      time.Now(),
		conversation: session.conversation,
	}
	r.ended = append(r.ended, ended)
	if len(r.ended) > endedHistoryLimit {
		r.ended = r.ended[len(r.ended)-endedHistoryLimit:]
	}

	duration := ended.EndedAt.Sub(ended.StartedAt)
	r.logger.Info("Call session removed",
		slog.String("session_id", id),
		slog.String("duration", duration.String()),
		slog.Int("active_sessions", len(r.sessions)),
	)

	return duration, true
}

// Get returns a session by ID, live or recently ended.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if session, exists := r.sessions[id]; exists {
		return session, true
	}
	for _, session := range r.ended {
		if session.ID == id {
			return session, true
		}
	}
	return nil, false
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// AllInfo returns monitoring snapshots of every active session.
func (r *Registry) AllInfo() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, session := range r.sessions {
		infos = append(infos, session.Info())
	}
	return infos
}

// GetStats returns registry counters.
func (r *Registry) GetStats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RegistryStats{
		ActiveSessions: len(r.sessions),
		MaxSessions:    r.maxSessions,
		TotalStarted:   r.totalStarted,
		TotalEnded:     r.totalEnded,
		TotalRejected:  r.totalRejected,
	}
}

// Info returns a monitoring snapshot of the session. Ended sessions report
// their final duration.
func (s *Session) Info() SessionInfo {
	duration := time.Since(s.StartedAt)
	if !s.EndedAt.IsZero() {
		duration = s.EndedAt.Sub(s.StartedAt)
	}
	return SessionInfo{
		ID:         s.ID,
		Transport:  s.Transport,
		StartedAt:  s.StartedAt,
		EndedAt:    s.EndedAt,
		Duration:   duration.String(),
		LogEntries: len(s.conversation.CallLog()),
	}
}

// CallLog returns the session's call log.
func (s *Session) CallLog() []conversation.LogEntry {
	return s.conversation.CallLog()
}

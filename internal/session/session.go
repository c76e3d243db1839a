// Package session tracks per-conversation state: which spark is active,
// how many safety alerts fired, and a short recent transcript for the
// status view. Classification and routing stay stateless; this state only
// selects the persona and feeds the demo's monitoring surfaces.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sparkforge/sparkgate/internal/spark"
)

// Turn is one utterance kept in the bounded transcript ring.
type Turn struct {
	Role    string    `json:"role"` // "user" or "assistant"
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// session is the live mutable record. It never escapes the manager lock;
// readers get a View or an Info copy instead.
type session struct {
	id           string
	key          string // channel:chatID
	spark        spark.ID
	alertCount   int
	messageCount int
	startedAt    time.Time
	lastActive   time.Time

	turns    []Turn
	maxTurns int
}

// runtimeSession is the session identifier handed to the model runtime.
// Each spark gets its own thread so switching personas never leaks the
// tutor's history into Guardian's context and back.
func (s *session) runtimeSession() string {
	return string(s.spark) + ":" + s.key
}

func (s *session) record(role, content string, at time.Time) {
	s.turns = append(s.turns, Turn{Role: role, Content: content, At: at})
	if len(s.turns) > s.maxTurns {
		s.turns = s.turns[len(s.turns)-s.maxTurns:]
	}
}

// View is a consistent read of the fields the message pipeline uses. It is
// taken under the manager lock, so a concurrent spark switch can never tear
// it: Spark and RuntimeSession always agree.
type View struct {
	ID             string
	Key            string
	Spark          spark.ID
	AlertCount     int
	RuntimeSession string
}

func (s *session) view() View {
	return View{
		ID:             s.id,
		Key:            s.key,
		Spark:          s.spark,
		AlertCount:     s.alertCount,
		RuntimeSession: s.runtimeSession(),
	}
}

// Manager owns all live sessions, keyed by channel:chatID.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	maxTurns int
}

// NewManager creates a manager keeping up to historyDepth exchanges
// (user + assistant pairs) per session in the transcript ring.
func NewManager(historyDepth int) *Manager {
	if historyDepth <= 0 {
		historyDepth = 6
	}
	return &Manager{
		sessions: make(map[string]*session),
		maxTurns: historyDepth * 2,
	}
}

// Get returns a snapshot of the session for key, creating it on the tutor
// spark first.
func (m *Manager) Get(key string) View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(key).view()
}

func (m *Manager) getLocked(key string) *session {
	s, ok := m.sessions[key]
	if !ok {
		now := time.Now()
		s = &session{
			id:         uuid.NewString(),
			key:        key,
			spark:      spark.Sage,
			startedAt:  now,
			lastActive: now,
			maxTurns:   m.maxTurns,
		}
		m.sessions[key] = s
	}
	return s
}

// Switch moves a session to another spark (student/teacher mode toggle or
// Guardian escalation) and returns the updated snapshot.
func (m *Manager) Switch(key string, id spark.ID) (View, error) {
	if !spark.Valid(id) {
		return View{}, fmt.Errorf("unknown spark %q", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getLocked(key)
	s.spark = id
	return s.view(), nil
}

// RecordExchange appends a user/assistant pair to the transcript ring and
// bumps the counters.
func (m *Manager) RecordExchange(key, userText, reply string) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getLocked(key)
	s.record("user", userText, now)
	if reply != "" {
		s.record("assistant", reply, now)
	}
	s.messageCount++
	s.lastActive = now
}

// RecordAlert bumps the session's safety alert counter.
func (m *Manager) RecordAlert(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getLocked(key)
	s.alertCount++
}

// Reset discards the session entirely; the next message starts fresh on the
// tutor spark with a new runtime thread.
func (m *Manager) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
}

// Info is the read-only snapshot served by the status endpoint.
type Info struct {
	ID           string    `json:"session_id"`
	Key          string    `json:"key"`
	Spark        spark.ID  `json:"current_spark"`
	AlertCount   int       `json:"safety_alerts"`
	MessageCount int       `json:"conversation_length"`
	StartedAt    time.Time `json:"session_start"`
	LastActive   time.Time `json:"last_active"`
	Transcript   []Turn    `json:"transcript,omitempty"`
}

func (s *session) info(withTranscript bool) Info {
	info := Info{
		ID:           s.id,
		Key:          s.key,
		Spark:        s.spark,
		AlertCount:   s.alertCount,
		MessageCount: s.messageCount,
		StartedAt:    s.startedAt,
		LastActive:   s.lastActive,
	}
	if withTranscript {
		info.Transcript = append([]Turn(nil), s.turns...)
	}
	return info
}

// Snapshot returns a point-in-time view of every live session.
func (m *Manager) Snapshot(withTranscript bool) []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.info(withTranscript))
	}
	return infos
}

// Lookup returns the snapshot for a single session, if it exists.
func (m *Manager) Lookup(key string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return Info{}, false
	}
	return s.info(true), true
}

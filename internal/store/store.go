// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store persists chat sessions and their messages.
//
// Layout on disk: one JSON file per session under <dir>/sessions/, plus an
// index.json holding ordered session metadata and the active session ID.
// All writes go through atomic temp-file replacement so a crash never leaves
// a half-written record. In-memory state is authoritative while the process
// runs; disk is a recovery snapshot.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/traychat/traychat/internal/model"
	"github.com/traychat/traychat/internal/util"
)

// Retention and persistence parameters.
const (
	// DefaultMaxSessions bounds how many sessions are retained; the least
	// recently active beyond this are evicted.
	DefaultMaxSessions = 50

	// DefaultMaxMessages bounds messages kept per session; the oldest
	// beyond this are dropped.
	DefaultMaxMessages = 200

	// persistStride is how much new content (in bytes) accumulates before
	// a streaming update is flushed to disk. Sealing always flushes.
	persistStride = 256

	recordPerm = 0o600
	dirPerm    = 0o700
)

// Sentinel errors for store operations.
var (
	// ErrNoActiveSession indicates an operation that requires an active
	// session was called without one.
	ErrNoActiveSession = errors.New("no active session")

	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoMessages indicates the active session has no messages to update.
	ErrNoMessages = errors.New("session has no messages")
)

// EventKind classifies a store notification.
type EventKind int

// Store event kinds.
const (
	// EventSessions fires when the session list or active session changes.
	EventSessions EventKind = iota
	// EventMessages fires when a session's messages change.
	EventMessages
)

// Event describes a state change. SessionID is set for message events.
type Event struct {
	Kind      EventKind
	SessionID string
}

// Observer receives store events. Called outside the store lock; observers
// must not assume ordering across goroutines beyond per-store delivery order.
type Observer func(Event)

// sessionRecord is the on-disk format of one session file.
type sessionRecord struct {
	Session  *model.Session   `json:"session"`
	Messages []*model.Message `json:"messages"`
}

// indexRecord is the on-disk format of index.json.
type indexRecord struct {
	ActiveSessionID string           `json:"active_session_id,omitempty"`
	Sessions        []*model.Session `json:"sessions"`
}

// Store manages sessions and messages with bounded retention.
//
// All exported methods are safe for concurrent use. Writes for a given
// session are serialized by the store lock, so a later update can never be
// overtaken by an earlier one.
type Store struct {
	mu  sync.Mutex
	dir string

	sessions []*model.Session            // most recently active first
	messages map[string][]*model.Message // session ID -> messages
	activeID string

	// flushedLen tracks how many bytes of the last message's content were
	// on disk at the previous flush, per session.
	flushedLen map[string]int

	maxSessions int
	maxMessages int

	observers []Observer
}

// New creates a store rooted at dir with default retention limits.
// Call Load before use to recover prior state.
func New(dir string) *Store {
	return &Store{
		dir:         dir,
		messages:    make(map[string][]*model.Message),
		flushedLen:  make(map[string]int),
		maxSessions: DefaultMaxSessions,
		maxMessages: DefaultMaxMessages,
	}
}

// WithLimits overrides retention limits. Values below 1 keep the defaults.
func (s *Store) WithLimits(maxSessions, maxMessages int) *Store {
	if maxSessions >= 1 {
		s.maxSessions = maxSessions
	}
	if maxMessages >= 1 {
		s.maxMessages = maxMessages
	}
	return s
}

// Subscribe registers an observer for store events. Not removable; the
// store and its observers share the process lifetime.
func (s *Store) Subscribe(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, obs)
}

// =============================================================================
// Loading
// =============================================================================

// Load recovers sessions from disk. Missing directories mean a fresh start;
// corrupt or unreadable records are skipped with a log line, never fatal.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.sessionsDir(), dirPerm); err != nil {
		return fmt.Errorf("failed to create sessions directory: %w", err)
	}

	index := s.loadIndex()

	entries, err := os.ReadDir(s.sessionsDir())
	if err != nil {
		return fmt.Errorf("failed to read sessions directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		record, err := s.loadRecord(filepath.Join(s.sessionsDir(), entry.Name()))
		if err != nil {
			// RELIABILITY: One bad file must not take down startup.
			log.Printf("store: skipping %s: %v", entry.Name(), err)
			continue
		}
		s.sessions = append(s.sessions, record.Session)
		s.messages[record.Session.ID] = record.Messages
	}

	s.sortSessions()
	s.enforceSessionLimitLocked()

	if index != nil && s.hasSessionLocked(index.ActiveSessionID) {
		s.activeID = index.ActiveSessionID
	}

	log.Printf("store: loaded %d sessions", len(s.sessions))
	return nil
}

// loadIndex reads index.json, tolerating absence and corruption.
func (s *Store) loadIndex() *indexRecord {
	data, err := os.ReadFile(filepath.Join(s.dir, "index.json"))
	if err != nil {
		return nil
	}
	var index indexRecord
	if err := json.Unmarshal(data, &index); err != nil {
		log.Printf("store: corrupt index, ignoring: %v", err)
		return nil
	}
	return &index
}

// loadRecord reads and validates one session file.
func (s *Store) loadRecord(path string) (*sessionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var record sessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("corrupt record: %w", err)
	}
	if record.Session == nil || record.Session.ID == "" {
		return nil, errors.New("record missing session identity")
	}
	// Messages recovered from disk are settled text.
	for _, msg := range record.Messages {
		msg.Seal()
	}
	return &record, nil
}

// =============================================================================
// Sessions
// =============================================================================

// CreateSession creates a session titled from seed, makes it active, and
// persists it. If the session count exceeds the retention limit the least
// recently active sessions are evicted.
func (s *Store) CreateSession(seed string) (*model.Session, error) {
	s.mu.Lock()

	session := model.NewSession(seed)
	s.sessions = append([]*model.Session{session}, s.sessions...)
	s.messages[session.ID] = nil
	s.activeID = session.ID

	s.enforceSessionLimitLocked()

	if err := s.flushSessionLocked(session.ID); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.flushIndexLocked()
	s.mu.Unlock()

	s.notify(Event{Kind: EventSessions})
	return session, nil
}

// SwitchSession makes the given session active.
func (s *Store) SwitchSession(id string) error {
	s.mu.Lock()
	if !s.hasSessionLocked(id) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.activeID = id
	s.flushIndexLocked()
	s.mu.Unlock()

	s.notify(Event{Kind: EventSessions})
	return nil
}

// ClearActiveSession removes the active session and its messages entirely,
// from memory and disk. A no-op when nothing is active.
func (s *Store) ClearActiveSession() error {
	s.mu.Lock()
	if s.activeID == "" {
		s.mu.Unlock()
		return nil
	}
	id := s.activeID
	s.removeSessionLocked(id)
	s.activeID = ""
	s.flushIndexLocked()
	s.mu.Unlock()

	s.notify(Event{Kind: EventSessions})
	s.notify(Event{Kind: EventMessages, SessionID: id})
	return nil
}

// Deactivate clears the active marker without touching any session data.
// The next turn starts a fresh conversation.
func (s *Store) Deactivate() {
	s.mu.Lock()
	if s.activeID == "" {
		s.mu.Unlock()
		return
	}
	s.activeID = ""
	s.flushIndexLocked()
	s.mu.Unlock()

	s.notify(Event{Kind: EventSessions})
}

// DeleteSession removes a session by ID. Clears the active marker if it
// pointed at the deleted session.
func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	if !s.hasSessionLocked(id) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.removeSessionLocked(id)
	if s.activeID == id {
		s.activeID = ""
	}
	s.flushIndexLocked()
	s.mu.Unlock()

	s.notify(Event{Kind: EventSessions})
	return nil
}

// Sessions returns session metadata, most recently active first.
func (s *Store) Sessions() []*model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Session, len(s.sessions))
	for i, sess := range s.sessions {
		copied := *sess
		out[i] = &copied
	}
	return out
}

// ActiveSessionID returns the active session's ID, or "" when none.
func (s *Store) ActiveSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// ActiveSession returns a copy of the active session's metadata.
func (s *Store) ActiveSession() (*model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.findSessionLocked(s.activeID)
	if sess == nil {
		return nil, false
	}
	copied := *sess
	return &copied, true
}

// =============================================================================
// Messages
// =============================================================================

// AppendMessage appends a message to the active session, bumps its activity
// timestamp, and persists. Returns ErrNoActiveSession when nothing is active.
func (s *Store) AppendMessage(msg *model.Message) error {
	s.mu.Lock()
	if s.activeID == "" {
		s.mu.Unlock()
		return ErrNoActiveSession
	}
	id := s.activeID
	msg.SessionID = id

	s.messages[id] = append(s.messages[id], msg)
	if extra := len(s.messages[id]) - s.maxMessages; extra > 0 {
		s.messages[id] = s.messages[id][extra:]
	}

	s.touchLocked(id, msg.CreatedAt)
	s.flushedLen[id] = 0

	if err := s.flushSessionLocked(id); err != nil {
		s.mu.Unlock()
		return err
	}
	s.flushIndexLocked()
	s.mu.Unlock()

	s.notify(Event{Kind: EventMessages, SessionID: id})
	s.notify(Event{Kind: EventSessions})
	return nil
}

// UpdateLastMessageContent replaces the content of the active session's last
// message. In-memory state always reflects the new content; the disk write
// is throttled to once per persistStride bytes of growth so token-by-token
// streaming doesn't hammer the filesystem.
func (s *Store) UpdateLastMessageContent(content string) error {
	s.mu.Lock()
	last, err := s.lastMessageLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	id := s.activeID
	last.SetContent(content)

	var flushErr error
	if len(last.Content)-s.flushedLen[id] >= persistStride {
		flushErr = s.flushSessionLocked(id)
		if flushErr == nil {
			s.flushedLen[id] = len(last.Content)
		}
	}
	s.mu.Unlock()

	s.notify(Event{Kind: EventMessages, SessionID: id})
	return flushErr
}

// SealLastMessage fixes the active session's last message with its final
// content and persists unconditionally, regardless of the streaming
// throttle. Further SetContent calls on the message are dropped.
func (s *Store) SealLastMessage(finalContent string) error {
	s.mu.Lock()
	last, err := s.lastMessageLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	id := s.activeID
	last.SetContent(finalContent)
	last.Seal()
	s.touchLocked(id, time.Now())
	s.flushedLen[id] = len(last.Content)

	if err := s.flushSessionLocked(id); err != nil {
		s.mu.Unlock()
		return err
	}
	s.flushIndexLocked()
	s.mu.Unlock()

	s.notify(Event{Kind: EventMessages, SessionID: id})
	s.notify(Event{Kind: EventSessions})
	return nil
}

// Messages returns all messages of the given session in chronological order.
func (s *Store) Messages(sessionID string) []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMessages(s.messages[sessionID])
}

// RecentMessages returns up to limit of the session's most recent messages,
// still in chronological order. limit < 1 returns nothing.
func (s *Store) RecentMessages(sessionID string, limit int) []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[sessionID]
	if limit < 1 {
		return nil
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return copyMessages(msgs)
}

// =============================================================================
// Internals
// =============================================================================

func (s *Store) sessionsDir() string {
	return filepath.Join(s.dir, "sessions")
}

func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.sessionsDir(), id+".json")
}

func (s *Store) hasSessionLocked(id string) bool {
	return s.findSessionLocked(id) != nil
}

func (s *Store) findSessionLocked(id string) *model.Session {
	if id == "" {
		return nil
	}
	for _, sess := range s.sessions {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

// lastMessageLocked returns the active session's last message.
func (s *Store) lastMessageLocked() (*model.Message, error) {
	if s.activeID == "" {
		return nil, ErrNoActiveSession
	}
	msgs := s.messages[s.activeID]
	if len(msgs) == 0 {
		return nil, ErrNoMessages
	}
	return msgs[len(msgs)-1], nil
}

// touchLocked bumps a session's activity timestamp and re-sorts the list.
func (s *Store) touchLocked(id string, at time.Time) {
	sess := s.findSessionLocked(id)
	if sess == nil {
		return
	}
	sess.Touch(at)
	s.sortSessions()
}

func (s *Store) sortSessions() {
	sort.SliceStable(s.sessions, func(i, j int) bool {
		return s.sessions[i].LastMessageAt.After(s.sessions[j].LastMessageAt)
	})
}

// enforceSessionLimitLocked evicts the least recently active sessions
// beyond the retention limit, deleting their files.
func (s *Store) enforceSessionLimitLocked() {
	for len(s.sessions) > s.maxSessions {
		victim := s.sessions[len(s.sessions)-1]
		s.sessions = s.sessions[:len(s.sessions)-1]
		delete(s.messages, victim.ID)
		delete(s.flushedLen, victim.ID)
		if err := os.Remove(s.sessionPath(victim.ID)); err != nil && !os.IsNotExist(err) {
			log.Printf("store: failed to remove evicted session %s: %v", victim.ID, err)
		}
		if s.activeID == victim.ID {
			s.activeID = ""
		}
		log.Printf("store: evicted session %s", victim.ID)
	}
}

func (s *Store) removeSessionLocked(id string) {
	for i, sess := range s.sessions {
		if sess.ID == id {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			break
		}
	}
	delete(s.messages, id)
	delete(s.flushedLen, id)
	if err := os.Remove(s.sessionPath(id)); err != nil && !os.IsNotExist(err) {
		log.Printf("store: failed to remove session %s: %v", id, err)
	}
}

// flushSessionLocked writes one session record atomically.
func (s *Store) flushSessionLocked(id string) error {
	sess := s.findSessionLocked(id)
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	record := sessionRecord{Session: sess, Messages: s.messages[id]}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := os.MkdirAll(s.sessionsDir(), dirPerm); err != nil {
		return fmt.Errorf("failed to create sessions directory: %w", err)
	}
	if err := util.AtomicWriteFile(s.sessionPath(id), data, recordPerm); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// flushIndexLocked writes index.json. Index failures are logged, not
// returned; the per-session files remain the source of truth.
func (s *Store) flushIndexLocked() {
	index := indexRecord{ActiveSessionID: s.activeID, Sessions: s.sessions}
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		log.Printf("store: failed to marshal index: %v", err)
		return
	}
	if err := util.AtomicWriteFile(filepath.Join(s.dir, "index.json"), data, recordPerm); err != nil {
		log.Printf("store: failed to write index: %v", err)
	}
}

// notify delivers an event to all observers. Called without the lock held.
func (s *Store) notify(event Event) {
	s.mu.Lock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, obs := range observers {
		obs(event)
	}
}

func copyMessages(msgs []*model.Message) []*model.Message {
	out := make([]*model.Message, len(msgs))
	for i, msg := range msgs {
		copied := *msg
		out[i] = &copied
	}
	return out
}

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tenex-agents/tenex/pkg/models"
)

// maxTitleLen bounds conversation titles derived from event content.
const maxTitleLen = 80

// maxSummaryEventLen bounds the per-event excerpt used by CompactHistory.
const maxSummaryEventLen = 200

// Store exposes conversation persistence on top of DB. All read-modify-write
// sequences for one conversation must run under the per-id lock (see
// LockManager); cross-conversation operations are fully parallel.
type Store struct {
	db     *DB
	locks  *LockManager
	logger *zap.Logger
}

// New creates a Store over an opened, migrated DB.
func New(db *DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		locks:  NewLockManager(),
		logger: logger.With(zap.String("component", "conversation_store")),
	}
}

// WithConversation runs fn while holding the lock for the conversation id,
// serializing load-modify-save sequences against concurrent writers.
func (s *Store) WithConversation(id string, fn func() error) error {
	return s.locks.With(id, fn)
}

// deriveTitle builds a human label from the originating event content.
func deriveTitle(content string) string {
	title := strings.TrimSpace(content)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen-3] + "..."
	}
	if title == "" {
		title = "untitled conversation"
	}
	return title
}

// CreateConversation creates a conversation from its originating event. The
// conversation id is derived from the event id. Calling it twice with the
// same originating event returns the existing conversation unchanged.
func (s *Store) CreateConversation(event models.Event) (*models.Conversation, error) {
	id := event.ID
	now := time.Now()

	res, err := s.db.conn.Exec(`
		INSERT OR IGNORE INTO conversations (id, origin_event_id, title, phase, current_agent, metadata, created_at, updated_at)
		VALUES (?, ?, ?, '', '', '{}', ?, ?)
	`, id, event.ID, deriveTitle(event.Content), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}

	if inserted > 0 {
		if err := s.insertEvent(id, event); err != nil {
			return nil, fmt.Errorf("insert origin event: %w", err)
		}
		s.logger.Info("conversation created",
			zap.String("conversation_id", id),
			zap.String("origin_event", event.ID),
		)
	}

	return s.GetConversation(id)
}

// GetConversation returns the conversation with the given id, including its
// full ordered history.
func (s *Store) GetConversation(id string) (*models.Conversation, error) {
	row := s.db.conn.QueryRow(`
		SELECT id, title, phase, current_agent, metadata, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id)
	return s.scanConversation(row)
}

// GetConversationByEvent resolves any event id appearing in a conversation's
// history (including the originating event) to its owning conversation.
func (s *Store) GetConversationByEvent(eventID string) (*models.Conversation, error) {
	var convID string
	err := s.db.conn.QueryRow(`
		SELECT conversation_id FROM conversation_events WHERE event_id = ?
	`, eventID).Scan(&convID)
	if err == sql.ErrNoRows {
		// Fall back to the origin column for conversations whose history
		// was compacted away.
		err = s.db.conn.QueryRow(`
			SELECT id FROM conversations WHERE origin_event_id = ?
		`, eventID).Scan(&convID)
	}
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve event %s: %w", eventID, err)
	}
	return s.GetConversation(convID)
}

// AddEvent appends an event to the conversation's history. Appends are
// idempotent per event id. Returns ErrNotFound for unknown conversations.
func (s *Store) AddEvent(id string, event models.Event) error {
	if err := s.exists(id); err != nil {
		return err
	}
	if err := s.insertEvent(id, event); err != nil {
		return err
	}
	return s.touch(id)
}

// insertEvent appends an event with the next sequence number, ignoring
// duplicates by (conversation, event id).
func (s *Store) insertEvent(conversationID string, event models.Event) error {
	tags, err := json.Marshal(event.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	tx, err := s.db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	var next int
	if err := tx.QueryRow(`
		SELECT COALESCE(MAX(seq), 0) + 1 FROM conversation_events WHERE conversation_id = ?
	`, conversationID).Scan(&next); err != nil {
		tx.Rollback()
		return fmt.Errorf("next seq: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO conversation_events (conversation_id, seq, event_id, pubkey, content, tags, event_created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, conversationID, next, event.ID, event.Pubkey, event.Content, string(tags), formatTime(event.CreatedAt)); err != nil {
		tx.Rollback()
		return fmt.Errorf("insert event: %w", err)
	}

	return tx.Commit()
}

// UpdatePhase sets the conversation's active phase.
func (s *Store) UpdatePhase(id string, phase models.Phase) error {
	return s.update(id, `UPDATE conversations SET phase = ?, updated_at = ? WHERE id = ?`,
		string(phase), formatTime(time.Now()), id)
}

// UpdateCurrentAgent sets the agent responsible for the next reply.
func (s *Store) UpdateCurrentAgent(id string, pubkey string) error {
	return s.update(id, `UPDATE conversations SET current_agent = ?, updated_at = ? WHERE id = ?`,
		pubkey, formatTime(time.Now()), id)
}

// UpdateMetadata shallow-merges patch into the conversation's metadata.
func (s *Store) UpdateMetadata(id string, patch models.Metadata) error {
	conv, err := s.GetConversation(id)
	if err != nil {
		return err
	}

	meta := conv.Metadata
	meta.Merge(patch)

	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	return s.update(id, `UPDATE conversations SET metadata = ?, updated_at = ? WHERE id = ?`,
		string(raw), formatTime(time.Now()), id)
}

// CompactHistory collapses the conversation's history into a deterministic
// carry-forward summary, records it in metadata, and clears the history
// rows. The summary feeds the next phase's prompt construction.
func (s *Store) CompactHistory(id string, newPhase models.Phase) (string, error) {
	conv, err := s.GetConversation(id)
	if err != nil {
		return "", err
	}

	summary := SummarizeHistory(conv.History, conv.Phase, newPhase)

	if _, err := s.db.conn.Exec(`DELETE FROM conversation_events WHERE conversation_id = ?`, id); err != nil {
		return "", fmt.Errorf("clear history: %w", err)
	}

	if err := s.UpdateMetadata(id, models.Metadata{ContextSummary: summary}); err != nil {
		return "", err
	}

	s.logger.Info("history compacted",
		zap.String("conversation_id", id),
		zap.Int("events", len(conv.History)),
		zap.String("new_phase", string(newPhase)),
	)

	return summary, nil
}

// SummarizeHistory produces the deterministic digest used for history
// compaction: one excerpt line per event, in arrival order.
func SummarizeHistory(history []models.Event, from, to models.Phase) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Context carried from %s into %s (%d events):\n", from, to, len(history))
	for _, ev := range history {
		content := strings.ReplaceAll(strings.TrimSpace(ev.Content), "\n", " ")
		if len(content) > maxSummaryEventLen {
			content = content[:maxSummaryEventLen-3] + "..."
		}
		fmt.Fprintf(&b, "- [%s] %s\n", shortKey(ev.Pubkey), content)
	}
	return b.String()
}

// shortKey abbreviates a pubkey for summaries and logs.
func shortKey(pubkey string) string {
	if len(pubkey) > 8 {
		return pubkey[:8]
	}
	if pubkey == "" {
		return "unknown"
	}
	return pubkey
}

// exists returns ErrNotFound when the conversation id is unknown.
func (s *Store) exists(id string) error {
	var one int
	err := s.db.conn.QueryRow(`SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check conversation %s: %w", id, err)
	}
	return nil
}

// touch bumps the conversation's updated_at.
func (s *Store) touch(id string) error {
	_, err := s.db.conn.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id)
	return err
}

// update runs an UPDATE that must affect an existing conversation.
func (s *Store) update(id, query string, args ...any) error {
	res, err := s.db.conn.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update conversation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanConversation loads one conversation row plus its ordered history.
func (s *Store) scanConversation(row *sql.Row) (*models.Conversation, error) {
	var conv models.Conversation
	var phase, metaRaw, createdAt, updatedAt string

	err := row.Scan(&conv.ID, &conv.Title, &phase, &conv.CurrentAgent, &metaRaw, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}

	conv.Phase = models.Phase(phase)
	if err := json.Unmarshal([]byte(metaRaw), &conv.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if conv.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	rows, err := s.db.conn.Query(`
		SELECT event_id, pubkey, content, tags, event_created_at
		FROM conversation_events WHERE conversation_id = ? ORDER BY seq
	`, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ev models.Event
		var tagsRaw, evCreated string
		if err := rows.Scan(&ev.ID, &ev.Pubkey, &ev.Content, &tagsRaw, &evCreated); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(tagsRaw), &ev.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
		if ev.CreatedAt, err = parseTime(evCreated); err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		conv.History = append(conv.History, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	return &conv, nil
}

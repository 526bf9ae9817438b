package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tenex-agents/tenex/pkg/models"
)

// OrchestratorAgent is the reserved ledger agent name under which
// conversation-scoped orchestration records (the team) are persisted.
const OrchestratorAgent = "orchestrator"

// LedgerMessage is one transcript entry in an agent's ledger.
type LedgerMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerMetadata holds agent-scoped conversation metadata.
type LedgerMetadata struct {
	// Team is the persisted team record (orchestrator ledger only).
	Team *models.Team `json:"team,omitempty"`
	// Extra holds open agent-specific artifacts.
	Extra map[string]string `json:"extra,omitempty"`
}

// Ledger is the per-(conversation, agent) transcript and metadata record.
type Ledger struct {
	ConversationID string         `json:"conversation_id"`
	AgentName      string         `json:"agent_name"`
	Messages       []LedgerMessage `json:"messages"`
	Metadata       LedgerMetadata `json:"metadata"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// LoadLedger loads the ledger for (conversationID, agentName). A missing
// row returns an empty ledger, not an error: callers use load-modify-save
// and must hold the conversation lock across the sequence.
func (s *Store) LoadLedger(conversationID, agentName string) (*Ledger, error) {
	ledger := &Ledger{
		ConversationID: conversationID,
		AgentName:      agentName,
	}

	var messagesRaw, metaRaw, updatedAt string
	err := s.db.conn.QueryRow(`
		SELECT messages, metadata, updated_at FROM agent_ledger
		WHERE conversation_id = ? AND agent_name = ?
	`, conversationID, agentName).Scan(&messagesRaw, &metaRaw, &updatedAt)
	if err == sql.ErrNoRows {
		return ledger, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ledger %s/%s: %w", conversationID, agentName, err)
	}

	if err := json.Unmarshal([]byte(messagesRaw), &ledger.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal ledger messages: %w", err)
	}
	if err := json.Unmarshal([]byte(metaRaw), &ledger.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal ledger metadata: %w", err)
	}
	if ledger.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse ledger updated_at: %w", err)
	}

	return ledger, nil
}

// SaveLedger upserts the ledger row.
func (s *Store) SaveLedger(ledger *Ledger) error {
	messages, err := json.Marshal(ledger.Messages)
	if err != nil {
		return fmt.Errorf("marshal ledger messages: %w", err)
	}
	meta, err := json.Marshal(ledger.Metadata)
	if err != nil {
		return fmt.Errorf("marshal ledger metadata: %w", err)
	}

	_, err = s.db.conn.Exec(`
		INSERT INTO agent_ledger (conversation_id, agent_name, messages, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id, agent_name)
		DO UPDATE SET messages = excluded.messages, metadata = excluded.metadata, updated_at = excluded.updated_at
	`, ledger.ConversationID, ledger.AgentName, string(messages), string(meta), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save ledger %s/%s: %w", ledger.ConversationID, ledger.AgentName, err)
	}
	return nil
}

// TeamForConversation returns the team persisted in the orchestrator ledger
// for the conversation, or nil when none was formed.
func (s *Store) TeamForConversation(conversationID string) (*models.Team, error) {
	ledger, err := s.LoadLedger(conversationID, OrchestratorAgent)
	if err != nil {
		return nil, err
	}
	return ledger.Metadata.Team, nil
}

// SaveTeam persists the team into the orchestrator ledger and mirrors it
// into the conversation metadata. Callers hold the conversation lock.
func (s *Store) SaveTeam(team *models.Team) error {
	ledger, err := s.LoadLedger(team.ConversationID, OrchestratorAgent)
	if err != nil {
		return err
	}
	ledger.Metadata.Team = team
	if err := s.SaveLedger(ledger); err != nil {
		return err
	}
	return s.UpdateMetadata(team.ConversationID, models.Metadata{Team: team})
}

package keysync

import (
	"encoding/json"
	"fmt"

	"keysync-backend/internal/engine"
)

// SyncMessage asks the worker to rebuild the key set of one rule. The
// rule id doubles as the queue ordering key so create, update and
// delete for the same rule are never applied out of order.
type SyncMessage struct {
	Type   string `json:"type"` // create, update or delete
	RuleID string `json:"rule_id"`
}

func (m SyncMessage) Validate() error {
	switch m.Type {
	case engine.SyncCreate, engine.SyncUpdate, engine.SyncDelete:
	default:
		return fmt.Errorf("unknown sync message type %q", m.Type)
	}
	if m.RuleID == "" {
		return fmt.Errorf("sync message has no rule id")
	}
	return nil
}

// Encode serializes the message for the queue transport.
func (m SyncMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a queue payload.
func DecodeMessage(data []byte) (SyncMessage, error) {
	var m SyncMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return SyncMessage{}, fmt.Errorf("decode sync message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return SyncMessage{}, err
	}
	return m, nil
}

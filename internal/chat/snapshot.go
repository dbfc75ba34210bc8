package chat

import (
	"encoding/json"
	"time"
)

// SnapshotMessage is one exported transcript entry.
type SnapshotMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Snapshot is the export format of a session. It never contains credentials.
type Snapshot struct {
	Model     string            `json:"model"`
	Timestamp time.Time         `json:"timestamp"`
	Messages  []SnapshotMessage `json:"messages"`
}

// ExportSnapshot captures the model and transcript. It does not modify the
// session.
func (s *Session) ExportSnapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]SnapshotMessage, 0, len(s.transcript))
	for _, t := range s.transcript {
		msgs = append(msgs, SnapshotMessage{Role: string(t.Role), Content: t.Content})
	}
	return Snapshot{
		Model:     s.model.ID,
		Timestamp: s.now().UTC().Truncate(time.Second),
		Messages:  msgs,
	}
}

// JSON encodes the snapshot with two-space indentation.
func (s Snapshot) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Filename is the suggested download name for the snapshot.
func (s Snapshot) Filename() string {
	return "chat-" + s.Model + "-" + s.Timestamp.Format("20060102-150405") + ".json"
}

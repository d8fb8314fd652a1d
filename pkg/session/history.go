package session

import "context"

// HistoryAdapter exposes a Store through the loose message shape the
// agent loop consumes for its history preamble.
type HistoryAdapter struct {
	store *Store
}

// NewHistoryAdapter wraps a session store.
func NewHistoryAdapter(store *Store) *HistoryAdapter {
	return &HistoryAdapter{store: store}
}

// GetSessionHistory returns the stored conversation as generic maps.
// Failures degrade to an empty history.
func (a *HistoryAdapter) GetSessionHistory(ctx context.Context, sessionID string) []map[string]interface{} {
	messages, err := a.store.GetHistory(ctx, sessionID)
	if err != nil {
		return nil
	}

	out := make([]map[string]interface{}, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]interface{}{
			"role":    m.Role,
			"content": m.Content,
		})
	}
	return out
}

package models

import "sort"

// ChunkState is the persisted state of a multipart session.
//
// The header (session, key, sizes) lives on the task file row. Confirmed
// indices and their tokens come from the append-only confirmation log, so a
// restarted process replays the log instead of guessing.
type ChunkState struct {
	SessionID        string         `json:"session_id"`
	StorageKey       string         `json:"storage_key"`
	ChunkSize        int64          `json:"chunk_size"`
	TotalChunks      int            `json:"total_chunks"`
	ConfirmedIndices []int          `json:"confirmed_indices"`
	Tokens           map[int]string `json:"tokens"`
}

// Confirm records a confirmed chunk. Re-confirming an index is a no-op.
func (c *ChunkState) Confirm(index int, token string) {
	if c.Tokens == nil {
		c.Tokens = make(map[int]string)
	}
	if _, ok := c.Tokens[index]; ok {
		return
	}
	c.Tokens[index] = token
	c.ConfirmedIndices = append(c.ConfirmedIndices, index)
	sort.Ints(c.ConfirmedIndices)
}

// IsConfirmed reports whether index has a durable token.
func (c *ChunkState) IsConfirmed(index int) bool {
	_, ok := c.Tokens[index]
	return ok
}

// Missing lists indices without a confirmed token, ascending.
func (c *ChunkState) Missing() []int {
	var out []int
	for i := 0; i < c.TotalChunks; i++ {
		if !c.IsConfirmed(i) {
			out = append(out, i)
		}
	}
	return out
}

// OrderedTokens returns tokens sorted by chunk index. ok is false when a
// chunk is still missing.
func (c *ChunkState) OrderedTokens() (tokens []string, ok bool) {
	tokens = make([]string, c.TotalChunks)
	for i := 0; i < c.TotalChunks; i++ {
		t, found := c.Tokens[i]
		if !found {
			return nil, false
		}
		tokens[i] = t
	}
	return tokens, true
}

// Header returns a copy without confirmation data.
func (c *ChunkState) Header() *ChunkState {
	return &ChunkState{
		SessionID:   c.SessionID,
		StorageKey:  c.StorageKey,
		ChunkSize:   c.ChunkSize,
		TotalChunks: c.TotalChunks,
	}
}

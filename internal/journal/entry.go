package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind names a lifecycle transition.
type Kind string

const (
	KindStarted        Kind = "started"
	KindEnded          Kind = "ended"
	KindCloned         Kind = "cloned"
	KindCancelled      Kind = "cancelled"
	KindCallbackFailed Kind = "callback_failed"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindStarted, KindEnded, KindCloned, KindCancelled, KindCallbackFailed:
		return true
	}
	return false
}

// Entry is one journal row.
type Entry struct {
	// Seq is assigned by Record and strictly increases.
	Seq int64 `json:"seq"`

	ScopeID string `json:"scope_id"`

	// ParentID is set for cloned entries.
	ParentID string `json:"parent_id,omitempty"`

	Kind Kind `json:"kind"`

	// Index is the failing callback's registration index.
	Index int `json:"index,omitempty"`

	// Callbacks is the number of pending callbacks at cancellation.
	Callbacks int `json:"callbacks,omitempty"`

	// Error is the operation error (ended) or the panic message
	// (callback_failed).
	Error string `json:"error,omitempty"`
}

// MarshalJSON keeps index on callback_failed entries, where 0 is a real
// registration index.
func (e Entry) MarshalJSON() ([]byte, error) {
	type plain Entry
	if e.Kind != KindCallbackFailed {
		return json.Marshal(plain(e))
	}
	return json.Marshal(struct {
		plain
		Index int `json:"index"`
	}{plain(e), e.Index})
}

// Filter narrows Entries. Zero fields match everything.
type Filter struct {
	ScopeID string
	Kind    Kind

	// AfterSeq returns only entries with Seq greater than this.
	AfterSeq int64

	// Limit caps the number of entries; 0 means no limit.
	Limit int
}

// Record appends e and returns its assigned sequence number.
// e.Seq is ignored.
func (j *Journal) Record(ctx context.Context, e Entry) (int64, error) {
	if e.ScopeID == "" {
		return 0, fmt.Errorf("record entry: scope id is required")
	}
	if !e.Kind.Valid() {
		return 0, fmt.Errorf("record entry: unknown kind %q", e.Kind)
	}

	res, err := j.db.ExecContext(ctx, `
		INSERT INTO entries (scope_id, parent_id, kind, idx, callbacks, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		e.ScopeID,
		e.ParentID,
		string(e.Kind),
		e.Index,
		e.Callbacks,
		e.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("record entry: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record entry: %w", err)
	}
	return seq, nil
}

// Entries returns the entries matching f ordered by seq.
// Returns an empty slice (not nil) when nothing matches.
func (j *Journal) Entries(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.ScopeID != "" {
		where = append(where, "(scope_id = ? OR parent_id = ?)")
		args = append(args, f.ScopeID, f.ScopeID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.AfterSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, f.AfterSeq)
	}

	query := "SELECT seq, scope_id, parent_id, kind, idx, callbacks, error FROM entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e    Entry
			kind string
		)
		if err := rows.Scan(&e.Seq, &e.ScopeID, &e.ParentID, &kind, &e.Index, &e.Callbacks, &e.Error); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Kind = Kind(kind)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

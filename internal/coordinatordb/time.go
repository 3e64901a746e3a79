package coordinatordb

import (
	"database/sql"
	"time"
)

// Timestamps are stored as RFC3339 strings, matching the teacher's
// supabase.go convention of string-encoded timestamps at the storage
// boundary (its CreatedAt/LastUpdated fields are plain `string`).
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

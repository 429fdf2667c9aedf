package inventory

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedTable is returned by DeleteSubtree when the payload
// names a table outside the deletable set or omits required fields.
var ErrUnsupportedTable = errors.New("unsupported delete target")

// deleteTables maps payload table names to SQL tables. Only these three
// entity kinds support targeted deletion.
var deleteTables = map[string]string{
	"partition": "partition_tbl",
	"storage":   "storage",
	"nic":       "nic",
}

// DeleteSubtree removes rows by UUID from exactly one table, selected by
// the payload's "deleted" field. Deletion never cascades: removing a
// storage row leaves its partition rows in place.
func DeleteSubtree(database *sql.DB, raw []byte) error {
	var req struct {
		Deleted string   `json:"deleted"`
		UUID    []string `json:"uuid"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("parse delete request: %w", err)
	}

	table, ok := deleteTables[req.Deleted]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedTable, req.Deleted)
	}
	if len(req.UUID) == 0 {
		return fmt.Errorf("%w: no uuids given for %q", ErrUnsupportedTable, req.Deleted)
	}

	placeholders := strings.Repeat("?,", len(req.UUID))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, len(req.UUID))
	for i, u := range req.UUID {
		args[i] = u
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE uuid IN (%s)", table, placeholders)
	if _, err := database.Exec(query, args...); err != nil {
		return fmt.Errorf("delete from %s: %w", req.Deleted, err)
	}
	return nil
}

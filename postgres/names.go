package postgres

import (
	"fmt"
	"strings"
)

// sanitizeTableName accepts plain and schema-qualified names built from
// letters, digits, and underscores. Everything else is rejected because the
// name is interpolated into query text.
func sanitizeTableName(name string) (string, error) {
	if name == "" {
		return "", ErrTableNameRequired
	}
	parts := strings.Split(name, ".")
	for _, part := range parts {
		if part == "" {
			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
		for _, r := range part {
			if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				continue
			}

			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
	}

	return name, nil
}

// indexPrefix derives an index name prefix from a sanitized table name.
// Dots from schema qualification are flattened to underscores.
func indexPrefix(table string) string {
	return "idx_" + strings.ReplaceAll(table, ".", "_")
}

package postgres

import (
	"fmt"
)

const schemaTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	aggregate_id VARCHAR(255) NOT NULL,
	aggregate_type VARCHAR(255) NOT NULL,
	event_type VARCHAR(255) NOT NULL,
	payload TEXT NOT NULL,
	changed_fields TEXT,
	status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at TIMESTAMPTZ,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	error_message TEXT,
	worker_id VARCHAR(255),
	version BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS %[2]s_status_created_at ON %[1]s (status, created_at);
CREATE INDEX IF NOT EXISTS %[2]s_aggregate_id ON %[1]s (aggregate_id);
CREATE INDEX IF NOT EXISTS %[2]s_event_type ON %[1]s (event_type);
CREATE INDEX IF NOT EXISTS %[2]s_worker_id ON %[1]s (worker_id) WHERE worker_id IS NOT NULL;`

// Schema returns the DDL for an outbox table, including the relay lookup
// indexes. The statements are idempotent and can be executed as one script.
func Schema(table string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(schemaTemplate, name, indexPrefix(name)), nil
}

package postgres

import "fmt"

type queries struct {
	insert           string
	leasePending     string
	claim            string
	markSent         string
	markFailed       string
	countByStatus    string
	deleteSentBefore string
	releaseClaims    string
}

func newQueries(table string) queries {
	cols := "id, aggregate_id, aggregate_type, event_type, payload, changed_fields, status, created_at, processed_at, retry_count, max_retries, error_message, worker_id, version"
	insert := fmt.Sprintf(
		"INSERT INTO %s (id, aggregate_id, aggregate_type, event_type, payload, changed_fields, status, created_at, retry_count, max_retries, version) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		table,
	)
	leasePending := fmt.Sprintf(
		"SELECT %s FROM %s WHERE status = $1 AND (worker_id IS NULL OR worker_id = $2) ORDER BY created_at ASC LIMIT $3",
		cols,
		table,
	)
	claim := fmt.Sprintf(
		"UPDATE %s SET worker_id = $1, version = version + 1 WHERE id = $2 AND version = $3 RETURNING %s",
		table,
		cols,
	)
	markSent := fmt.Sprintf(
		"UPDATE %s SET status = $1, processed_at = $2, error_message = NULL, version = version + 1 "+
			"WHERE id = $3 AND version = $4 RETURNING %s",
		table,
		cols,
	)
	// SET expressions read the pre-update row, so retry_count + 1 in the
	// CASE conditions is the count after this failure.
	markFailed := fmt.Sprintf(
		"UPDATE %s SET retry_count = retry_count + 1, error_message = $1, "+
			"status = CASE WHEN retry_count + 1 >= max_retries THEN $2 ELSE $3 END, "+
			"processed_at = CASE WHEN retry_count + 1 >= max_retries THEN $4 ELSE processed_at END, "+
			"worker_id = CASE WHEN retry_count + 1 >= max_retries THEN worker_id ELSE NULL END, "+
			"version = version + 1 WHERE id = $5 AND version = $6 RETURNING %s",
		table,
		cols,
	)
	countByStatus := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE status = $1", table)
	deleteSentBefore := fmt.Sprintf(
		"DELETE FROM %s WHERE status = $1 AND processed_at IS NOT NULL AND processed_at < $2",
		table,
	)
	releaseClaims := fmt.Sprintf(
		"UPDATE %s SET worker_id = NULL, version = version + 1 WHERE status = $1 AND worker_id = $2",
		table,
	)

	return queries{
		insert:           insert,
		leasePending:     leasePending,
		claim:            claim,
		markSent:         markSent,
		markFailed:       markFailed,
		countByStatus:    countByStatus,
		deleteSentBefore: deleteSentBefore,
		releaseClaims:    releaseClaims,
	}
}

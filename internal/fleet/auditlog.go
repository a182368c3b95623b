package fleet

import "github.com/ukydev/fleet-dispatch/internal/models"

// PrependTx returns a new log with entry at index 0 and at most limit entries.
// The oldest entries are dropped; the input slice is not modified.
func PrependTx(log []models.Transaction, entry models.Transaction, limit int) []models.Transaction {
	n := len(log) + 1
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]models.Transaction, 0, n)
	out = append(out, entry)
	for _, tx := range log {
		if len(out) == n {
			break
		}
		out = append(out, tx)
	}
	return out
}

// TruncateTx caps a log at limit entries, keeping the newest.
func TruncateTx(log []models.Transaction, limit int) []models.Transaction {
	if limit <= 0 || len(log) <= limit {
		return log
	}
	return log[:limit]
}

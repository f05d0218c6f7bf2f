package db

import (
	"context"
	"strings"
	"time"

	"salespoints-platform/pkg/errutil"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultTxRetries bounds the transparent retry loop for serialization
// conflicts before the failure is surfaced to the caller.
const DefaultTxRetries = 3

// IsSerializationFailure reports whether the error is a transient lock or
// serialization conflict worth retrying. Covers postgres SQLSTATE 40001/40P01,
// mysql 1213 and sqlite's busy errors.
func IsSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "40001") ||
		strings.Contains(msg, "40p01") ||
		strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "could not serialize") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RunInTxWithRetry executes fn inside a transaction, retrying the whole unit
// of work on serialization conflicts. Every attempt sees either a committed
// or a fully rolled back state; partial point movement is never observable.
func RunInTxWithRetry(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < DefaultTxRetries; attempt++ {
		err = db.WithContext(ctx).Transaction(fn)
		if err == nil || !IsSerializationFailure(err) {
			return err
		}

		zap.L().Warn("transaction serialization conflict, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}

	return errutil.ConcurrentModification("transaction retries exhausted", errutil.WithErr(err))
}

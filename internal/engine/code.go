package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"examline/internal/repo"
)

// codeDateLayout is the DDMMYY prefix of a receipt code.
const codeDateLayout = "020106"

// codeSeqWidth is the zero-padded daily sequence width. Sequences past 9999
// widen the code; MaxCodeTx orders by length first so a widened code is still
// found as the day's maximum.
const codeSeqWidth = 4

// BuildCode renders a receipt code from its parts, e.g. 2708260012.
func BuildCode(day time.Time, seq int) string {
	return fmt.Sprintf("%s%0*d", day.Format(codeDateLayout), codeSeqWidth, seq)
}

// nextCodeTx issues the next receipt code for today. The date prefix uses
// the participant-facing timezone so the daily counter rolls over at local
// midnight, not UTC.
func (e Engine) nextCodeTx(ctx context.Context, tx *sql.Tx) (string, error) {
	day := e.now().In(e.location())
	prefix := day.Format(codeDateLayout)
	last, err := e.Repo.MaxCodeTx(ctx, tx, prefix)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}
	seq := 1
	if err == nil {
		tail, parseErr := strconv.Atoi(last[len(prefix):])
		if parseErr != nil {
			return "", fmt.Errorf("code %s has invalid sequence: %w", last, parseErr)
		}
		seq = tail + 1
	}
	return BuildCode(day, seq), nil
}

func (e Engine) location() *time.Location {
	if e.Loc != nil {
		return e.Loc
	}
	return time.UTC
}

// isUniqueViolation detects the sqlite unique-index error without a typed
// error from the driver.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

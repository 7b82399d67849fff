package agentpg

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/netip"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/agentpg/agentpg/internal/readonly"
)

// Query executes the read-only query pipeline and returns only QueryOutput.
// All errors (Postgres errors, read-only rejections, Go errors) are
// converted to output.Error. The error message is then evaluated against
// hint patterns and any matching guidance is appended, so callers only need
// to check output.Error, never a Go error.
func (e *Engine) Query(ctx context.Context, input QueryInput) *QueryOutput {
	startTime := time.Now()
	sql := input.SQL

	// 1. Acquire semaphore (respects context cancellation to prevent deadlock)
	select {
	case e.semaphore <- struct{}{}:
	case <-ctx.Done():
		return e.handleError(fmt.Errorf("failed to acquire query slot: all %d connection slots are in use, context cancelled while waiting: %w", cap(e.semaphore), ctx.Err()))
	}
	defer func() { <-e.semaphore }()

	// 2. Check SQL length before any parsing
	if len(sql) > e.config.Query.MaxSQLLength {
		return e.handleError(fmt.Errorf("SQL query too long: %d bytes exceeds maximum of %d bytes", len(sql), e.config.Query.MaxSQLLength))
	}

	// 3. Read-only gate on the AST
	if err := readonly.Validate(sql); err != nil {
		return e.handleError(err)
	}

	// 4. Determine timeout
	queryTimeout, timeoutRule := e.timeouts.Resolve(sql)
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// 5. Acquire connection and execute in a transaction
	conn, err := e.pool.Acquire(queryCtx)
	if err != nil {
		return e.handleError(err)
	}
	defer conn.Release()

	tx, err := conn.Begin(queryCtx)
	if err != nil {
		return e.handleError(err)
	}
	// Use parent ctx, not queryCtx. If the query timed out, queryCtx is
	// cancelled and rollback would fail. Nothing is ever committed.
	defer tx.Rollback(ctx)

	rows, err := tx.Query(queryCtx, sql)
	if err != nil {
		return e.handleError(err)
	}

	// 6. Collect results
	result, err := e.collectRows(rows)
	if err != nil {
		return e.handleError(err)
	}
	tx.Rollback(ctx)

	// 7. Apply masking (per-field, recursive into JSONB/arrays)
	masked := e.masker.HasRules()
	result.Rows = e.masker.MaskRows(result.Rows)

	// 8. Apply max result length truncation
	e.truncateIfNeeded(result)

	logEvent := e.logger.Info().
		Str("sql", truncateForLog(sql, 200)).
		Dur("duration", time.Since(startTime)).
		Int("row_count", len(result.Rows))
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	if masked {
		logEvent = logEvent.Bool("masked", true)
	}
	logEvent.Msg("query executed")

	return result
}

// collectRows reads all rows from pgx.Rows and returns a QueryOutput.
func (e *Engine) collectRows(rows pgx.Rows) (*QueryOutput, error) {
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &QueryOutput{Columns: columns, Rows: resultRows}, nil
}

// convertValue converts a pgx-returned value to a JSON-friendly Go type.
func convertValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case float32:
		return convertFloat(float64(val), val)
	case float64:
		return convertFloat(val, val)
	case netip.Prefix:
		return val.String()
	case net.HardwareAddr:
		return val.String()
	case pgtype.Time:
		if !val.Valid {
			return nil
		}
		us := val.Microseconds
		hours := us / 3_600_000_000
		us -= hours * 3_600_000_000
		minutes := us / 60_000_000
		us -= minutes * 60_000_000
		seconds := us / 1_000_000
		us -= seconds * 1_000_000
		if us > 0 {
			return fmt.Sprintf("%02d:%02d:%02d.%06d", hours, minutes, seconds, us)
		}
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	case pgtype.Interval:
		if !val.Valid {
			return nil
		}
		parts := []string{}
		if val.Months != 0 {
			years := val.Months / 12
			months := val.Months % 12
			if years != 0 {
				parts = append(parts, fmt.Sprintf("%d year(s)", years))
			}
			if months != 0 {
				parts = append(parts, fmt.Sprintf("%d mon(s)", months))
			}
		}
		if val.Days != 0 {
			parts = append(parts, fmt.Sprintf("%d day(s)", val.Days))
		}
		if val.Microseconds != 0 {
			dur := time.Duration(val.Microseconds) * time.Microsecond
			parts = append(parts, dur.String())
		}
		if len(parts) == 0 {
			return "0"
		}
		return strings.Join(parts, " ")
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		if val.NaN {
			return "NaN"
		}
		if val.InfinityModifier == pgtype.Infinity {
			return "Infinity"
		}
		if val.InfinityModifier == pgtype.NegativeInfinity {
			return "-Infinity"
		}
		b, err := val.MarshalJSON()
		if err != nil {
			return nil
		}
		return string(b)
	case [16]byte:
		// UUID
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16])
	case []byte:
		// bytea, xml
		return base64.StdEncoding.EncodeToString(val)
	case string:
		return val
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, v := range val {
			result[k] = convertValue(v)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, v := range val {
			result[i] = convertValue(v)
		}
		return result
	default:
		return val
	}
}

// convertFloat maps NaN and infinities to their Postgres text forms, which
// JSON cannot represent as numbers. orig preserves the caller's float width.
func convertFloat(f float64, orig any) any {
	if math.IsNaN(f) {
		return "NaN"
	}
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	return orig
}

// handleError converts any error into a QueryOutput with error message.
// The error message is evaluated against hint rules and matching guidance
// messages are appended.
func (e *Engine) handleError(err error) *QueryOutput {
	errMsg := err.Error()
	guidance := e.hints.Match(errMsg)
	patterns := e.hints.MatchedPatterns(errMsg)

	logEvent := e.logger.Error().Err(err)
	if len(patterns) > 0 {
		logEvent = logEvent.Strs("hints", patterns)
	}
	logEvent.Msg("query error")

	if guidance != "" {
		errMsg = errMsg + "\n\n" + guidance
	}
	return &QueryOutput{Error: errMsg}
}

// truncateIfNeeded truncates query output rows if they exceed
// MaxResultLength (in characters).
func (e *Engine) truncateIfNeeded(output *QueryOutput) {
	jsonBytes, _ := json.Marshal(output.Rows)
	jsonStr := string(jsonBytes)
	if utf8.RuneCountInString(jsonStr) <= e.config.Query.MaxResultLength {
		return
	}
	runes := []rune(jsonStr)
	truncated := string(runes[:e.config.Query.MaxResultLength])
	output.Rows = nil
	output.Error = truncated + "...[truncated] Result is too long! Add limits in your query!"
}

// truncateForLog truncates a string for log output to avoid oversized log
// entries.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}

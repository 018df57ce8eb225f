package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/capgov/internal/audit"
	"github.com/xela07ax/capgov/internal/domain"
)

// auditColumns excludes seq: seq is a BIGSERIAL assigned by the database on
// insert, which is what makes it strictly monotonic across writers.
const auditColumns = `id, trace_id, actor_type, actor_id, action, rationale,
	target, approval_state, input_hash, output_hash, metadata, timestamp`

const auditNumFields = 12

// AppendBatch inserts the whole batch in one statement with dynamically built
// placeholders. The recorder hands us batches of at most ~100 events, well
// under the 65535 bind-parameter ceiling.
func (s *Store) AppendBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	var sb strings.Builder
	vals := make([]any, 0, len(events)*auditNumFields)

	for i, e := range events {
		p := i * auditNumFields
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12)

		var meta []byte
		if len(e.Metadata) > 0 {
			meta, _ = json.Marshal(e.Metadata)
		}

		vals = append(vals,
			e.ID, nullStr(e.TraceID), e.ActorType, e.ActorID, e.Action, nullStr(e.Rationale),
			nullStr(e.Target), nullStr(string(e.ApprovalState)), nullStr(e.InputHash), nullStr(e.OutputHash),
			meta, e.Timestamp,
		)
	}

	query := `INSERT INTO audit_events (` + auditColumns + `) VALUES ` + sb.String()
	if _, err := s.pool.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: append audit batch: %w", err)
	}
	return nil
}

// Query returns the most recent events matching the filter, ordered by seq
// ascending so exports replay in the order things happened. With MinSeq set
// it pages forward from the cursor instead of windowing on recency.
func (s *Store) Query(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	conds := make([]string, 0, 5)
	args := make([]any, 0, 6)
	if f.ActionPrefix != "" {
		args = append(args, f.ActionPrefix+"%")
		conds = append(conds, fmt.Sprintf("action LIKE $%d", len(args)))
	}
	if f.ActorID != "" {
		args = append(args, f.ActorID)
		conds = append(conds, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	if f.Target != "" {
		args = append(args, f.Target)
		conds = append(conds, fmt.Sprintf("target = $%d", len(args)))
	}
	if f.ApprovalState != "" {
		args = append(args, string(f.ApprovalState))
		conds = append(conds, fmt.Sprintf("approval_state = $%d", len(args)))
	}
	if f.MinSeq > 0 {
		args = append(args, f.MinSeq)
		conds = append(conds, fmt.Sprintf("seq >= $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)

	var query string
	if f.MinSeq > 0 {
		query = fmt.Sprintf(
			`SELECT seq, %s FROM audit_events%s ORDER BY seq ASC LIMIT $%d`,
			auditColumns, where, len(args),
		)
	} else {
		// Inner query picks the newest N, outer flips them back to log order.
		query = fmt.Sprintf(
			`SELECT * FROM (
			   SELECT seq, %s FROM audit_events%s ORDER BY seq DESC LIMIT $%d
			 ) recent ORDER BY seq ASC`,
			auditColumns, where, len(args),
		)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query audit events: %w", err)
	}
	defer rows.Close()

	results := make([]audit.Event, 0, limit)
	for rows.Next() {
		var e audit.Event
		var traceID, rationale, target, approvalState, inputHash, outputHash sql.NullString
		var meta []byte

		err := rows.Scan(
			&e.Seq, &e.ID, &traceID, &e.ActorType, &e.ActorID, &e.Action, &rationale,
			&target, &approvalState, &inputHash, &outputHash, &meta, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan audit event: %w", err)
		}

		e.TraceID = traceID.String
		e.Rationale = rationale.String
		e.Target = target.String
		e.ApprovalState = domain.ProposalStatus(approvalState.String)
		e.InputHash = inputHash.String
		e.OutputHash = outputHash.String
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: decode audit metadata: %w", err)
			}
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration: %w", err)
	}
	return results, nil
}

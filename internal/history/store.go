package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const maxStderrTailBytes = 64 * 1024

// Store is the persistent log of webhook deliveries and their actions.
type Store struct {
	db *sql.DB
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record persists a finished delivery and its action rows in one transaction.
func (s *Store) Record(ctx context.Context, d Delivery) error {
	if d.ID == "" {
		return fmt.Errorf("delivery id is empty")
	}
	if d.ProjectID == "" {
		return fmt.Errorf("project id is empty")
	}
	if d.Status == "" {
		return fmt.Errorf("delivery status is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO deliveries(
  id, project_id, event, repository, ref, pusher, status, message,
  actions_total, actions_ok, received_at, finished_at, duration_ms, remote_addr
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, d.ID, d.ProjectID, d.Event, d.Repository, d.Ref, d.Pusher, d.Status, d.Message,
		d.ActionsTotal, d.ActionsOK,
		d.ReceivedAt.UTC().Format(time.RFC3339Nano),
		d.FinishedAt.UTC().Format(time.RFC3339Nano),
		d.DurationMs, d.RemoteAddr)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}

	for _, a := range d.Actions {
		tail := a.StderrTail
		if len(tail) > maxStderrTailBytes {
			tail = tail[:maxStderrTailBytes]
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO delivery_actions(
  delivery_id, seq, action_type, command, status, exit_code, duration_ms, stderr_tail
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, d.ID, a.Seq, a.Type, a.Command, a.Status, a.ExitCode, a.DurationMs, tail)
		if err != nil {
			return fmt.Errorf("insert delivery action %d: %w", a.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Recent returns the newest deliveries, most recent first. A non-empty
// projectID narrows the result to one project. Action rows are not loaded.
func (s *Store) Recent(ctx context.Context, limit int, projectID string) ([]Delivery, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
SELECT id, project_id, event, repository, ref, pusher, status, message,
       actions_total, actions_ok, received_at, finished_at, duration_ms, remote_addr
FROM deliveries
`
	args := []any{}
	if projectID != "" {
		query += "WHERE project_id = ?\n"
		args = append(args, projectID)
	}
	query += "ORDER BY received_at DESC, rowid DESC\nLIMIT ?;"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return out, nil
}

// Get loads one delivery with its action rows. Returns ErrDeliveryNotFound
// when no delivery has the given id.
func (s *Store) Get(ctx context.Context, id string) (*Delivery, error) {
	if id == "" {
		return nil, fmt.Errorf("delivery id is empty")
	}

	row := s.db.QueryRowContext(ctx, `
SELECT id, project_id, event, repository, ref, pusher, status, message,
       actions_total, actions_ok, received_at, finished_at, duration_ms, remote_addr
FROM deliveries
WHERE id = ?;
`, id)

	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT delivery_id, seq, action_type, command, status, exit_code, duration_ms, stderr_tail
FROM delivery_actions
WHERE delivery_id = ?
ORDER BY seq ASC;
`, id)
	if err != nil {
		return nil, fmt.Errorf("query delivery actions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a          ActionRecord
			command    sql.NullString
			stderrTail sql.NullString
			statusS    string
		)
		if err := rows.Scan(&a.DeliveryID, &a.Seq, &a.Type, &command, &statusS, &a.ExitCode, &a.DurationMs, &stderrTail); err != nil {
			return nil, fmt.Errorf("scan delivery action: %w", err)
		}
		a.Status = ActionStatus(statusS)
		if command.Valid {
			a.Command = command.String
		}
		if stderrTail.Valid {
			a.StderrTail = stderrTail.String
		}
		d.Actions = append(d.Actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery actions: %w", err)
	}
	return &d, nil
}

// CountByStatus tallies deliveries per terminal status.
func (s *Store) CountByStatus(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT status, COUNT(*)
FROM deliveries
GROUP BY status;
`)
	if err != nil {
		return Stats{}, fmt.Errorf("count deliveries: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, fmt.Errorf("scan delivery count: %w", err)
		}
		stats.Total += n
		switch DeliveryStatus(status) {
		case StatusCompleted:
			stats.Completed = n
		case StatusPartial:
			stats.Partial = n
		case StatusSkipped:
			stats.Skipped = n
		case StatusRejected:
			stats.Rejected = n
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate delivery counts: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row rowScanner) (Delivery, error) {
	var (
		d           Delivery
		repository  sql.NullString
		ref         sql.NullString
		pusher      sql.NullString
		message     sql.NullString
		remoteAddr  sql.NullString
		receivedAtS string
		finishedAtS string
		statusS     string
	)
	err := row.Scan(
		&d.ID, &d.ProjectID, &d.Event, &repository, &ref, &pusher, &statusS, &message,
		&d.ActionsTotal, &d.ActionsOK, &receivedAtS, &finishedAtS, &d.DurationMs, &remoteAddr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Delivery{}, err
		}
		return Delivery{}, fmt.Errorf("scan delivery: %w", err)
	}

	d.Status = DeliveryStatus(statusS)
	if repository.Valid {
		d.Repository = repository.String
	}
	if ref.Valid {
		d.Ref = ref.String
	}
	if pusher.Valid {
		d.Pusher = pusher.String
	}
	if message.Valid {
		d.Message = message.String
	}
	if remoteAddr.Valid {
		d.RemoteAddr = remoteAddr.String
	}
	if t, err := time.Parse(time.RFC3339Nano, receivedAtS); err == nil {
		d.ReceivedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, finishedAtS); err == nil {
		d.FinishedAt = t
	}
	return d, nil
}

package queries

import (
	"context"
)

const claimMessage = `-- name: ClaimMessage :execrows
UPDATE queue_messages
SET receive_count = receive_count + 1, visible_at = ?, receipt_handle = ?
WHERE id = ? AND visible_at <= ?
`

type ClaimMessageParams struct {
	VisibleAt     int64
	ReceiptHandle string
	ID            int64
	Now           int64
}

func (q *Queries) ClaimMessage(ctx context.Context, arg ClaimMessageParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, q.r.render(claimMessage), arg.VisibleAt, arg.ReceiptHandle, arg.ID, arg.Now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const changeMessageVisibility = `-- name: ChangeMessageVisibility :execrows
UPDATE queue_messages
SET visible_at = ?
WHERE queue_name = ? AND receipt_handle = ?
`

type ChangeMessageVisibilityParams struct {
	VisibleAt     int64
	QueueName     string
	ReceiptHandle string
}

func (q *Queries) ChangeMessageVisibility(ctx context.Context, arg ChangeMessageVisibilityParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, q.r.render(changeMessageVisibility), arg.VisibleAt, arg.QueueName, arg.ReceiptHandle)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const claimDedupID = `-- name: ClaimDedupID :execrows
INSERT INTO queue_dedup (queue_name, dedup_id, expires_at)
VALUES (?, ?, ?)
ON CONFLICT (queue_name, dedup_id) DO UPDATE SET
    expires_at = excluded.expires_at
WHERE queue_dedup.expires_at <= ?
`

type ClaimDedupIDParams struct {
	QueueName string
	DedupID   string
	ExpiresAt int64
	Now       int64
}

func (q *Queries) ClaimDedupID(ctx context.Context, arg ClaimDedupIDParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, q.r.render(claimDedupID), arg.QueueName, arg.DedupID, arg.ExpiresAt, arg.Now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const countMessages = `-- name: CountMessages :one
SELECT COUNT(*) FROM queue_messages
WHERE queue_name = ?
`

func (q *Queries) CountMessages(ctx context.Context, queueName string) (int64, error) {
	row := q.db.QueryRowContext(ctx, q.r.render(countMessages), queueName)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const countInFlightMessages = `-- name: CountInFlightMessages :one
SELECT COUNT(*) FROM queue_messages
WHERE queue_name = ? AND receipt_handle IS NOT NULL AND visible_at > ?
`

type CountInFlightMessagesParams struct {
	QueueName string
	Now       int64
}

func (q *Queries) CountInFlightMessages(ctx context.Context, arg CountInFlightMessagesParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, q.r.render(countInFlightMessages), arg.QueueName, arg.Now)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const deleteMessage = `-- name: DeleteMessage :exec
DELETE FROM queue_messages
WHERE id = ?
`

func (q *Queries) DeleteMessage(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, q.r.render(deleteMessage), id)
	return err
}

const deleteMessageByReceipt = `-- name: DeleteMessageByReceipt :execrows
DELETE FROM queue_messages
WHERE queue_name = ? AND receipt_handle = ?
`

type DeleteMessageByReceiptParams struct {
	QueueName     string
	ReceiptHandle string
}

func (q *Queries) DeleteMessageByReceipt(ctx context.Context, arg DeleteMessageByReceiptParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, q.r.render(deleteMessageByReceipt), arg.QueueName, arg.ReceiptHandle)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const enqueueMessage = `-- name: EnqueueMessage :one
INSERT INTO queue_messages (queue_name, group_id, dedup_id, body, receive_count, visible_at, sent_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING id
`

type EnqueueMessageParams struct {
	QueueName    string
	GroupID      string
	DedupID      string
	Body         []byte
	ReceiveCount int64
	VisibleAt    int64
	SentAt       int64
}

func (q *Queries) EnqueueMessage(ctx context.Context, arg EnqueueMessageParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, q.r.render(enqueueMessage),
		arg.QueueName,
		arg.GroupID,
		arg.DedupID,
		arg.Body,
		arg.ReceiveCount,
		arg.VisibleAt,
		arg.SentAt,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const listDeliverableHeads = `-- name: ListDeliverableHeads :many
SELECT m.id, m.queue_name, m.group_id, m.dedup_id, m.body, m.receive_count, m.visible_at, m.receipt_handle, m.sent_at
FROM queue_messages m
WHERE m.queue_name = ?
  AND m.visible_at <= ?
  AND m.id = (
    SELECT MIN(h.id) FROM queue_messages h
    WHERE h.queue_name = m.queue_name AND h.group_id = m.group_id
  )
ORDER BY m.id
LIMIT ?
`

type ListDeliverableHeadsParams struct {
	QueueName string
	Now       int64
	Limit     int64
}

func (q *Queries) ListDeliverableHeads(ctx context.Context, arg ListDeliverableHeadsParams) ([]QueueMessage, error) {
	rows, err := q.db.QueryContext(ctx, q.r.render(listDeliverableHeads), arg.QueueName, arg.Now, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []QueueMessage
	for rows.Next() {
		var i QueueMessage
		if err := rows.Scan(
			&i.ID,
			&i.QueueName,
			&i.GroupID,
			&i.DedupID,
			&i.Body,
			&i.ReceiveCount,
			&i.VisibleAt,
			&i.ReceiptHandle,
			&i.SentAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const purgeExpiredDedup = `-- name: PurgeExpiredDedup :execrows
DELETE FROM queue_dedup
WHERE expires_at <= ?
`

func (q *Queries) PurgeExpiredDedup(ctx context.Context, now int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, q.r.render(purgeExpiredDedup), now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const insertDeadLetter = `-- name: InsertDeadLetter :one
INSERT INTO dead_letters (queue_name, original_id, group_id, dedup_id, body, receive_count, sent_at, dead_lettered_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id
`

type InsertDeadLetterParams struct {
	QueueName      string
	OriginalID     int64
	GroupID        string
	DedupID        string
	Body           []byte
	ReceiveCount   int64
	SentAt         int64
	DeadLetteredAt int64
	ExpiresAt      int64
}

func (q *Queries) InsertDeadLetter(ctx context.Context, arg InsertDeadLetterParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, q.r.render(insertDeadLetter),
		arg.QueueName,
		arg.OriginalID,
		arg.GroupID,
		arg.DedupID,
		arg.Body,
		arg.ReceiveCount,
		arg.SentAt,
		arg.DeadLetteredAt,
		arg.ExpiresAt,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const deadLetterColumns = `id, queue_name, original_id, group_id, dedup_id, body, receive_count, sent_at, dead_lettered_at, expires_at`

const getDeadLetter = `-- name: GetDeadLetter :one
SELECT ` + deadLetterColumns + `
FROM dead_letters
WHERE id = ?
`

func (q *Queries) GetDeadLetter(ctx context.Context, id int64) (DeadLetter, error) {
	row := q.db.QueryRowContext(ctx, q.r.render(getDeadLetter), id)
	return scanDeadLetter(row)
}

const listDeadLetters = `-- name: ListDeadLetters :many
SELECT ` + deadLetterColumns + `
FROM dead_letters
WHERE queue_name = ?
ORDER BY id
LIMIT ?
`

type ListDeadLettersParams struct {
	QueueName string
	Limit     int64
}

func (q *Queries) ListDeadLetters(ctx context.Context, arg ListDeadLettersParams) ([]DeadLetter, error) {
	rows, err := q.db.QueryContext(ctx, q.r.render(listDeadLetters), arg.QueueName, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DeadLetter
	for rows.Next() {
		i, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteDeadLetter = `-- name: DeleteDeadLetter :execrows
DELETE FROM dead_letters
WHERE id = ?
`

func (q *Queries) DeleteDeadLetter(ctx context.Context, id int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, q.r.render(deleteDeadLetter), id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const purgeExpiredDeadLetters = `-- name: PurgeExpiredDeadLetters :execrows
DELETE FROM dead_letters
WHERE queue_name = ? AND expires_at <= ?
`

type PurgeExpiredDeadLettersParams struct {
	QueueName string
	Now       int64
}

func (q *Queries) PurgeExpiredDeadLetters(ctx context.Context, arg PurgeExpiredDeadLettersParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, q.r.render(purgeExpiredDeadLetters), arg.QueueName, arg.Now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanDeadLetter(row interface{ Scan(...interface{}) error }) (DeadLetter, error) {
	var i DeadLetter
	err := row.Scan(
		&i.ID,
		&i.QueueName,
		&i.OriginalID,
		&i.GroupID,
		&i.DedupID,
		&i.Body,
		&i.ReceiveCount,
		&i.SentAt,
		&i.DeadLetteredAt,
		&i.ExpiresAt,
	)
	return i, err
}

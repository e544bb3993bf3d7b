package queries

import (
	"context"
)

const acquireLease = `-- name: AcquireLease :execrows
INSERT INTO leases (name, holder, expires_at)
VALUES (?, ?, ?)
ON CONFLICT (name) DO UPDATE SET
    holder = excluded.holder,
    expires_at = excluded.expires_at
WHERE leases.expires_at <= ? OR leases.holder = excluded.holder
`

type AcquireLeaseParams struct {
	Name      string
	Holder    string
	ExpiresAt int64
	Now       int64
}

func (q *Queries) AcquireLease(ctx context.Context, arg AcquireLeaseParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, q.r.render(acquireLease), arg.Name, arg.Holder, arg.ExpiresAt, arg.Now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const releaseLease = `-- name: ReleaseLease :execrows
DELETE FROM leases
WHERE name = ? AND holder = ?
`

type ReleaseLeaseParams struct {
	Name   string
	Holder string
}

func (q *Queries) ReleaseLease(ctx context.Context, arg ReleaseLeaseParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, q.r.render(releaseLease), arg.Name, arg.Holder)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

package sqlstore

import (
	"context"
	"time"

	"github.com/fr0stylo/docmirror/internal/app/ports"
	"github.com/fr0stylo/docmirror/internal/db"
	"github.com/fr0stylo/docmirror/internal/db/queries"
)

// Locker hands out expiring named leases from the leases table.
type Locker struct {
	db  *db.Database
	now func() time.Time
}

func NewLocker(database *db.Database) *Locker {
	return &Locker{db: database, now: time.Now}
}

// TryAcquire takes the lease when it is free, expired, or already held by holder.
func (l *Locker) TryAcquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := l.now()
	acquired, err := l.db.AcquireLease(ctx, queries.AcquireLeaseParams{
		Name:      name,
		Holder:    holder,
		ExpiresAt: now.Add(ttl).UnixMilli(),
		Now:       now.UnixMilli(),
	})
	if err != nil {
		return false, err
	}
	return acquired > 0, nil
}

func (l *Locker) Release(ctx context.Context, name, holder string) error {
	_, err := l.db.ReleaseLease(ctx, queries.ReleaseLeaseParams{Name: name, Holder: holder})
	return err
}

var _ ports.Locker = (*Locker)(nil)

package queries

import (
	"database/sql"
)

type Item struct {
	ItemID           string
	SourceType       string
	MirrorKey        string
	Name             string
	ParentID         sql.NullString
	OwnerName        string
	OwnerType        string
	ContentHash      sql.NullString
	SourceCreatedAt  sql.NullInt64
	SourceModifiedAt sql.NullInt64
	TombstonedAt     sql.NullInt64
	SyncedAt         int64
}

type Collaboration struct {
	ItemID          string
	CollaborationID string
	AccessibleType  string
	AccessibleName  string
	Role            string
	Status          string
}

type QueueMessage struct {
	ID            int64
	QueueName     string
	GroupID       string
	DedupID       string
	Body          []byte
	ReceiveCount  int64
	VisibleAt     int64
	ReceiptHandle sql.NullString
	SentAt        int64
}

type DeadLetter struct {
	ID             int64
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

type Lease struct {
	Name      string
	Holder    string
	ExpiresAt int64
}

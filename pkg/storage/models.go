// Package storage is the relational storage engine: a bounded connection
// pool over SQLite or PostgreSQL, unified behind the Engine interface, that
// persists every durable record this engine needs — folders, files,
// segments, messages, publications, queues, and the change journal
// (spec.md §3, §4.2).
package storage

import "time"

// User is a local account: the owner of folders and the holder of an
// Ed25519 identity keypair used to derive private-share commitments.
type User struct {
	ID           string `gorm:"primaryKey;size:36"`
	Username     string `gorm:"uniqueIndex;size:255;not null"`
	Email        string `gorm:"size:255"`
	PasswordHash string `gorm:"size:255;not null"`
	PublicKey    []byte `gorm:"type:blob"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Folder is a synchronized local directory tree.
type Folder struct {
	ID              string `gorm:"primaryKey;size:64"` // 64-hex folder identifier
	LocalPath       string `gorm:"size:4096;not null"`
	DisplayName     string `gorm:"size:255"`
	OwnerUserID     string `gorm:"size:36;index;not null"`
	PublicKey       []byte `gorm:"type:blob;not null"`
	EncryptedKey    []byte `gorm:"type:blob;not null"` // Ed25519 private key, encrypted under the owner's master key
	KeyNonce        []byte `gorm:"type:blob;not null"`
	CurrentVersion  int    `gorm:"not null;default:1"`
	FileCount       int    `gorm:"not null;default:0"`
	TotalSize       int64  `gorm:"not null;default:0"`
	AccessMode      string `gorm:"size:16;not null"` // public | protected | private
	Status          string `gorm:"size:16;not null;default:active"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FolderVersion records one completed indexing pass over a folder.
type FolderVersion struct {
	ID          string `gorm:"primaryKey;size:36"`
	FolderID    string `gorm:"size:64;index;not null"`
	Version     int    `gorm:"not null"`
	FileCount   int    `gorm:"not null"`
	TotalSize   int64  `gorm:"not null"`
	MerkleRoot  string `gorm:"size:64"`
	CreatedAt   time.Time
}

// File is one tracked file within a folder, at a specific version.
type File struct {
	ID                   string  `gorm:"primaryKey;size:36"`
	FolderID             string  `gorm:"size:64;index;not null"`
	RelativePath         string  `gorm:"size:4096;not null"`
	Size                 int64   `gorm:"not null"`
	ContentHash          string  `gorm:"size:64;not null"`
	MimeType             string  `gorm:"size:255"`
	Version              int     `gorm:"not null"`
	PreviousVersionID    *string `gorm:"size:36"`
	Status               string  `gorm:"size:16;not null;default:pending"`
	TotalSegments        int     `gorm:"not null;default:0"`
	UploadedSegments     int     `gorm:"not null;default:0"`
	EncryptionKey        []byte  `gorm:"type:blob"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Segment is one fixed-size (or final short) byte range of a file, the
// unit posted as one Usenet article.
type Segment struct {
	ID              string `gorm:"primaryKey;size:36"`
	FileID          string `gorm:"size:36;index;not null"`
	SegmentIndex    int    `gorm:"not null"`
	OffsetStart     int64  `gorm:"not null"`
	OffsetEnd       int64  `gorm:"not null"`
	UncompressedSize int64 `gorm:"not null"`
	CompressedSize  int64  `gorm:"not null"`
	ContentHash     string `gorm:"size:64;not null"`
	RedundancyIndex int    `gorm:"not null;default:0"`
	InternalSubject string `gorm:"size:64;index;not null"`
	Nonce           []byte `gorm:"type:blob;not null"`
	State           string `gorm:"size:16;not null;default:new"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Message records one posted Usenet article for a segment.
type Message struct {
	ID            string `gorm:"primaryKey;size:36"`
	SegmentID     string `gorm:"size:36;index;not null"`
	MessageID     string `gorm:"size:255;not null"` // server-returned, opaque
	UsenetSubject string `gorm:"size:255;not null"`
	Newsgroup     string `gorm:"size:255;not null"`
	Server        string `gorm:"size:255;not null"`
	Size          int64  `gorm:"not null"`
	PostedAt      time.Time
}

// Publication is a Share: the out-of-band token a recipient needs to
// reconstruct a folder at a specific version.
type Publication struct {
	ID                 string     `gorm:"primaryKey;size:24"` // share identifier
	FolderID           string     `gorm:"size:64;index;not null"`
	FolderVersion      int        `gorm:"not null"`
	OwnerUserID        string     `gorm:"size:36;index;not null"`
	AccessMode         string     `gorm:"size:16;not null"`
	EncryptedIndex     []byte     `gorm:"type:blob;not null"`
	IndexNonce         []byte     `gorm:"type:blob;not null"`
	IndexMessageID     string     `gorm:"size:255"`
	ArgonSalt          []byte     `gorm:"type:blob"` // protected shares only
	ArgonTimeCost      uint32
	ArgonMemoryKiB     uint32
	ArgonThreads       uint8
	ExpiresAt          *time.Time
	Revoked            bool `gorm:"not null;default:false"`
	Status             string `gorm:"size:16;not null;default:active"`
	AccessCount        int64  `gorm:"not null;default:0"`
	LastAccessedAt     *time.Time
	LastAccessedByUser string `gorm:"size:36"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AuthorizedUser is a private-share recipient, existing independently of
// their per-publication commitment so the same user can be re-authorized
// across re-published shares without re-deriving their identity.
type AuthorizedUser struct {
	ID     string `gorm:"primaryKey;size:36"`
	UserID string `gorm:"size:36;index;not null"`
}

// UserCommitment is a private share's zero-knowledge access commitment for
// one recipient: enough for that recipient to prove access and unwrap
// their session key, without revealing anything to other holders of the
// share identifier.
type UserCommitment struct {
	ID                 string `gorm:"primaryKey;size:36"`
	PublicationID      string `gorm:"size:24;index;not null"`
	UserID             string `gorm:"size:36;index;not null"`
	CommitmentHash     []byte `gorm:"type:blob;not null"`
	Salt               []byte `gorm:"type:blob;not null"`
	VerificationKey    []byte `gorm:"type:blob;not null"` // recipient's X25519 public key
	WrappedSessionKey  []byte `gorm:"type:blob;not null"`
	WrapNonce          []byte `gorm:"type:blob;not null"`
	EphemeralPublicKey []byte `gorm:"type:blob;not null"`
	CreatedAt          time.Time
}

// UploadQueueEntry is one durable upload task: post a segment, or an
// index article, to the NNTP network.
type UploadQueueEntry struct {
	ID          string `gorm:"primaryKey;size:36"`
	SegmentID   string `gorm:"size:36;index"`
	PublicationID string `gorm:"size:24;index"` // set instead of SegmentID for index-article uploads
	Priority    int    `gorm:"not null;default:0"`
	State       string `gorm:"size:16;not null;default:pending;index"`
	Attempts    int    `gorm:"not null;default:0"`
	LastError   string `gorm:"size:2048"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DownloadQueueEntry mirrors UploadQueueEntry for fetch-side work.
type DownloadQueueEntry struct {
	ID            string `gorm:"primaryKey;size:36"`
	PublicationID string `gorm:"size:24;index;not null"`
	FileID        string `gorm:"size:36;index"`
	SegmentIndex  int
	DestinationPath string `gorm:"size:4096;not null"`
	Priority      int    `gorm:"not null;default:0"`
	State         string `gorm:"size:16;not null;default:pending;index"`
	Attempts      int    `gorm:"not null;default:0"`
	LastError     string `gorm:"size:2048"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ChangeJournalEntry records one path's classification (unchanged / modified
// / added / deleted) discovered by a scan, for audit and incremental
// re-indexing.
type ChangeJournalEntry struct {
	ID           string `gorm:"primaryKey;size:36"`
	FolderID     string `gorm:"size:64;index;not null"`
	Version      int    `gorm:"not null"`
	RelativePath string `gorm:"size:4096;not null"`
	Kind         string `gorm:"size:16;not null"`
	CreatedAt    time.Time
}

// MetricSample is a point-in-time counter/gauge snapshot persisted for the
// /stats endpoint to survive process restarts (supplements the live
// Prometheus registry, see pkg/metrics).
type MetricSample struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"size:255;index;not null"`
	Value     float64
	Labels    string `gorm:"size:1024"` // JSON-encoded label set
	CreatedAt time.Time
}

// AllModels returns every GORM model, for schema verification and test
// fixture setup. Production schema changes are applied by the numbered SQL
// migrations in pkg/storage/migrations, not GORM AutoMigrate — these
// structs are the query-side projection of that schema.
func AllModels() []any {
	return []any{
		&User{},
		&Folder{},
		&FolderVersion{},
		&File{},
		&Segment{},
		&Message{},
		&Publication{},
		&AuthorizedUser{},
		&UserCommitment{},
		&UploadQueueEntry{},
		&DownloadQueueEntry{},
		&ChangeJournalEntry{},
		&MetricSample{},
	}
}

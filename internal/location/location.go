// Package location abstracts a single addressable filesystem object — a
// file or directory — behind one interface with two backends: a Local
// backend (os package) and a Remote backend (SFTP over SSH). Storage and
// Task code is written entirely against the Location interface so that a
// workspace can be relocated from local disk to a remote host without any
// change above this package.
package location

import (
	"context"
	"io"
	"time"
)

// OpenMode selects how Open behaves, mirroring the handful of modes the
// storage layer actually needs rather than the full os.O_* flag set.
type OpenMode int

const (
	// ModeRead opens an existing file for reading.
	ModeRead OpenMode = iota
	// ModeWrite truncates (or creates) the file for writing.
	ModeWrite
	// ModeAppend opens (or creates) the file for appending.
	ModeAppend
	// ModeReadWrite opens (or creates) the file for read and write, without
	// truncation — used by the block-delta sync algorithm.
	ModeReadWrite
)

// ReadWriteSeekCloser is satisfied by both a local *os.File and a
// RemoteFile's SFTP handle, and is what the sync algorithm operates on.
type ReadWriteSeekCloser interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
	Truncate(size int64) error
}

// Location is a single file or directory, local or remote.
type Location interface {
	// AbsolutePath returns the canonical path string for this location.
	AbsolutePath() string
	// Name returns the base name of this location.
	Name() string
	// SetName renames the in-memory reference to this location without
	// touching the backing filesystem.
	SetName(newName string)
	// StorageType identifies the backend: "local" or "remote".
	StorageType() string
	// Parent returns a new Location referring to this one's directory.
	Parent() Location

	// MTime returns the last modification time. Valid only after Exists,
	// ForceRefreshStat, or another stat-refreshing call has run at least once.
	MTime() (time.Time, error)
	// ATime returns the last access time, with the same validity rule as MTime.
	ATime() (time.Time, error)
	// Size returns the file size in bytes, with the same validity rule as MTime.
	Size() (int64, error)

	Exists(ctx context.Context) (bool, error)
	IsDir(ctx context.Context) (bool, error)
	IsFile(ctx context.Context) (bool, error)

	// Read returns the full contents of the location.
	Read(ctx context.Context) ([]byte, error)
	// Open returns a handle for streaming reads/writes, used by the sync
	// algorithm and by callers that do not want the whole file buffered.
	Open(ctx context.Context, mode OpenMode) (ReadWriteSeekCloser, error)

	// ForceRefreshStat re-queries the backend for stat info rather than
	// trusting a cached value.
	ForceRefreshStat(ctx context.Context) error

	Touch(ctx context.Context, existOK bool, parents bool) error
	Mkdir(ctx context.Context, parents bool) error
	Delete(ctx context.Context, missingOK bool, recursive bool) error
	Move(ctx context.Context, other Location) error
	Copy(ctx context.Context, other Location) error
	// Rotate moves this location to "<name>.old<N>" for the lowest free N.
	Rotate(ctx context.Context) error

	// JoinLoc returns a new Location addressing a child path under this one.
	JoinLoc(child string) Location
	// IterLocation lists the immediate children of a directory location.
	IterLocation(ctx context.Context) ([]Location, error)

	// SyncLocations makes the contents of this location match src,
	// rewriting only the blocks that differ when both sides are regular
	// files (see sync.go for the block-delta algorithm).
	SyncLocations(ctx context.Context, src Location, useMetadata bool, fullHashCheck bool) error

	// ToDict returns a backend-specific, JSON-serializable description of
	// this location. This package has no constructor that reads it back.
	ToDict() map[string]any
}

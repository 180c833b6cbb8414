package location

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// LocalFile is a Location backed by the local filesystem.
type LocalFile struct {
	absPath string
	name    string
	stat    fs.FileInfo
}

var _ Location = (*LocalFile)(nil)

// NewLocalFile returns a Location rooted at path, which is resolved to an
// absolute, cleaned form. It does not require path to exist yet.
func NewLocalFile(path string) (*LocalFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("location: resolve local path %q: %w", path, err)
	}
	abs = filepath.Clean(abs)
	l := &LocalFile{absPath: abs, name: filepath.Base(abs)}
	l.stat, _ = os.Lstat(abs)
	return l, nil
}

func (l *LocalFile) AbsolutePath() string { return l.absPath }
func (l *LocalFile) Name() string         { return l.name }
func (l *LocalFile) SetName(newName string) {
	l.name = newName
	l.absPath = filepath.Join(filepath.Dir(l.absPath), newName)
}
func (l *LocalFile) StorageType() string { return "local" }

func (l *LocalFile) Parent() Location {
	p, _ := NewLocalFile(filepath.Dir(l.absPath))
	return p
}

func (l *LocalFile) MTime() (time.Time, error) {
	if l.stat == nil {
		return time.Time{}, fmt.Errorf("location: %s: no stat info, call Exists or ForceRefreshStat first", l.absPath)
	}
	return l.stat.ModTime(), nil
}

func (l *LocalFile) ATime() (time.Time, error) {
	if l.stat == nil {
		return time.Time{}, fmt.Errorf("location: %s: no stat info, call Exists or ForceRefreshStat first", l.absPath)
	}
	return accessTime(l.stat), nil
}

func (l *LocalFile) Size() (int64, error) {
	if l.stat == nil {
		return 0, fmt.Errorf("location: %s: no stat info, call Exists or ForceRefreshStat first", l.absPath)
	}
	return l.stat.Size(), nil
}

func (l *LocalFile) Exists(_ context.Context) (bool, error) {
	info, err := os.Lstat(l.absPath)
	if err != nil {
		if os.IsNotExist(err) {
			l.stat = nil
			return false, nil
		}
		return false, fmt.Errorf("location: stat %s: %w", l.absPath, err)
	}
	l.stat = info
	return true, nil
}

func (l *LocalFile) IsDir(ctx context.Context) (bool, error) {
	ok, err := l.Exists(ctx)
	if err != nil || !ok {
		return false, err
	}
	return l.stat.IsDir(), nil
}

func (l *LocalFile) IsFile(ctx context.Context) (bool, error) {
	ok, err := l.Exists(ctx)
	if err != nil || !ok {
		return false, err
	}
	return l.stat.Mode().IsRegular(), nil
}

func (l *LocalFile) ForceRefreshStat(_ context.Context) error {
	info, err := os.Lstat(l.absPath)
	if err != nil {
		return fmt.Errorf("location: stat %s: %w", l.absPath, err)
	}
	l.stat = info
	return nil
}

func (l *LocalFile) Read(ctx context.Context) ([]byte, error) {
	isFile, err := l.IsFile(ctx)
	if err != nil {
		return nil, err
	}
	if !isFile {
		return nil, fmt.Errorf("location: %s: not a regular file", l.absPath)
	}
	data, err := os.ReadFile(l.absPath)
	if err != nil {
		return nil, fmt.Errorf("location: read %s: %w", l.absPath, err)
	}
	return data, nil
}

func (l *LocalFile) Open(_ context.Context, mode OpenMode) (ReadWriteSeekCloser, error) {
	var flag int
	switch mode {
	case ModeRead:
		flag = os.O_RDONLY
	case ModeWrite:
		flag = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	case ModeAppend:
		flag = os.O_RDWR | os.O_CREATE | os.O_APPEND
	case ModeReadWrite:
		flag = os.O_RDWR | os.O_CREATE
	default:
		return nil, fmt.Errorf("location: unsupported open mode %d", mode)
	}
	f, err := os.OpenFile(l.absPath, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("location: open %s: %w", l.absPath, err)
	}
	return f, nil
}

func (l *LocalFile) Touch(ctx context.Context, existOK bool, parents bool) error {
	exists, err := l.Exists(ctx)
	if err != nil {
		return err
	}
	if exists && !existOK {
		return fmt.Errorf("location: %s: already exists", l.absPath)
	}
	if parents {
		if err := os.MkdirAll(filepath.Dir(l.absPath), 0755); err != nil {
			return fmt.Errorf("location: create parents for %s: %w", l.absPath, err)
		}
	}
	f, err := os.OpenFile(l.absPath, os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("location: touch %s: %w", l.absPath, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return l.ForceRefreshStat(ctx)
}

func (l *LocalFile) Mkdir(ctx context.Context, parents bool) error {
	var err error
	if parents {
		err = os.MkdirAll(l.absPath, 0755)
	} else {
		err = os.Mkdir(l.absPath, 0755)
	}
	if err != nil {
		return fmt.Errorf("location: mkdir %s: %w", l.absPath, err)
	}
	return l.ForceRefreshStat(ctx)
}

func (l *LocalFile) Delete(ctx context.Context, missingOK bool, recursive bool) error {
	exists, err := l.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		if missingOK {
			return nil
		}
		return fmt.Errorf("location: %s: does not exist", l.absPath)
	}
	if recursive {
		err = os.RemoveAll(l.absPath)
	} else {
		err = os.Remove(l.absPath)
	}
	if err != nil {
		return fmt.Errorf("location: delete %s: %w", l.absPath, err)
	}
	l.stat = nil
	return nil
}

func (l *LocalFile) Move(ctx context.Context, other Location) error {
	if other.StorageType() != "local" {
		return l.crossBackendMove(ctx, other)
	}
	if err := os.MkdirAll(filepath.Dir(other.AbsolutePath()), 0755); err != nil {
		return fmt.Errorf("location: prepare destination for move: %w", err)
	}
	if err := os.Rename(l.absPath, other.AbsolutePath()); err != nil {
		return fmt.Errorf("location: move %s to %s: %w", l.absPath, other.AbsolutePath(), err)
	}
	l.stat = nil
	return nil
}

func (l *LocalFile) crossBackendMove(ctx context.Context, other Location) error {
	if err := l.Copy(ctx, other); err != nil {
		return err
	}
	return l.Delete(ctx, false, true)
}

func (l *LocalFile) Copy(ctx context.Context, other Location) error {
	isDir, err := l.IsDir(ctx)
	if err != nil {
		return err
	}
	if isDir {
		return l.copyDir(ctx, other)
	}
	return l.copyFile(ctx, other)
}

func (l *LocalFile) copyFile(ctx context.Context, other Location) error {
	src, err := l.Open(ctx, ModeRead)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := other.Open(ctx, ModeWrite)
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("location: copy %s to %s: %w", l.absPath, other.AbsolutePath(), err)
	}
	return nil
}

func (l *LocalFile) copyDir(ctx context.Context, other Location) error {
	if err := other.Mkdir(ctx, true); err != nil {
		return err
	}
	children, err := l.IterLocation(ctx)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := child.Copy(ctx, other.JoinLoc(child.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (l *LocalFile) Rotate(ctx context.Context) error {
	counter := 0
	for {
		candidate, err := NewLocalFile(fmt.Sprintf("%s.old%d", l.absPath, counter))
		if err != nil {
			return err
		}
		exists, err := candidate.Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return l.Move(ctx, candidate)
		}
		counter++
	}
}

func (l *LocalFile) JoinLoc(child string) Location {
	loc, _ := NewLocalFile(filepath.Join(l.absPath, child))
	return loc
}

func (l *LocalFile) IterLocation(ctx context.Context) ([]Location, error) {
	isDir, err := l.IsDir(ctx)
	if err != nil {
		return nil, err
	}
	if !isDir {
		return nil, fmt.Errorf("location: %s: not a directory", l.absPath)
	}
	entries, err := os.ReadDir(l.absPath)
	if err != nil {
		return nil, fmt.Errorf("location: list %s: %w", l.absPath, err)
	}
	out := make([]Location, 0, len(entries))
	for _, entry := range entries {
		out = append(out, l.JoinLoc(entry.Name()))
	}
	return out, nil
}

func (l *LocalFile) SyncLocations(ctx context.Context, src Location, useMetadata bool, fullHashCheck bool) error {
	return syncLocationsGeneric(ctx, l, src, useMetadata, fullHashCheck)
}

func (l *LocalFile) ToDict() map[string]any {
	return map[string]any{
		"storage_type": l.StorageType(),
		"path_ref":     l.absPath,
	}
}

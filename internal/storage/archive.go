package storage

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/mholt/archives"

	"github.com/neo154/afkrun/internal/location"
	"github.com/neo154/afkrun/internal/logger"
)

// CreateArchive bundles archiveFiles (defaulting to the archive-files
// list) into a tar.bz2 at archiveLoc (defaulting to the archive file
// slot), writing it first to a temp file under the tmp slot and moving it
// into place so a reader never observes a partially written archive. When
// cleanup is set, every archived file is deleted once the archive lands.
func (s *Storage) CreateArchive(ctx context.Context, archiveFiles []location.Location, archiveLoc location.Location, cleanup bool) error {
	if archiveFiles == nil {
		archiveFiles = s.archiveFiles
	}
	if archiveLoc == nil {
		archiveLoc = s.archiveFile
	}

	ok, err := s.CheckArchiveFiles(ctx, archiveFiles)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("storage: not all archive files exist, cannot create archive")
	}
	logger.Infof(ctx, "creating archive: %s", archiveLoc.Name())

	stem := strings.SplitN(archiveLoc.Name(), ".", 2)[0]
	tmpLoc := s.tmpLoc.JoinLoc(fmt.Sprintf("%s_tmp.tar.bz2", stem))
	exists, err := tmpLoc.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("storage: temporary archive file %s already exists, probable concurrent run", tmpLoc.AbsolutePath())
	}

	fileMap := map[string]string{}
	if err := collectArchiveMembers(ctx, archiveFiles, "", fileMap); err != nil {
		return err
	}

	members, err := archivesFromLocations(ctx, fileMap)
	if err != nil {
		return err
	}

	out, err := tmpLoc.Open(ctx, location.ModeWrite)
	if err != nil {
		return err
	}
	format := archives.CompressedArchive{Compression: archives.Bz2{}, Archival: archives.Tar{}}
	archErr := format.Archive(ctx, out, members)
	if closeErr := out.Close(); archErr == nil {
		archErr = closeErr
	}
	if archErr != nil {
		_ = tmpLoc.Delete(ctx, true, false)
		return fmt.Errorf("storage: write archive %s: %w", tmpLoc.AbsolutePath(), archErr)
	}

	if err := tmpLoc.Move(ctx, archiveLoc); err != nil {
		return err
	}

	if cleanup {
		logger.Info(ctx, "running archive cleanup")
		for _, f := range archiveFiles {
			if err := f.Delete(ctx, true, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// collectArchiveMembers walks archiveFiles (recursing into directories),
// reading each file's contents fully so it can be handed to archives as
// an in-memory member without depending on a local-filesystem path — the
// archive-files list may include remote (SFTP) Locations.
func collectArchiveMembers(ctx context.Context, files []location.Location, prefix string, out map[string]string) error {
	for _, f := range files {
		name := f.Name()
		if prefix != "" {
			name = prefix + "/" + name
		}
		isDir, err := f.IsDir(ctx)
		if err != nil {
			return err
		}
		if isDir {
			children, err := f.IterLocation(ctx)
			if err != nil {
				return err
			}
			if err := collectArchiveMembers(ctx, children, name, out); err != nil {
				return err
			}
			continue
		}
		out[name] = f.AbsolutePath()
	}
	return nil
}

// archivesFromLocations reads every referenced Location's bytes into
// memory and hands back archives.FileInfo values wrapping them, since
// location.Location (unlike a bare os.File) may be backed by SFTP.
func archivesFromLocations(ctx context.Context, fileMap map[string]string) ([]archives.FileInfo, error) {
	out := make([]archives.FileInfo, 0, len(fileMap))
	for nameInArchive, absPath := range fileMap {
		loc, err := location.NewLocalFile(absPath)
		if err != nil {
			return nil, err
		}
		_, statErr := loc.Exists(ctx)
		if statErr != nil {
			return nil, statErr
		}
		data, err := loc.Read(ctx)
		if err != nil {
			return nil, err
		}
		info := memFileInfo{name: nameInArchive, size: int64(len(data))}
		archiveData := data
		out = append(out, archives.FileInfo{
			FileInfo:      info,
			NameInArchive: nameInArchive,
			Open: func() (fs.File, error) {
				return &memFile{memFileInfo: info, reader: bytes.NewReader(archiveData)}, nil
			},
		})
	}
	return out, nil
}

// memFileInfo is a minimal fs.FileInfo for an archive member whose bytes
// live in memory rather than on disk.
type memFileInfo struct {
	name string
	size int64
}

func (m memFileInfo) Name() string       { return m.name }
func (m memFileInfo) Size() int64        { return m.size }
func (m memFileInfo) Mode() fs.FileMode  { return 0644 }
func (m memFileInfo) ModTime() time.Time { return time.Now() }
func (m memFileInfo) IsDir() bool        { return false }
func (m memFileInfo) Sys() any           { return nil }

// memFile adapts a byte slice to fs.File so archives.FileInfo.Open can
// hand the archiver a seekable-enough reader for a member collected from
// a possibly-remote Location.
type memFile struct {
	memFileInfo
	reader *bytes.Reader
}

func (m *memFile) Stat() (fs.FileInfo, error) { return m.memFileInfo, nil }
func (m *memFile) Read(p []byte) (int, error) { return m.reader.Read(p) }
func (m *memFile) Close() error               { return nil }

// CreateMutex creates the mutex file guarding against concurrent runs of
// the same named task.
func (s *Storage) CreateMutex(ctx context.Context) error {
	logger.Info(ctx, "creating mutex")
	if s.mutexFile == nil {
		return fmt.Errorf("storage: no mutex configured, call SetMutex first")
	}
	return s.mutexFile.Touch(ctx, true, true)
}

// CleanupMutex removes the mutex file created by CreateMutex.
func (s *Storage) CleanupMutex(ctx context.Context) error {
	logger.Info(ctx, "cleaning up mutex file")
	if s.mutexFile == nil {
		return nil
	}
	return s.mutexFile.Delete(ctx, true, false)
}

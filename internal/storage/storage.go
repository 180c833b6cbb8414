// Package storage bundles the seven named Locations a Task operates
// against — base, data, tmp, archive, mutex, log, and report — derived
// from a single base Location and a run date, plus the duplicate-rejecting
// file lists (archive/required/halt) that drive a Task's pre-flight
// checks.
package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/samber/lo"

	"github.com/neo154/afkrun/internal/location"
)

// Config describes how to build a Storage: one base Location plus the
// naming conventions layered on top of it.
type Config struct {
	BaseLoc        location.Location
	ReportDate     time.Time
	DatePostfixFmt string // default "2006_01_02"
	JobDesc        string // default "generic"
}

// Storage is the bundle of Locations and file lists a Task's pre-flight
// checks and a Runner's log routing operate against for one run date.
type Storage struct {
	datePostfixFmt string
	reportDateStr  string
	jobDesc        string

	baseLoc    location.Location
	dataLoc    location.Location
	tmpLoc     location.Location
	reportLoc  location.Location
	archiveLoc location.Location
	mutexLoc   location.Location
	logLoc     location.Location

	mutexFile   location.Location
	archiveFile location.Location

	archiveFiles  []location.Location
	requiredFiles []location.Location
	haltFiles     []location.Location
}

// New builds a Storage rooted at cfg.BaseLoc, deriving the data/report/
// archive slots by joining date-stamped subdirectory names onto the base,
// and the tmp/mutex/log slots by joining plain names.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	datePostfixFmt := cfg.DatePostfixFmt
	if datePostfixFmt == "" {
		datePostfixFmt = "2006_01_02"
	}
	jobDesc := cfg.JobDesc
	if jobDesc == "" {
		jobDesc = "generic"
	}
	reportDate := cfg.ReportDate
	if reportDate.IsZero() {
		reportDate = time.Now()
	}

	s := &Storage{
		datePostfixFmt: datePostfixFmt,
		reportDateStr:  reportDate.Format(datePostfixFmt),
		jobDesc:        jobDesc,
		baseLoc:        cfg.BaseLoc,
	}

	s.dataLoc = cfg.BaseLoc.JoinLoc(fmt.Sprintf("data_%s", s.reportDateStr))
	s.reportLoc = cfg.BaseLoc.JoinLoc(fmt.Sprintf("report_%s", s.reportDateStr))
	s.archiveLoc = cfg.BaseLoc.JoinLoc(fmt.Sprintf("archive_%s", s.reportDateStr))
	s.tmpLoc = cfg.BaseLoc.JoinLoc("tmp")
	s.mutexLoc = cfg.BaseLoc.JoinLoc("mutex")
	s.logLoc = cfg.BaseLoc.JoinLoc("log")

	archiveFile, err := s.GenArchiveFileRef(ctx, fmt.Sprintf("%s.tar.bz2", jobDesc))
	if err != nil {
		return nil, err
	}
	s.archiveFile = archiveFile

	return s, nil
}

func (s *Storage) BaseLoc() location.Location    { return s.baseLoc }
func (s *Storage) DataLoc() location.Location    { return s.dataLoc }
func (s *Storage) TmpLoc() location.Location     { return s.tmpLoc }
func (s *Storage) ReportLoc() location.Location  { return s.reportLoc }
func (s *Storage) ArchiveLoc() location.Location { return s.archiveLoc }
func (s *Storage) MutexLoc() location.Location   { return s.mutexLoc }
func (s *Storage) LogLoc() location.Location     { return s.logLoc }
func (s *Storage) ArchiveFile() location.Location { return s.archiveFile }
func (s *Storage) Mutex() location.Location       { return s.mutexFile }
func (s *Storage) ReportDateStr() string          { return s.reportDateStr }

// SetMutex derives the mutex file reference for namePrefix, re-deriving
// it from the current mutex slot and report date every time it's called.
func (s *Storage) SetMutex(namePrefix string) {
	s.mutexFile = s.mutexLoc.JoinLoc(fmt.Sprintf("%s_%s.mutex", namePrefix, s.reportDateStr))
}

// GenDataFileRef returns a Location under the data slot with the report
// date spliced into the file name before its extension, creating the data
// directory first if it does not already exist.
func (s *Storage) GenDataFileRef(ctx context.Context, fileName string) (location.Location, error) {
	return s.genDatedRef(ctx, s.dataLoc, fileName)
}

// GenArchiveFileRef is GenDataFileRef for the archive slot.
func (s *Storage) GenArchiveFileRef(ctx context.Context, fileName string) (location.Location, error) {
	return s.genDatedRef(ctx, s.archiveLoc, fileName)
}

// SetArchiveFile re-derives the archive file slot for fileName, the same
// re-derivation GenArchiveFileRef performs, but also replaces the Storage's
// stored archive-file reference rather than just returning it — used when
// a Task renames its archive target after construction (e.g. to its own
// task name instead of the Storage's job_desc default).
func (s *Storage) SetArchiveFile(ctx context.Context, fileName string) (location.Location, error) {
	ref, err := s.genDatedRef(ctx, s.archiveLoc, fileName)
	if err != nil {
		return nil, err
	}
	s.archiveFile = ref
	return ref, nil
}

// GenTmpFileRef returns a Location under the tmp slot, unmodified (tmp
// names are not date-stamped).
func (s *Storage) GenTmpFileRef(fileName string) location.Location {
	return s.tmpLoc.JoinLoc(fileName)
}

func (s *Storage) genDatedRef(ctx context.Context, parent location.Location, fileName string) (location.Location, error) {
	exists, err := parent.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := parent.Mkdir(ctx, true); err != nil {
			return nil, err
		}
	}
	ext := filepath.Ext(fileName)
	stem := fileName[:len(fileName)-len(ext)]
	return parent.JoinLoc(fmt.Sprintf("%s_%s%s", stem, s.reportDateStr, ext)), nil
}

// AddToArchiveList adds loc to the archive-files list unless an entry with
// the same absolute path is already present.
func (s *Storage) AddToArchiveList(loc location.Location) {
	s.archiveFiles = addUnique(s.archiveFiles, loc)
}

// RemoveFromArchiveList removes loc from the archive-files list.
func (s *Storage) RemoveFromArchiveList(loc location.Location) {
	s.archiveFiles = removeByPath(s.archiveFiles, loc)
}

// ArchiveFiles returns the current archive-files list.
func (s *Storage) ArchiveFiles() []location.Location { return s.archiveFiles }

// AddToRequiredList adds loc to the required-files list unless already present.
func (s *Storage) AddToRequiredList(loc location.Location) {
	s.requiredFiles = addUnique(s.requiredFiles, loc)
}

// RemoveFromRequiredList removes loc from the required-files list.
func (s *Storage) RemoveFromRequiredList(loc location.Location) {
	s.requiredFiles = removeByPath(s.requiredFiles, loc)
}

// RequiredFiles returns the current required-files list.
func (s *Storage) RequiredFiles() []location.Location { return s.requiredFiles }

// AddToHaltList adds loc to the halt-files list unless already present.
func (s *Storage) AddToHaltList(loc location.Location) {
	s.haltFiles = addUnique(s.haltFiles, loc)
}

// RemoveFromHaltList removes loc from the halt-files list.
func (s *Storage) RemoveFromHaltList(loc location.Location) {
	s.haltFiles = removeByPath(s.haltFiles, loc)
}

// HaltFiles returns the current halt-files list.
func (s *Storage) HaltFiles() []location.Location { return s.haltFiles }

func addUnique(list []location.Location, loc location.Location) []location.Location {
	if lo.ContainsBy(list, func(l location.Location) bool { return l.AbsolutePath() == loc.AbsolutePath() }) {
		return list
	}
	return append(list, loc)
}

func removeByPath(list []location.Location, loc location.Location) []location.Location {
	return lo.Reject(list, func(l location.Location, _ int) bool {
		return l.AbsolutePath() == loc.AbsolutePath()
	})
}

// RotateLocation moves each of locs to "<name>.old<N>" for the lowest
// free N at that location.
func (s *Storage) RotateLocation(ctx context.Context, locs ...location.Location) error {
	for _, loc := range locs {
		if err := loc.Rotate(ctx); err != nil {
			return fmt.Errorf("storage: rotate %s: %w", loc.AbsolutePath(), err)
		}
	}
	return nil
}

// CheckArchiveFiles reports whether every entry in files (or, if files is
// nil, the archive-files list) currently exists.
func (s *Storage) CheckArchiveFiles(ctx context.Context, files []location.Location) (bool, error) {
	if files == nil {
		files = s.archiveFiles
	}
	for _, f := range files {
		exists, err := locationExists(ctx, f)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, nil
		}
	}
	return true, nil
}

// CheckRequiredFiles reports whether every entry in the required-files
// list currently exists. Entries whose name carries glob metacharacters
// are matched against their parent directory's children.
func (s *Storage) CheckRequiredFiles(ctx context.Context) (bool, error) {
	for _, f := range s.requiredFiles {
		exists, err := locationExists(ctx, f)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, nil
		}
	}
	return true, nil
}

// CheckRequiredLocations ensures the base/data/tmp/report/archive/mutex
// slots all exist, creating any that are missing.
func (s *Storage) CheckRequiredLocations(ctx context.Context) error {
	for _, loc := range []location.Location{
		s.baseLoc, s.dataLoc, s.tmpLoc, s.reportLoc, s.archiveLoc, s.mutexLoc,
	} {
		exists, err := loc.Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			if err := loc.Mkdir(ctx, true); err != nil {
				return fmt.Errorf("storage: prepare %s: %w", loc.AbsolutePath(), err)
			}
		}
	}
	return nil
}

// ToDict exports the Storage's slot configuration (and, if fullExport is
// set, the archive/required/halt lists) as a JSON-serializable map built
// from location.ToDict on each entry. The report date and job description
// are not included, and no constructor reads the map back.
func (s *Storage) ToDict(fullExport bool) map[string]any {
	out := map[string]any{
		"base_loc":    s.baseLoc.ToDict(),
		"data_loc":    s.dataLoc.Parent().ToDict(),
		"report_loc":  s.reportLoc.Parent().ToDict(),
		"tmp_loc":     s.tmpLoc.ToDict(),
		"mutex_loc":   s.mutexLoc.ToDict(),
		"log_loc":     s.logLoc.ToDict(),
		"archive_loc": s.archiveLoc.Parent().ToDict(),
	}
	if fullExport {
		out["archive_files"] = toDictList(s.archiveFiles)
		out["required_files"] = toDictList(s.requiredFiles)
		out["halt_files"] = toDictList(s.haltFiles)
	}
	return out
}

func toDictList(locs []location.Location) []map[string]any {
	out := make([]map[string]any, 0, len(locs))
	for _, l := range locs {
		out = append(out, l.ToDict())
	}
	return out
}

package task

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neo154/afkrun/internal/location"
	"github.com/neo154/afkrun/internal/storage"
)

func newTestTask(t *testing.T, cfg Config) (*Task, *storage.Storage) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	base, err := location.NewLocalFile(filepath.Join(dir, "base"))
	require.NoError(t, err)

	s, err := storage.New(ctx, storage.Config{
		BaseLoc:    base,
		ReportDate: time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
		JobDesc:    "generic",
	})
	require.NoError(t, err)

	cfg.Storage = s
	if cfg.Main == nil {
		cfg.Main = func(context.Context) error { return nil }
	}
	tsk, err := New(cfg)
	require.NoError(t, err)
	return tsk, s
}

func TestNew_NormalizesIdentity(t *testing.T) {
	tsk, _ := newTestTask(t, Config{TaskName: "Nightly Extract", TaskType: "ETL Jobs", RunType: "Production"})
	assert.Equal(t, "nightly_extract", tsk.TaskName())
	assert.Equal(t, "etl_jobs", tsk.TaskType())
	assert.Equal(t, "production", tsk.RunType())
}

func TestCheckRunConditions_PassesWithNoMutexOrArchive(t *testing.T) {
	ctx := context.Background()
	tsk, _ := newTestTask(t, Config{TaskName: "job"})
	require.NoError(t, tsk.CheckRunConditions(ctx))
	assert.True(t, tsk.HasConditionsPassed())
}

func TestCheckRunConditions_ArchiveExistsBlocksWithoutOverride(t *testing.T) {
	ctx := context.Background()
	tsk, s := newTestTask(t, Config{TaskName: "job", HasArchive: true})
	require.NoError(t, s.ArchiveLoc().Mkdir(ctx, true))
	archiveRef, err := s.SetArchiveFile(ctx, "job.tar.bz2")
	require.NoError(t, err)
	require.NoError(t, archiveRef.Touch(ctx, false, false))

	err = tsk.CheckRunConditions(ctx)
	assert.ErrorIs(t, err, ErrArchiveExists)
}

func TestCheckRunConditions_OverrideRotatesExistingArchive(t *testing.T) {
	ctx := context.Background()
	tsk, s := newTestTask(t, Config{TaskName: "job", HasArchive: true, Override: true})
	require.NoError(t, s.ArchiveLoc().Mkdir(ctx, true))
	archiveRef, err := s.SetArchiveFile(ctx, "job.tar.bz2")
	require.NoError(t, err)
	require.NoError(t, archiveRef.Touch(ctx, false, false))

	require.NoError(t, tsk.CheckRunConditions(ctx))

	rotated := archiveRef.Parent().JoinLoc(archiveRef.Name() + ".old0")
	exists, err := rotated.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCheckRunConditions_HaltFileBlocks(t *testing.T) {
	ctx := context.Background()
	tsk, s := newTestTask(t, Config{TaskName: "job"})
	require.NoError(t, s.DataLoc().Mkdir(ctx, true))
	stop := s.DataLoc().JoinLoc("STOP")
	require.NoError(t, stop.Touch(ctx, false, false))
	s.AddToHaltList(stop)

	err := tsk.CheckRunConditions(ctx)
	assert.ErrorIs(t, err, ErrHaltFileFound)
}

func TestCheckRunConditions_RequiredFileMissingBlocks(t *testing.T) {
	ctx := context.Background()
	tsk, s := newTestTask(t, Config{TaskName: "job"})
	ref, err := s.GenDataFileRef(ctx, "upstream.csv")
	require.NoError(t, err)
	s.AddToRequiredList(ref)

	err = tsk.CheckRunConditions(ctx)
	assert.ErrorIs(t, err, ErrRequiredFilesMissing)
}

func TestCheckRunConditions_MutexAlreadyHeldBlocks(t *testing.T) {
	ctx := context.Background()
	tsk, s := newTestTask(t, Config{TaskName: "job", HasMutex: true})
	require.NoError(t, s.MutexLoc().Mkdir(ctx, true))
	s.SetMutex("job")
	require.NoError(t, s.Mutex().Touch(ctx, false, false))

	err := tsk.CheckRunConditions(ctx)
	assert.ErrorIs(t, err, ErrMutexHeld)
}

func TestCheckRunConditions_CreatesAndRegistersMutex(t *testing.T) {
	ctx := context.Background()
	tsk, _ := newTestTask(t, Config{TaskName: "job", HasMutex: true})
	mutexChan := make(chan MutexRegistration, 1)
	tsk.bindRunContext("test-uuid", mutexChan)

	require.NoError(t, tsk.CheckRunConditions(ctx))

	select {
	case reg := <-mutexChan:
		assert.Equal(t, "job-test-uuid", reg.Key)
	default:
		t.Fatal("expected a mutex registration to be sent")
	}
}

func TestRun_RejectsBeforeConditionsChecked(t *testing.T) {
	ctx := context.Background()
	tsk, _ := newTestTask(t, Config{TaskName: "job"})
	err := tsk.Run(ctx)
	assert.ErrorIs(t, err, ErrNotChecked)
}

func TestRun_InvokesMainAfterConditionsPass(t *testing.T) {
	ctx := context.Background()
	called := false
	tsk, _ := newTestTask(t, Config{
		TaskName: "job",
		Main: func(context.Context) error {
			called = true
			return nil
		},
	})
	require.NoError(t, tsk.CheckRunConditions(ctx))
	require.NoError(t, tsk.Run(ctx))
	assert.True(t, called)
}

package location

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFile_TouchExistsDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	loc, err := NewLocalFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)

	exists, err := loc.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, loc.Touch(ctx, false, false))
	exists, err = loc.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	isFile, err := loc.IsFile(ctx)
	require.NoError(t, err)
	assert.True(t, isFile)

	require.NoError(t, loc.Delete(ctx, false, false))
	exists, err = loc.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalFile_TouchExistingFailsWithoutExistOK(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	loc, err := NewLocalFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	require.NoError(t, loc.Touch(ctx, false, false))

	err = loc.Touch(ctx, false, false)
	assert.Error(t, err)

	require.NoError(t, loc.Touch(ctx, true, false))
}

func TestLocalFile_MkdirAndIterLocation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	root, err := NewLocalFile(filepath.Join(dir, "sub"))
	require.NoError(t, err)
	require.NoError(t, root.Mkdir(ctx, true))

	require.NoError(t, root.JoinLoc("one.txt").Touch(ctx, false, false))
	require.NoError(t, root.JoinLoc("two.txt").Touch(ctx, false, false))

	children, err := root.IterLocation(ctx)
	require.NoError(t, err)
	names := []string{children[0].Name(), children[1].Name()}
	assert.ElementsMatch(t, []string{"one.txt", "two.txt"}, names)
}

func TestLocalFile_MoveAndCopy(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	src, err := NewLocalFile(filepath.Join(dir, "src.txt"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(src.AbsolutePath(), []byte("hello"), 0644))
	require.NoError(t, src.ForceRefreshStat(ctx))

	dst, err := NewLocalFile(filepath.Join(dir, "dst.txt"))
	require.NoError(t, err)
	require.NoError(t, src.Copy(ctx, dst))

	data, err := dst.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	moveDst, err := NewLocalFile(filepath.Join(dir, "moved.txt"))
	require.NoError(t, err)
	require.NoError(t, dst.Move(ctx, moveDst))

	exists, err := dst.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	data, err = moveDst.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestLocalFile_Rotate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	loc, err := NewLocalFile(filepath.Join(dir, "log.txt"))
	require.NoError(t, err)
	require.NoError(t, loc.Touch(ctx, false, false))
	require.NoError(t, loc.Rotate(ctx))

	old0, err := NewLocalFile(filepath.Join(dir, "log.txt.old0"))
	require.NoError(t, err)
	exists, err := old0.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, loc.Touch(ctx, false, false))
	require.NoError(t, loc.Rotate(ctx))
	old1, err := NewLocalFile(filepath.Join(dir, "log.txt.old1"))
	require.NoError(t, err)
	exists, err = old1.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalFile_SyncLocations(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	src, err := NewLocalFile(filepath.Join(dir, "src.bin"))
	require.NoError(t, err)
	srcData := make([]byte, blockSize*3+10)
	for i := range srcData {
		srcData[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(src.AbsolutePath(), srcData, 0644))

	dst, err := NewLocalFile(filepath.Join(dir, "dst.bin"))
	require.NoError(t, err)
	destData := make([]byte, blockSize*2)
	copy(destData, srcData[:blockSize])
	require.NoError(t, os.WriteFile(dst.AbsolutePath(), destData, 0644))

	require.NoError(t, dst.SyncLocations(ctx, src, false, true))

	got, err := dst.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, srcData, got)
}

func TestLocalFile_ToDict(t *testing.T) {
	loc, err := NewLocalFile("/tmp/example.txt")
	require.NoError(t, err)
	d := loc.ToDict()
	assert.Equal(t, "local", d["storage_type"])
	assert.Equal(t, "/tmp/example.txt", d["path_ref"])
}

package location

import (
	"context"
	"fmt"
)

// syncLocationsGeneric implements the backend-independent traversal used
// by both LocalFile.SyncLocations and RemoteFile.SyncLocations: recurse
// into directories, and for regular files decide — based on metadata or a
// full hash check — whether a block-delta rewrite is needed at all.
func syncLocationsGeneric(ctx context.Context, dest, src Location, useMetadata bool, fullHashCheck bool) error {
	exists, err := dest.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return src.Copy(ctx, dest)
	}

	isDir, err := src.IsDir(ctx)
	if err != nil {
		return err
	}
	if isDir {
		children, err := src.IterLocation(ctx)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := dest.JoinLoc(child.Name()).SyncLocations(ctx, child, useMetadata, fullHashCheck); err != nil {
				return err
			}
		}
		return nil
	}

	isFile, err := src.IsFile(ctx)
	if err != nil {
		return err
	}
	if !isFile {
		return fmt.Errorf("location: sync source %s is neither file nor directory", src.AbsolutePath())
	}

	needsSync := fullHashCheck || !useMetadata
	if useMetadata && !fullHashCheck {
		srcSize, err := src.Size()
		if err != nil {
			return err
		}
		destSize, err := dest.Size()
		if err != nil {
			return err
		}
		srcMTime, err := src.MTime()
		if err != nil {
			return err
		}
		destMTime, err := dest.MTime()
		if err != nil {
			return err
		}
		needsSync = srcSize != destSize || !srcMTime.Equal(destMTime)
	}
	if !needsSync {
		return nil
	}

	srcHandle, err := src.Open(ctx, ModeRead)
	if err != nil {
		return err
	}
	defer func() { _ = srcHandle.Close() }()

	destHandle, err := dest.Open(ctx, ModeReadWrite)
	if err != nil {
		return err
	}
	defer func() { _ = destHandle.Close() }()

	if fullHashCheck {
		identical, err := rawHashCheck(srcHandle, destHandle)
		if err != nil {
			return err
		}
		if identical {
			return nil
		}
		if _, err := srcHandle.Seek(0, 0); err != nil {
			return err
		}
		if _, err := destHandle.Seek(0, 0); err != nil {
			return err
		}
	}

	return syncFiles(srcHandle, destHandle)
}

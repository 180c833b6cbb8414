//go:build !linux && !darwin

package location

import (
	"io/fs"
	"time"
)

func accessTime(info fs.FileInfo) time.Time {
	return info.ModTime()
}

package identity

import (
	"os"
	"time"
)

// Metadata is the filesystem metadata recorded for a matched file.
// Timestamps are Unix seconds; 0 means the platform did not report it.
type Metadata struct {
	// Size is the logical size in bytes.
	Size uint64
	// DiskSize is the allocated size in bytes, which differs from Size for
	// sparse and compressed files.
	DiskSize uint64

	AccessTime uint64
	ModifyTime uint64
	CreateTime uint64
}

// Stat reads the metadata of the file at path.
func Stat(path string) (Metadata, error) {
	md, err := stat(path)
	if err != nil {
		return Metadata{}, &FSError{Op: "stat", Path: path, Err: err}
	}
	return md, nil
}

// LogicalSize returns the logical size of the file at path.
func LogicalSize(path string) (uint64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, &FSError{Op: "stat", Path: path, Err: err}
	}
	return uint64(max(fi.Size(), 0)), nil
}

func unixSeconds(t time.Time) uint64 {
	if t.IsZero() || t.Unix() < 0 {
		return 0
	}
	return uint64(t.Unix())
}

func clampSeconds(sec int64) uint64 {
	return uint64(max(sec, 0))
}

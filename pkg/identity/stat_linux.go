//go:build linux

package identity

import (
	"errors"

	"golang.org/x/sys/unix"
)

func stat(path string) (Metadata, error) {
	var stx unix.Statx_t

	err := unix.Statx(unix.AT_FDCWD, path, unix.AT_STATX_SYNC_AS_STAT,
		unix.STATX_BASIC_STATS|unix.STATX_BTIME, &stx)
	if errors.Is(err, unix.ENOSYS) {
		return statFallback(path)
	}
	if err != nil {
		return Metadata{}, err
	}

	md := Metadata{
		Size:       stx.Size,
		DiskSize:   stx.Blocks * 512,
		AccessTime: clampSeconds(stx.Atime.Sec),
		ModifyTime: clampSeconds(stx.Mtime.Sec),
	}
	if stx.Mask&unix.STATX_BTIME != 0 {
		md.CreateTime = clampSeconds(stx.Btime.Sec)
	}
	return md, nil
}

// statFallback serves kernels without statx, which have no birth time.
func statFallback(path string) (Metadata, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return Metadata{}, err
	}

	atime, _ := st.Atim.Unix()
	mtime, _ := st.Mtim.Unix()

	return Metadata{
		Size:       uint64(max(st.Size, 0)),
		DiskSize:   uint64(max(int64(st.Blocks), 0)) * 512,
		AccessTime: clampSeconds(atime),
		ModifyTime: clampSeconds(mtime),
	}, nil
}

//go:build darwin

package identity

import "golang.org/x/sys/unix"

func stat(path string) (Metadata, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return Metadata{}, err
	}

	atime, _ := st.Atim.Unix()
	mtime, _ := st.Mtim.Unix()
	btime, _ := st.Btim.Unix()

	return Metadata{
		Size:       uint64(max(st.Size, 0)),
		DiskSize:   uint64(max(st.Blocks, 0)) * 512,
		AccessTime: clampSeconds(atime),
		ModifyTime: clampSeconds(mtime),
		CreateTime: clampSeconds(btime),
	}, nil
}

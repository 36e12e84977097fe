//go:build !linux && !darwin

package identity

import "os"

// Other platforms report no allocation size, access or birth time.
func stat(path string) (Metadata, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Metadata{}, err
	}

	size := uint64(max(fi.Size(), 0))
	return Metadata{
		Size:       size,
		DiskSize:   size,
		ModifyTime: unixSeconds(fi.ModTime()),
	}, nil
}

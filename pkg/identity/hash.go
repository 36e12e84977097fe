package identity

import (
	"crypto/md5" //nolint:gosec // MD5 is part of the record format, not used for security.
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Digests holds hex-encoded content digests of a file.
type Digests struct {
	SHA256 string
	MD5    string
}

// HashFile streams the file at path once through SHA-256 and MD5.
func HashFile(path string) (Digests, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digests{}, &FSError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	sha := sha256.New()
	sum := md5.New() //nolint:gosec // see import.
	if _, err := io.Copy(io.MultiWriter(sha, sum), f); err != nil {
		return Digests{}, &FSError{Op: "read", Path: path, Err: err}
	}

	return Digests{
		SHA256: hex.EncodeToString(sha.Sum(nil)),
		MD5:    hex.EncodeToString(sum.Sum(nil)),
	}, nil
}

// MD5File returns the hex MD5 digest of the file at path.
func MD5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &FSError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	sum := md5.New() //nolint:gosec // see import.
	if _, err := io.Copy(sum, f); err != nil {
		return "", &FSError{Op: "read", Path: path, Err: err}
	}

	return hex.EncodeToString(sum.Sum(nil)), nil
}

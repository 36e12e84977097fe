// Package identity computes the content hashes and filesystem metadata of a
// matched file and assembles its sensitive-file record.
package identity

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/Tributary-ai-services/fsmatcher/pkg/types"
)

// FSError is returned when a file's metadata or content cannot be read.
type FSError struct {
	Op   string
	Path string
	Err  error
}

func (e *FSError) Error() string {
	return fmt.Sprintf("identity: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FSError) Unwrap() error {
	return e.Err
}

// Resolver assembles sensitive-file records. The zero value is not usable;
// use [NewResolver].
type Resolver struct {
	now  func() time.Time
	stat func(string) (Metadata, error)
	hash func(string) (Digests, error)
}

// ResolverOption configures a [Resolver].
type ResolverOption func(*Resolver)

// WithClock sets the clock used for the discovery timestamp.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver creates a [Resolver] reading the local filesystem.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		now:  time.Now,
		stat: Stat,
		hash: HashFile,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve builds the record for the file at path. desc, raw and fileType
// come from the scan result; hits are the matched rules. Any filesystem
// failure is returned as an [*FSError].
func (r *Resolver) Resolve(path, desc, raw, fileType string, hits []types.FileSecurity) (*types.SensitiveFile, error) {
	md, err := r.stat(path)
	if err != nil {
		return nil, err
	}

	digests, err := r.hash(path)
	if err != nil {
		return nil, err
	}

	if hits == nil {
		hits = []types.FileSecurity{}
	}

	return &types.SensitiveFile{
		File: types.FileInfo{
			Name:       fileName(path),
			Type:       fileType,
			Size:       md.DiskSize,
			Path:       path,
			SHA256:     digests.SHA256,
			MD5:        digests.MD5,
			CreateTime: md.CreateTime,
			UpdateTime: md.ModifyTime,
			AccessTime: md.AccessTime,
			Desc:       desc,
		},
		Securities:   hits,
		EngineResult: raw,
		FileURL:      "",
		FoundTime:    unixSeconds(r.now()),
	}, nil
}

// fileName returns the last path element, or "" when path has none.
func fileName(path string) string {
	name := filepath.Base(path)
	switch name {
	case ".", "..", string(filepath.Separator):
		return ""
	}
	return name
}

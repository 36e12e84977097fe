// Package types provides shared types used across fsmatcher packages.
// This package breaks circular dependencies between match, identity, attest and stream.
package types

import (
	"cmp"
	"slices"
)

// FileSecurity identifies a matched rule. The triple (ID, Code, Level) is the
// identity used for deduplication; Level is not part of the wire format.
type FileSecurity struct {
	ID    int32  `json:"id"`
	Code  string `json:"code"`
	Level int32  `json:"-"`
}

// Compare orders file securities by id, then code, then level.
func (s FileSecurity) Compare(o FileSecurity) int {
	if c := cmp.Compare(s.ID, o.ID); c != 0 {
		return c
	}
	if c := cmp.Compare(s.Code, o.Code); c != 0 {
		return c
	}
	return cmp.Compare(s.Level, o.Level)
}

// FileInfo describes the file a sensitive-file record refers to
type FileInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"` // scanner-declared format
	Size       uint64 `json:"size"` // on-disk size
	Path       string `json:"path"`
	SHA256     string `json:"sha256_hash"`
	MD5        string `json:"md5_hash"`
	CreateTime uint64 `json:"create_time"`
	UpdateTime uint64 `json:"update_time"`
	AccessTime uint64 `json:"visit_time"`

	// Scanner description, kept for logging only
	Desc string `json:"-"`
}

// SensitiveFile is the record produced when at least one rule matched a file
type SensitiveFile struct {
	File       FileInfo       `json:"file"`
	Securities []FileSecurity `json:"file_securities"`

	// Raw scanner output, verbatim
	EngineResult string `json:"engine_result"`
	FileURL      string `json:"file_url"`
	FoundTime    uint64 `json:"found_time"`

	// Signature
	Signature string `json:"signature,omitempty"` // HMAC-SHA256, set when a signer is configured
}

// MaxLevel returns the highest level among the matched rules, or 0 if there are none.
func (f *SensitiveFile) MaxLevel() int32 {
	var level int32
	for _, s := range f.Securities {
		level = max(level, s.Level)
	}
	return level
}

// RuleIDs returns the sorted ids of the matched rules.
func (f *SensitiveFile) RuleIDs() []int32 {
	ids := make([]int32, 0, len(f.Securities))
	for _, s := range f.Securities {
		ids = append(ids, s.ID)
	}
	slices.Sort(ids)
	return ids
}

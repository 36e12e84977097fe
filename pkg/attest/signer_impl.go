package attest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/Tributary-ai-services/fsmatcher/pkg/types"
)

// hmacSigner implements the Signer interface using HMAC-SHA256.
type hmacSigner struct {
	key []byte
}

// NewHMACSigner creates a new HMAC-SHA256 signer with the given key.
func NewHMACSigner(key []byte) Signer {
	return &hmacSigner{key: key}
}

// Sign computes the HMAC-SHA256 of the record's canonical string.
func (s *hmacSigner) Sign(rec *types.SensitiveFile) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("record is nil")
	}

	canonical, err := buildCanonicalString(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}

	mac := hmac.New(sha256.New, s.key)
	if _, err := mac.Write([]byte(canonical)); err != nil {
		return "", fmt.Errorf("failed to compute HMAC: %w", err)
	}

	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify verifies rec.Signature using constant-time comparison.
func (s *hmacSigner) Verify(rec *types.SensitiveFile) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}

	expected, err := s.Sign(rec)
	if err != nil {
		return fmt.Errorf("failed to compute expected signature: %w", err)
	}

	expectedBytes, err := hex.DecodeString(expected)
	if err != nil {
		return fmt.Errorf("failed to decode expected signature: %w", err)
	}

	actualBytes, err := hex.DecodeString(rec.Signature)
	if err != nil {
		return fmt.Errorf("failed to decode record signature: %w", err)
	}

	if !hmac.Equal(expectedBytes, actualBytes) {
		return fmt.Errorf("record signature verification failed")
	}

	return nil
}

// buildCanonicalString creates a deterministic string from record fields:
// a JSON array of sha256, md5, path, size, found_time and the sorted
// [id, code, level] triples of the matched rules. JSON quoting keeps field
// boundaries unambiguous for any path. Level is not on the wire, so only
// records as produced can be verified.
func buildCanonicalString(rec *types.SensitiveFile) (string, error) {
	secs := slices.SortedFunc(slices.Values(rec.Securities), types.FileSecurity.Compare)
	triples := make([][3]any, len(secs))
	for i, s := range secs {
		triples[i] = [3]any{s.ID, s.Code, s.Level}
	}

	data, err := json.Marshal([]any{
		rec.File.SHA256,
		rec.File.MD5,
		rec.File.Path,
		rec.File.Size,
		rec.FoundTime,
		triples,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// RecordKey identifies a record's content and matched rules, independent of
// where and when the file was found.
func RecordKey(rec *types.SensitiveFile) string {
	return rec.File.SHA256 + "|" + joinIDs(rec.RuleIDs())
}

func joinIDs(ids []int32) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(int(id))
	}
	return strings.Join(parts, ",")
}

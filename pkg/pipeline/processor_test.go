package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Tributary-ai-services/fsmatcher/pkg/attest"
	"github.com/Tributary-ai-services/fsmatcher/pkg/stream"
	"github.com/Tributary-ai-services/fsmatcher/pkg/types"
)

// --- Mock implementations ---

// mockChecker implements Checker for testing.
type mockChecker struct {
	checkFunc func(raw []byte, path string) (*types.SensitiveFile, error)
	calls     atomic.Int32
}

func (m *mockChecker) Check(raw []byte, path string) (*types.SensitiveFile, error) {
	m.calls.Add(1)
	if m.checkFunc != nil {
		return m.checkFunc(raw, path)
	}
	return nil, nil
}

func (m *mockChecker) ConfigVersion() string { return "v-test" }

// mockStreamer implements stream.Streamer for testing.
type mockStreamer struct {
	mu       sync.Mutex
	events   []stream.Event
	err      error
	closed   bool
	closeErr error
}

func (m *mockStreamer) Stream(_ context.Context, events []stream.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *mockStreamer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.closeErr
}

func (m *mockStreamer) streamed() []stream.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]stream.Event(nil), m.events...)
}

func makeRecord(path string, ids ...int32) *types.SensitiveFile {
	rec := &types.SensitiveFile{
		File: types.FileInfo{Path: path, SHA256: "sha-of-" + path},
	}
	for _, id := range ids {
		rec.Securities = append(rec.Securities, types.FileSecurity{ID: id, Code: fmt.Sprintf("R%d", id), Level: 1})
	}
	return rec
}

// matchAll returns a record with rule 1 for every path.
func matchAll() *mockChecker {
	return &mockChecker{checkFunc: func(_ []byte, path string) (*types.SensitiveFile, error) {
		return makeRecord(path, 1), nil
	}}
}

func testRequest(path string) Request {
	return Request{Path: path, Result: json.RawMessage(`{"categoryId":1,"format":"txt","data":[]}`)}
}

// --- Tests ---

func TestProcess_FullFlow(t *testing.T) {
	checker := &mockChecker{checkFunc: func(raw []byte, path string) (*types.SensitiveFile, error) {
		if string(raw) != `{"categoryId":1,"format":"txt","data":[]}` {
			t.Errorf("unexpected raw result %s", raw)
		}
		return makeRecord(path, 1, 2), nil
	}}
	streamer := &mockStreamer{}
	p := NewProcessor(checker,
		WithAttestor(attest.NewAttestor([]byte("key"), nil)),
		WithStreamer(streamer),
	)

	res, err := p.Process(context.Background(), testRequest("/data/a.txt"))
	if err != nil {
		t.Fatalf("Process() returned error: %v", err)
	}
	if res.Record == nil || res.Record.Signature == "" {
		t.Fatalf("expected a signed record, got %+v", res.Record)
	}
	if res.Attestation == nil || res.Attestation.ConfigVersion != "v-test" {
		t.Fatalf("unexpected attestation: %+v", res.Attestation)
	}
	if !res.Streamed || res.Duplicate {
		t.Fatalf("expected streamed non-duplicate, got %+v", res)
	}

	events := streamer.streamed()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Record != res.Record || events[0].ConfigVersion != "v-test" {
		t.Errorf("unexpected event: %+v", events[0])
	}
	decoded, err := attest.DecodeAttestation(events[0].Attestation)
	if err != nil {
		t.Fatalf("event attestation does not decode: %v", err)
	}
	if decoded.ID != res.Attestation.ID {
		t.Errorf("event attestation id = %s, want %s", decoded.ID, res.Attestation.ID)
	}
}

func TestProcess_NoMatch(t *testing.T) {
	streamer := &mockStreamer{}
	p := NewProcessor(&mockChecker{}, WithStreamer(streamer))

	res, err := p.Process(context.Background(), testRequest("/data/clean.txt"))
	if err != nil {
		t.Fatalf("Process() returned error: %v", err)
	}
	if res.Record != nil || res.Streamed {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if len(streamer.streamed()) != 0 {
		t.Fatal("nothing should be streamed without a match")
	}
}

func TestProcess_CheckError(t *testing.T) {
	boom := errors.New("boom")
	p := NewProcessor(&mockChecker{checkFunc: func([]byte, string) (*types.SensitiveFile, error) {
		return nil, boom
	}})

	_, err := p.Process(context.Background(), testRequest("/data/a"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped check error, got %v", err)
	}
}

func TestProcess_DuplicateSuppressed(t *testing.T) {
	streamer := &mockStreamer{}
	p := NewProcessor(matchAll(),
		WithAttestor(attest.NewAttestor([]byte("key"), nil)),
		WithStreamer(streamer),
	)

	ctx := context.Background()
	first, _ := p.Process(ctx, testRequest("/data/a"))
	second, _ := p.Process(ctx, testRequest("/data/a"))

	if first.Duplicate || !second.Duplicate {
		t.Fatalf("expected only the second to be a duplicate: %v %v", first.Duplicate, second.Duplicate)
	}
	if second.Streamed {
		t.Fatal("duplicate should not be streamed")
	}
	if len(streamer.streamed()) != 1 {
		t.Fatalf("expected 1 event, got %d", len(streamer.streamed()))
	}
}

func TestProcess_DuplicatesStreamedWhenNotSuppressed(t *testing.T) {
	streamer := &mockStreamer{}
	cfg := DefaultProcessorConfig()
	cfg.SuppressDuplicates = false
	p := NewProcessor(matchAll(),
		WithAttestor(attest.NewAttestor([]byte("key"), nil)),
		WithStreamer(streamer),
		WithConfig(cfg),
	)

	ctx := context.Background()
	_, _ = p.Process(ctx, testRequest("/data/a"))
	_, _ = p.Process(ctx, testRequest("/data/a"))

	if len(streamer.streamed()) != 2 {
		t.Fatalf("expected 2 events, got %d", len(streamer.streamed()))
	}
}

func TestProcess_StreamerError(t *testing.T) {
	streamer := &mockStreamer{err: stream.ErrStreamerClosed}
	p := NewProcessor(matchAll(), WithStreamer(streamer))

	res, err := p.Process(context.Background(), testRequest("/data/a"))
	if err != nil {
		t.Fatalf("stream failure should not fail the request: %v", err)
	}
	if res.Streamed {
		t.Fatal("Streamed should be false after a stream failure")
	}
	if res.Record == nil {
		t.Fatal("record should still be returned")
	}
}

func TestProcess_FeaturesDisabled(t *testing.T) {
	streamer := &mockStreamer{}
	p := NewProcessor(matchAll(),
		WithAttestor(attest.NewAttestor([]byte("key"), nil)),
		WithStreamer(streamer),
		WithConfig(&ProcessorConfig{}),
	)

	res, err := p.Process(context.Background(), testRequest("/data/a"))
	if err != nil {
		t.Fatalf("Process() returned error: %v", err)
	}
	if res.Attestation != nil || res.Record.Signature != "" || res.Streamed {
		t.Fatalf("expected no attestation or streaming, got %+v", res)
	}
}

func TestProcess_LocalStreamerRouting(t *testing.T) {
	local := stream.NewLocalStreamer(&stream.StreamerConfig{
		Topics:        stream.Topics{Records: "records", Critical: "critical"},
		CriticalLevel: 1,
	})
	var topics []string
	local.OnPublish(func(topic string, _ stream.Event) { topics = append(topics, topic) })

	p := NewProcessor(matchAll(), WithStreamer(local))
	if _, err := p.Process(context.Background(), testRequest("/data/a")); err != nil {
		t.Fatalf("Process() returned error: %v", err)
	}
	if fmt.Sprint(topics) != "[records critical]" {
		t.Fatalf("published to %v", topics)
	}
}

func TestProcess_CanceledContext(t *testing.T) {
	checker := matchAll()
	p := NewProcessor(checker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Process(ctx, testRequest("/data/a")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if checker.calls.Load() != 0 {
		t.Fatal("checker should not run after cancellation")
	}
}

func TestBatch(t *testing.T) {
	boom := errors.New("unreadable")
	checker := &mockChecker{checkFunc: func(_ []byte, path string) (*types.SensitiveFile, error) {
		switch path {
		case "/bad":
			return nil, boom
		case "/clean":
			return nil, nil
		}
		return makeRecord(path, 1), nil
	}}
	streamer := &mockStreamer{}
	p := NewProcessor(checker, WithStreamer(streamer))

	reqs := []Request{testRequest("/a"), testRequest("/bad"), testRequest("/clean"), testRequest("/b")}
	results, err := p.Batch(context.Background(), reqs, 2)
	if err != nil {
		t.Fatalf("Batch() returned error: %v", err)
	}
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	for i, res := range results {
		if res.Path != reqs[i].Path {
			t.Errorf("result %d path = %s, want %s", i, res.Path, reqs[i].Path)
		}
	}
	if !errors.Is(results[1].Err, boom) {
		t.Errorf("expected per-request error, got %v", results[1].Err)
	}
	if results[2].Record != nil || results[2].Err != nil {
		t.Errorf("clean file should have no record or error: %+v", results[2])
	}
	if results[0].Record == nil || results[3].Record == nil {
		t.Error("matching files should have records")
	}
	if len(streamer.streamed()) != 2 {
		t.Errorf("expected 2 events, got %d", len(streamer.streamed()))
	}
}

func TestBatch_WorkerLimit(t *testing.T) {
	var running, peak atomic.Int32
	checker := &mockChecker{checkFunc: func(_ []byte, path string) (*types.SensitiveFile, error) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	}}
	p := NewProcessor(checker)

	reqs := make([]Request, 20)
	for i := range reqs {
		reqs[i] = testRequest(fmt.Sprintf("/f%d", i))
	}

	if _, err := p.Batch(context.Background(), reqs, 3); err != nil {
		t.Fatalf("Batch() returned error: %v", err)
	}
	if peak.Load() > 3 {
		t.Fatalf("peak concurrency %d exceeds limit", peak.Load())
	}
	if checker.calls.Load() != 20 {
		t.Fatalf("expected 20 checks, got %d", checker.calls.Load())
	}
}

func TestBatch_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewProcessor(matchAll()).Batch(ctx, []Request{testRequest("/a")}, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClose(t *testing.T) {
	streamer := &mockStreamer{}
	p := NewProcessor(&mockChecker{}, WithStreamer(streamer))
	if err := p.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}
	if !streamer.closed {
		t.Fatal("streamer should be closed")
	}

	failing := &mockStreamer{closeErr: errors.New("flush failed")}
	if err := NewProcessor(&mockChecker{}, WithStreamer(failing)).Close(); err == nil {
		t.Fatal("expected close error")
	}

	if err := NewProcessor(&mockChecker{}).Close(); err != nil {
		t.Fatalf("Close() without streamer returned error: %v", err)
	}
}

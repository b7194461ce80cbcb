package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"narou-digest/digest"
	"narou-digest/generation"
	"narou-digest/storage"
	"narou-digest/webhook"
)

// --- Mock implementations ---

type mockAggregator struct {
	digests []digest.Novel
}

func (m *mockAggregator) Aggregate(ctx context.Context, period, category string, size int) []digest.Novel {
	return m.digests
}

type mockGenerator struct {
	result *generation.Result
	err    error

	log           []generation.Message
	systemInserts int
	calls         int
}

func (m *mockGenerator) SetLog(messages []generation.Message) {
	m.log = messages
}

func (m *mockGenerator) InsertSystemPrompt() {
	m.systemInserts++
	m.log = append([]generation.Message{{Role: generation.RoleSystem, Content: "sys"}}, m.log...)
}

func (m *mockGenerator) Generate(ctx context.Context) (*generation.Result, error) {
	m.calls++
	return m.result, m.err
}

type mockDeliverer struct {
	posted   []string
	outcomes map[int]*webhook.Outcome // by post index; default 204
	errs     map[int]error
}

func (m *mockDeliverer) Post(ctx context.Context, content string) (*webhook.Outcome, error) {
	i := len(m.posted)
	m.posted = append(m.posted, content)
	if err, ok := m.errs[i]; ok {
		return nil, err
	}
	if o, ok := m.outcomes[i]; ok {
		return o, nil
	}
	return &webhook.Outcome{StatusCode: 204}, nil
}

type mockStore struct {
	runs       []storage.Run
	deliveries []storage.Delivery
}

func (m *mockStore) SaveRun(r *storage.Run) (int64, error) {
	m.runs = append(m.runs, *r)
	return int64(len(m.runs)), nil
}

func (m *mockStore) SaveDelivery(d *storage.Delivery) error {
	m.deliveries = append(m.deliveries, *d)
	return nil
}

type mockRecorder struct {
	raw      []byte
	outcomes []webhook.Outcome
	writes   int
}

func (m *mockRecorder) WriteRun(raw []byte, outcomes []webhook.Outcome) error {
	m.writes++
	m.raw = raw
	m.outcomes = outcomes
	return nil
}

func completeResult(text string) *generation.Result {
	return &generation.Result{
		FinishReason: generation.FinishComplete,
		Text:         text,
		Raw:          []byte(`{"finish_reason":"COMPLETE"}`),
	}
}

func testConfig() Config {
	return Config{Period: "weekly", Category: "re", Size: 20, Model: "command-a-03-2025"}
}

func newTestRunner(a Aggregator, g Generator, d Deliverer, rec Recorder, st RunStore) *Runner {
	r := NewRunner(a, g, d, rec, st, testConfig())
	r.pace = 0
	return r
}

func twoDigests() []digest.Novel {
	return []digest.Novel{
		{Title: "One", Description: "d1", Tags: []string{"a"}, Genre: "g", FirstEpisode: "e1"},
		{Title: "Two", Description: "d2", Tags: []string{"b"}, Genre: "g", FirstEpisode: "e2"},
	}
}

// --- Chunking properties ---

func TestChunk_Properties(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   []int // chunk sizes
	}{
		{"empty", 0, nil},
		{"under width", 1500, []int{1500}},
		{"exact width", 2000, []int{2000}},
		{"one over", 2001, []int{2000, 1}},
		{"scenario 4500", 4500, []int{2000, 2000, 500}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := strings.Repeat("x", tt.length)
			chunks := Chunk(text, 2000)
			if len(chunks) != len(tt.want) {
				t.Fatalf("got %d chunks, want %d", len(chunks), len(tt.want))
			}
			for i, c := range chunks {
				if len(c) != tt.want[i] {
					t.Errorf("chunk %d length = %d, want %d", i, len(c), tt.want[i])
				}
			}
			if strings.Join(chunks, "") != text {
				t.Error("concatenated chunks do not reproduce the original text")
			}
		})
	}
}

func TestChunk_RuneBoundaries(t *testing.T) {
	// 2500 three-byte runes: byte-width slicing would split a codepoint.
	text := strings.Repeat("あ", 2500)
	chunks := Chunk(text, 2000)

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if n := utf8.RuneCountInString(chunks[0]); n != 2000 {
		t.Errorf("first chunk = %d runes, want 2000", n)
	}
	if n := utf8.RuneCountInString(chunks[1]); n != 500 {
		t.Errorf("second chunk = %d runes, want 500", n)
	}
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d split a multi-byte character", i)
		}
	}
	if strings.Join(chunks, "") != text {
		t.Error("lossless round-trip failed")
	}
}

// --- Run scenarios ---

func TestRun_FullScenario(t *testing.T) {
	gen := &mockGenerator{result: completeResult(strings.Repeat("x", 4500))}
	del := &mockDeliverer{}
	st := &mockStore{}
	rec := &mockRecorder{}

	r := newTestRunner(&mockAggregator{digests: twoDigests()}, gen, del, rec, st)
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if r.State() != StateDone {
		t.Errorf("state = %s, want done", r.State())
	}

	// Request assembly: one user message per digest plus one system head.
	if len(gen.log) != 3 {
		t.Fatalf("log length = %d, want 3", len(gen.log))
	}
	if gen.log[0].Role != generation.RoleSystem {
		t.Errorf("head message role = %s, want system", gen.log[0].Role)
	}
	if gen.systemInserts != 1 {
		t.Errorf("system prompt inserted %d times, want exactly 1", gen.systemInserts)
	}
	if !strings.Contains(gen.log[1].Content, `"title":"One"`) {
		t.Errorf("first user message = %q, want serialized digest", gen.log[1].Content)
	}

	// Delivery: 3 chunks in order, 2000/2000/500.
	if len(del.posted) != 3 {
		t.Fatalf("posted %d chunks, want 3", len(del.posted))
	}
	if len(del.posted[0]) != 2000 || len(del.posted[1]) != 2000 || len(del.posted[2]) != 500 {
		t.Errorf("chunk sizes = %d/%d/%d, want 2000/2000/500",
			len(del.posted[0]), len(del.posted[1]), len(del.posted[2]))
	}

	// Durable record: one done run with 3 outcomes, plus both artifacts.
	if len(st.runs) != 1 || st.runs[0].State != storage.RunDone {
		t.Fatalf("runs = %+v, want one done run", st.runs)
	}
	if st.runs[0].DigestCount != 2 || st.runs[0].FinishReason != "COMPLETE" {
		t.Errorf("run record = %+v", st.runs[0])
	}
	if len(st.deliveries) != 3 {
		t.Errorf("stored %d deliveries, want 3", len(st.deliveries))
	}
	for i, d := range st.deliveries {
		if d.Seq != i {
			t.Errorf("delivery %d stored out of order: seq = %d", i, d.Seq)
		}
	}
	if rec.writes != 1 || len(rec.outcomes) != 3 {
		t.Errorf("recorder writes = %d, outcomes = %d; want 1 write with 3 outcomes", rec.writes, len(rec.outcomes))
	}
}

func TestRun_EmptyRankingAborts(t *testing.T) {
	gen := &mockGenerator{result: completeResult("text")}
	del := &mockDeliverer{}
	st := &mockStore{}

	r := newTestRunner(&mockAggregator{}, gen, del, nil, st)
	err := r.Run(context.Background())
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if r.State() != StateAborted {
		t.Errorf("state = %s, want aborted", r.State())
	}
	if gen.calls != 0 {
		t.Error("generation must not run without data")
	}
	if len(del.posted) != 0 {
		t.Error("delivery must not run without data")
	}
	if len(st.runs) != 1 || st.runs[0].State != storage.RunAborted || st.runs[0].Reason != "no data" {
		t.Errorf("expected aborted run record, got %+v", st.runs)
	}
}

func TestRun_GenerationFailureAborts(t *testing.T) {
	gen := &mockGenerator{err: errors.New("exhausted")}
	del := &mockDeliverer{}

	r := newTestRunner(&mockAggregator{digests: twoDigests()}, gen, del, nil, nil)
	if err := r.Run(context.Background()); err == nil {
		t.Fatal("expected error for generation failure")
	}
	if r.State() != StateAborted {
		t.Errorf("state = %s, want aborted", r.State())
	}
	if len(del.posted) != 0 {
		t.Error("no chunk may be delivered after generation failure")
	}
}

func TestRun_AbsentTextAbortsBeforeDelivery(t *testing.T) {
	gen := &mockGenerator{err: generation.ErrNoText}
	del := &mockDeliverer{}
	st := &mockStore{}

	r := newTestRunner(&mockAggregator{digests: twoDigests()}, gen, del, nil, st)
	err := r.Run(context.Background())
	if err == nil || !errors.Is(err, generation.ErrNoText) {
		t.Fatalf("expected ErrNoText abort, got %v", err)
	}
	if len(del.posted) != 0 {
		t.Error("delivery must not be attempted for undefined content")
	}
	if len(st.deliveries) != 0 {
		t.Error("no delivery outcome may be recorded")
	}
}

func TestRun_IncompleteFinishWarnsAndProceeds(t *testing.T) {
	result := completeResult("partial text")
	result.FinishReason = "MAX_TOKENS"
	gen := &mockGenerator{result: result}
	del := &mockDeliverer{}

	r := newTestRunner(&mockAggregator{digests: twoDigests()}, gen, del, nil, nil)
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("non-COMPLETE finish must not abort, got %v", err)
	}
	if r.State() != StateDone {
		t.Errorf("state = %s, want done", r.State())
	}
	if len(del.posted) != 1 || del.posted[0] != "partial text" {
		t.Errorf("expected the partial text delivered, got %v", del.posted)
	}
}

func TestRun_ChunkFailureDoesNotStopDelivery(t *testing.T) {
	gen := &mockGenerator{result: completeResult(strings.Repeat("x", 4500))}
	del := &mockDeliverer{
		outcomes: map[int]*webhook.Outcome{1: {StatusCode: 500, Body: "server error"}},
		errs:     map[int]error{0: errors.New("connection reset")},
	}
	st := &mockStore{}

	r := newTestRunner(&mockAggregator{digests: twoDigests()}, gen, del, nil, st)
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("chunk failures must not abort the run, got %v", err)
	}

	if len(del.posted) != 3 {
		t.Fatalf("posted %d chunks, want all 3", len(del.posted))
	}
	if len(st.deliveries) != 3 {
		t.Fatalf("stored %d outcomes, want 3", len(st.deliveries))
	}
	if st.deliveries[0].StatusCode != 0 || !strings.Contains(st.deliveries[0].Body, "connection reset") {
		t.Errorf("transport failure outcome = %+v", st.deliveries[0])
	}
	if st.deliveries[1].StatusCode != 500 {
		t.Errorf("rejected chunk outcome = %+v", st.deliveries[1])
	}
	if st.deliveries[2].StatusCode != 204 {
		t.Errorf("final chunk outcome = %+v", st.deliveries[2])
	}
}

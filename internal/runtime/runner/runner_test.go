package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	buspkg "github.com/drblury/asyncflow/internal/runtime/bus"
	errspkg "github.com/drblury/asyncflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/asyncflow/internal/runtime/logging"
	metricspkg "github.com/drblury/asyncflow/internal/runtime/metrics"
	"github.com/drblury/asyncflow/queue"
	"github.com/drblury/asyncflow/queue/memory"
)

type fooMessage struct{}

// stubSerializer decodes every payload to fooMessage except "garbage".
type stubSerializer struct {
	calls int
}

func (s *stubSerializer) Serialize(any) ([]byte, error) {
	return nil, errors.New("not used")
}

func (s *stubSerializer) Deserialize(data []byte) (any, error) {
	s.calls++
	if string(data) == "garbage" {
		return nil, errors.New("bad frame")
	}
	return fooMessage{}, nil
}

type countingHandler struct {
	calls int
	fn    func(call int) error
}

func (h *countingHandler) Handle(_ context.Context, msg any) error {
	h.calls++
	if _, ok := msg.(fooMessage); !ok {
		return errors.New("unexpected message type")
	}
	if h.fn == nil {
		return nil
	}
	return h.fn(h.calls)
}

func fill(t *testing.T, d *memory.Driver, payloads ...string) {
	t.Helper()
	for _, p := range payloads {
		if err := d.Publish(context.Background(), "messages", []byte(p)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
}

func repeat(payload string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = payload
	}
	return out
}

func remaining(t *testing.T, d *memory.Driver) int {
	t.Helper()
	count, err := d.Count(context.Background(), "messages")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return count
}

func newRunner(t *testing.T, d *memory.Driver, h buspkg.Handler, cfg Config) *Runner {
	t.Helper()
	r, err := New(d, h, cfg)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return r
}

func TestRunProcessesEveryMessage(t *testing.T) {
	d := memory.New()
	fill(t, d, repeat("foo-message", 3)...)
	ser := &stubSerializer{}
	h := &countingHandler{}

	if err := newRunner(t, d, h, Config{Serializer: ser}).Run(context.Background(), "messages", nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	if ser.calls != 3 || h.calls != 3 {
		t.Fatalf("expected 3 decodes and 3 dispatches, got %d and %d", ser.calls, h.calls)
	}
	if remaining(t, d) != 0 {
		t.Fatal("queue should be drained")
	}
}

func TestRunStopsAfterMaxMessages(t *testing.T) {
	d := memory.New()
	fill(t, d, repeat("foo-message", 5)...)
	ser := &stubSerializer{}
	h := &countingHandler{}

	if err := newRunner(t, d, h, Config{Serializer: ser, MaxMessages: 2}).Run(context.Background(), "messages", nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	if ser.calls != 2 || h.calls != 2 {
		t.Fatalf("expected 2 messages handled, got %d decodes and %d dispatches", ser.calls, h.calls)
	}
	if got := remaining(t, d); got != 3 {
		t.Fatalf("expected 3 messages left, got %d", got)
	}
}

func TestRunContinuesOnOrdinaryErrors(t *testing.T) {
	d := memory.New()
	fill(t, d, repeat("foo-message", 5)...)
	rec := loggingpkg.NewRecorder()
	h := &countingHandler{fn: func(call int) error {
		if call == 1 {
			return errors.New("something bad happened")
		}
		return nil
	}}

	r := newRunner(t, d, h, Config{Serializer: &stubSerializer{}, Logger: rec})
	if err := r.Run(context.Background(), "messages", nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	if h.calls != 5 {
		t.Fatalf("expected 5 dispatches, got %d", h.calls)
	}
	if remaining(t, d) != 0 {
		t.Fatal("queue should be drained")
	}

	errorsLogged := errorEntries(rec)
	if len(errorsLogged) != 1 {
		t.Fatalf("expected one error line, got %d", len(errorsLogged))
	}
	entry := errorsLogged[0]
	if entry.Msg != "Error handling message" {
		t.Fatalf("unexpected message %q", entry.Msg)
	}
	if entry.Fields["message_type"] != "runner.fooMessage" {
		t.Fatalf("unexpected message_type %v", entry.Fields["message_type"])
	}
	if entry.Fields["error_type"] != "*errors.errorString" {
		t.Fatalf("unexpected error_type %v", entry.Fields["error_type"])
	}
	if entry.Fields["origin"] != "unknown" {
		t.Fatalf("unexpected origin %v", entry.Fields["origin"])
	}
	if entry.Err == nil || entry.Err.Error() != "something bad happened" {
		t.Fatalf("unexpected error %v", entry.Err)
	}
	for _, msg := range rec.Messages("info") {
		if strings.Contains(msg, "severe") {
			t.Fatal("ordinary errors must not cancel")
		}
	}
}

func TestRunStopsOnSevereErrors(t *testing.T) {
	d := memory.New()
	fill(t, d, repeat("foo-message", 5)...)
	rec := loggingpkg.NewRecorder()
	ser := &stubSerializer{}
	h := &countingHandler{fn: func(int) error {
		panic("argument 1 of something needs something else")
	}}

	if err := newRunner(t, d, h, Config{Serializer: ser, Logger: rec}).Run(context.Background(), "messages", nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	if ser.calls != 1 || h.calls != 1 {
		t.Fatalf("expected a single message handled, got %d decodes and %d dispatches", ser.calls, h.calls)
	}
	if got := remaining(t, d); got != 4 {
		t.Fatalf("expected 4 messages left, got %d", got)
	}

	logged := errorEntries(rec)
	if len(logged) != 1 {
		t.Fatalf("expected one error line, got %d", len(logged))
	}
	if origin, _ := logged[0].Fields["origin"].(string); !strings.Contains(origin, "runner_test.go:") {
		t.Fatalf("expected origin in runner_test.go, got %v", logged[0].Fields["origin"])
	}
	if !containsMsg(rec.Messages("info"), "Cancelling consumption due to a severe error") {
		t.Fatalf("expected cancellation line, got %v", rec.Messages("info"))
	}
}

func TestRunStopsAtMemoryLimit(t *testing.T) {
	d := memory.New()
	fill(t, d, repeat("foo-message", 5)...)
	usage := uint64(0)
	h := &countingHandler{fn: func(int) error {
		usage += 100
		return nil
	}}

	cfg := Config{
		Serializer:     &stubSerializer{},
		MaxMemoryBytes: 250,
		MemorySampler:  func() uint64 { return usage },
	}
	if err := newRunner(t, d, h, cfg).Run(context.Background(), "messages", nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	// 100 and 200 stay under the limit, 300 exceeds it.
	if h.calls != 3 {
		t.Fatalf("expected 3 dispatches, got %d", h.calls)
	}
	if got := remaining(t, d); got != 2 {
		t.Fatalf("expected 2 messages left, got %d", got)
	}
}

func TestRunStopsAtMemoryLimitOnlyWhenExceeded(t *testing.T) {
	d := memory.New()
	fill(t, d, repeat("foo-message", 3)...)
	h := &countingHandler{}

	cfg := Config{
		Serializer:     &stubSerializer{},
		MaxMemoryBytes: 100,
		MemorySampler:  func() uint64 { return 100 },
	}
	if err := newRunner(t, d, h, cfg).Run(context.Background(), "messages", nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.calls != 3 {
		t.Fatalf("usage equal to the limit must not cancel, got %d dispatches", h.calls)
	}
}

func TestRunStopsAfterMaxDuration(t *testing.T) {
	d := memory.New()
	fill(t, d, repeat("foo-message", 5)...)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := &countingHandler{fn: func(int) error {
		now = now.Add(time.Second)
		return nil
	}}

	cfg := Config{
		Serializer:  &stubSerializer{},
		MaxDuration: 3 * time.Second,
		Clock:       func() time.Time { return now },
	}
	if err := newRunner(t, d, h, cfg).Run(context.Background(), "messages", nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	if h.calls != 3 {
		t.Fatalf("expected 3 dispatches, got %d", h.calls)
	}
	if got := remaining(t, d); got != 2 {
		t.Fatalf("expected 2 messages left, got %d", got)
	}
}

func TestRunEvaluatesEveryPolicy(t *testing.T) {
	d := memory.New()
	fill(t, d, repeat("foo-message", 3)...)
	reg := prometheus.NewRegistry()
	metrics := metricspkg.New(reg)
	if err := metrics.Register(); err != nil {
		t.Fatalf("register: %v", err)
	}

	cfg := Config{
		Serializer:     &stubSerializer{},
		MaxMessages:    1,
		MaxMemoryBytes: 1,
		MemorySampler:  func() uint64 { return 10 },
		Metrics:        metrics,
	}
	if err := newRunner(t, d, &countingHandler{}, cfg).Run(context.Background(), "messages", nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	count, err := testutil.GatherAndCount(reg, "asyncflow_runner_cancellations_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected both policies to record a cancellation, got %d series", count)
	}
	if got := remaining(t, d); got != 2 {
		t.Fatalf("expected 2 messages left, got %d", got)
	}
}

func TestRunSkipsUndecodableMessages(t *testing.T) {
	d := memory.New()
	fill(t, d, "foo-message", "garbage", "foo-message")
	h := &countingHandler{}

	var (
		gotErr error
		gotMsg any = "unset"
	)
	onError := func(_ context.Context, err error, msg any, _ queue.CancelFunc) {
		gotErr = err
		gotMsg = msg
	}

	if err := newRunner(t, d, h, Config{Serializer: &stubSerializer{}}).Run(context.Background(), "messages", onError); err != nil {
		t.Fatalf("run: %v", err)
	}

	if h.calls != 2 {
		t.Fatalf("expected 2 dispatches, got %d", h.calls)
	}
	if !errors.Is(gotErr, errspkg.ErrDecode) {
		t.Fatalf("expected decode error, got %v", gotErr)
	}
	var decodeErr *errspkg.DecodeError
	if !errors.As(gotErr, &decodeErr) || decodeErr.Queue != "messages" {
		t.Fatalf("expected decode error for messages, got %v", gotErr)
	}
	if gotMsg != nil {
		t.Fatalf("expected nil message, got %v", gotMsg)
	}
}

func TestCustomErrorHandlerCanCancel(t *testing.T) {
	d := memory.New()
	fill(t, d, repeat("foo-message", 4)...)
	h := &countingHandler{fn: func(int) error { return errors.New("boom") }}

	onError := func(_ context.Context, _ error, _ any, cancel queue.CancelFunc) { cancel() }
	if err := newRunner(t, d, h, Config{Serializer: &stubSerializer{}}).Run(context.Background(), "messages", onError); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.calls != 1 || remaining(t, d) != 3 {
		t.Fatalf("expected to stop after the first failure, got %d calls and %d left", h.calls, remaining(t, d))
	}
}

func TestRunReturnsContextCancellation(t *testing.T) {
	d := memory.New()
	fill(t, d, repeat("foo-message", 2)...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newRunner(t, d, &countingHandler{}, Config{Serializer: &stubSerializer{}}).Run(ctx, "messages", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	d := memory.New()
	tests := []struct {
		name    string
		driver  queue.Driver
		handler buspkg.Handler
		cfg     Config
		want    error
	}{
		{name: "driver", handler: &countingHandler{}, cfg: Config{Serializer: &stubSerializer{}}, want: errspkg.ErrDriverRequired},
		{name: "handler", driver: d, cfg: Config{Serializer: &stubSerializer{}}, want: errspkg.ErrHandlerRequired},
		{name: "serializer", driver: d, handler: &countingHandler{}, want: errspkg.ErrSerializerRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.driver, tt.handler, tt.cfg); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	r := newRunner(t, d, &countingHandler{}, Config{Serializer: &stubSerializer{}})
	if err := r.Run(context.Background(), "", nil); !errors.Is(err, errspkg.ErrQueueRequired) {
		t.Fatalf("expected ErrQueueRequired, got %v", err)
	}
}

func TestPolicies(t *testing.T) {
	t.Run("disabled policies are not built", func(t *testing.T) {
		r := newRunner(t, memory.New(), &countingHandler{}, Config{Serializer: &stubSerializer{}})
		if len(r.Policies()) != 0 {
			t.Fatalf("expected no policies, got %d", len(r.Policies()))
		}
	})

	t.Run("fixed order", func(t *testing.T) {
		r := newRunner(t, memory.New(), &countingHandler{}, Config{
			Serializer:     &stubSerializer{},
			MaxMessages:    1,
			MaxMemoryBytes: 1,
			MaxDuration:    time.Second,
		})
		var names []string
		for _, p := range r.Policies() {
			names = append(names, p.Name())
		}
		if strings.Join(names, ",") != "max_duration,max_messages,max_memory" {
			t.Fatalf("unexpected order %v", names)
		}
	})

	t.Run("heap sampler reports usage", func(t *testing.T) {
		if HeapObjectsBytes() == 0 {
			t.Fatal("expected a non-zero heap sample")
		}
	})
}

func errorEntries(rec *loggingpkg.Recorder) []loggingpkg.Entry {
	var out []loggingpkg.Entry
	for _, e := range rec.Entries() {
		if e.Level == "error" {
			out = append(out, e)
		}
	}
	return out
}

func containsMsg(msgs []string, want string) bool {
	for _, m := range msgs {
		if m == want {
			return true
		}
	}
	return false
}

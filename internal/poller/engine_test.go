package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"hwbot/internal/eventbus"
	"hwbot/internal/failure"
	"hwbot/internal/homework"
	logx "hwbot/pkg/logx"
)

type fetchResult struct {
	body  string
	err   error
	panic any
}

type fakeSource struct {
	mu      sync.Mutex
	results []fetchResult
	cursors []int64
}

func (f *fakeSource) Fetch(ctx context.Context, cursor int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, cursor)
	if len(f.results) == 0 {
		return []byte(`{"homeworks":[]}`), nil
	}
	r := f.results[0]
	f.results = f.results[1:]
	if r.panic != nil {
		panic(r.panic)
	}
	return []byte(r.body), r.err
}

type fakeNotifier struct {
	mu         sync.Mutex
	attempts   []string
	sent       []string
	suppressed []string
	err        error
	failFirst  int // sends that fail before err takes over
}

func (f *fakeNotifier) Send(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, text)
	if f.failFirst > 0 {
		f.failFirst--
		return failure.New(failure.ErrDelivery, "telegram down")
	}
	if f.err != nil {
		return failure.Wrap(failure.ErrDelivery, f.err, "")
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeNotifier) Suppressed(ctx context.Context, text string) {
	f.mu.Lock()
	f.suppressed = append(f.suppressed, text)
	f.mu.Unlock()
}

func (f *fakeNotifier) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newEngine(t *testing.T, src Source, n Notifier, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg, src, n, nil, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

const lab1Approved = `Изменился статус проверки работы "lab1". Работа проверена: ревьюеру всё понравилось. Ура!`

func TestTickApprovedScenario(t *testing.T) {
	src := &fakeSource{results: []fetchResult{{body: `{"homeworks": [{"homework_name": "lab1", "status": "approved"}], "current_date": 1700000000}`}}}
	n := &fakeNotifier{}
	e := newEngine(t, src, n, Config{InitialCursor: 100})

	res := e.Tick(context.Background())
	if res.Outcome != OutcomeNotified {
		t.Fatalf("outcome = %s (%v)", res.Outcome, res.Err)
	}
	if got := n.Sent(); len(got) != 1 || got[0] != lab1Approved {
		t.Fatalf("sent = %q", got)
	}
	st := e.State()
	if st.Cursor != 1700000000 || st.LastNotified != lab1Approved || st.Ticks != 1 {
		t.Fatalf("unexpected state %+v", st)
	}
	if src.cursors[0] != 100 {
		t.Fatalf("first fetch used cursor %d", src.cursors[0])
	}
}

func TestTickEmptyHomeworksIsSilent(t *testing.T) {
	src := &fakeSource{results: []fetchResult{
		{body: `{"homeworks": [], "current_date": 1700000500}`},
		{body: `{"homeworks": []}`},
	}}
	n := &fakeNotifier{}
	e := newEngine(t, src, n, Config{InitialCursor: 1})

	if res := e.Tick(context.Background()); res.Outcome != OutcomeIdle || res.Err != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if e.State().Cursor != 1700000500 {
		t.Fatalf("cursor = %d", e.State().Cursor)
	}
	// No current_date: cursor is kept.
	e.Tick(context.Background())
	if e.State().Cursor != 1700000500 {
		t.Fatalf("cursor = %d", e.State().Cursor)
	}
	if len(n.Sent()) != 0 {
		t.Fatalf("unexpected messages %q", n.Sent())
	}
}

func TestTickEmptyObjectFails(t *testing.T) {
	src := &fakeSource{results: []fetchResult{{body: `{}`}, {body: `{}`}}}
	n := &fakeNotifier{}
	e := newEngine(t, src, n, Config{InitialCursor: 42})

	res := e.Tick(context.Background())
	if !errors.Is(res.Err, failure.ErrMalformedResponse) || res.Outcome != OutcomeFailureSent {
		t.Fatalf("unexpected result %+v", res)
	}
	if e.State().Cursor != 42 {
		t.Fatalf("cursor moved to %d", e.State().Cursor)
	}
	sent := n.Sent()
	if len(sent) != 1 || !strings.HasPrefix(sent[0], FailurePrefix) {
		t.Fatalf("sent = %q", sent)
	}

	if res := e.Tick(context.Background()); res.Outcome != OutcomeFailureSuppressed {
		t.Fatalf("second outcome = %s", res.Outcome)
	}
	if len(n.Sent()) != 1 || len(n.suppressed) != 1 {
		t.Fatalf("sent=%q suppressed=%q", n.Sent(), n.suppressed)
	}
}

func TestTickEmptyObjectAllowed(t *testing.T) {
	src := &fakeSource{results: []fetchResult{{body: `{}`}}}
	n := &fakeNotifier{}
	e := newEngine(t, src, n, Config{Validate: homework.ValidateOptions{AllowEmpty: true}})
	if res := e.Tick(context.Background()); res.Outcome != OutcomeIdle {
		t.Fatalf("outcome = %s (%v)", res.Outcome, res.Err)
	}
}

func TestRepeatedNetworkErrorNotifiesOnce(t *testing.T) {
	netErr := failure.Wrap(failure.ErrNetwork, errors.New("connection refused"), "GET endpoint")
	src := &fakeSource{results: []fetchResult{{err: netErr}, {err: netErr}}}
	n := &fakeNotifier{}
	e := newEngine(t, src, n, Config{InitialCursor: 7})

	e.Tick(context.Background())
	e.Tick(context.Background())

	sent := n.Sent()
	if len(sent) != 1 || sent[0] != FailurePrefix+netErr.Error() {
		t.Fatalf("sent = %q", sent)
	}
	if e.State().Cursor != 7 {
		t.Fatalf("cursor moved to %d", e.State().Cursor)
	}
}

func TestChangedFailureIsDelivered(t *testing.T) {
	src := &fakeSource{results: []fetchResult{
		{err: failure.New(failure.ErrServer, "HTTP 500")},
		{err: failure.New(failure.ErrServer, "HTTP 502")},
		{err: failure.New(failure.ErrServer, "HTTP 500")},
	}}
	n := &fakeNotifier{}
	e := newEngine(t, src, n, Config{})
	for i := 0; i < 3; i++ {
		e.Tick(context.Background())
	}
	if got := len(n.Sent()); got != 3 {
		t.Fatalf("expected 3 deliveries, got %d: %q", got, n.Sent())
	}
}

func TestStatusMessagesAreNotDeduplicated(t *testing.T) {
	body := `{"homeworks": [{"homework_name": "lab1", "status": "approved"}]}`
	src := &fakeSource{results: []fetchResult{{body: body}, {body: body}}}
	n := &fakeNotifier{}
	e := newEngine(t, src, n, Config{})
	e.Tick(context.Background())
	e.Tick(context.Background())
	if got := len(n.Sent()); got != 2 {
		t.Fatalf("expected 2 deliveries, got %d", got)
	}
}

func TestFailureDeliveryErrorIsSwallowed(t *testing.T) {
	srcErr := failure.New(failure.ErrServer, "HTTP 503")
	src := &fakeSource{results: []fetchResult{{err: srcErr}, {err: srcErr}}}
	n := &fakeNotifier{err: errors.New("telegram down")}
	e := newEngine(t, src, n, Config{})

	res := e.Tick(context.Background())
	if res.Outcome != OutcomeFailureUndelivered {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	// lastNotified is updated even though delivery failed.
	if e.State().LastNotified != FailurePrefix+srcErr.Error() {
		t.Fatalf("last notified = %q", e.State().LastNotified)
	}
	if res := e.Tick(context.Background()); res.Outcome != OutcomeFailureSuppressed {
		t.Fatalf("second outcome = %s", res.Outcome)
	}
}

func TestStatusDeliveryFailureTakesFailurePath(t *testing.T) {
	status := `{"homeworks":[{"homework_name":"lab1","status":"approved"}],"current_date":5}`
	src := &fakeSource{results: []fetchResult{{body: status}}}
	n := &fakeNotifier{failFirst: 1}
	e := newEngine(t, src, n, Config{})

	res := e.Tick(context.Background())
	if res.Outcome != OutcomeFailureSent || !errors.Is(res.Err, failure.ErrDelivery) || res.Kind != "delivery" {
		t.Fatalf("unexpected result %+v", res)
	}
	want := FailurePrefix + res.Err.Error()
	if len(n.attempts) != 2 || n.attempts[0] != lab1Approved || n.attempts[1] != want {
		t.Fatalf("attempts = %q", n.attempts)
	}
	if sent := n.Sent(); len(sent) != 1 || sent[0] != want {
		t.Fatalf("sent = %q", sent)
	}
	if st := e.State(); st.LastNotified != want || st.Cursor != 5 {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestStatusDeliveryFailureDedup(t *testing.T) {
	status := `{"homeworks":[{"homework_name":"lab1","status":"approved"}],"current_date":5}`
	src := &fakeSource{results: []fetchResult{{body: status}, {body: status}}}
	n := &fakeNotifier{err: errors.New("telegram down")}
	e := newEngine(t, src, n, Config{})

	res := e.Tick(context.Background())
	if res.Outcome != OutcomeFailureUndelivered {
		t.Fatalf("first outcome = %s", res.Outcome)
	}
	if e.State().LastNotified != FailurePrefix+res.Err.Error() {
		t.Fatalf("last notified = %q", e.State().LastNotified)
	}
	// The retried status resets lastNotified, so the failure goes out again.
	if res := e.Tick(context.Background()); res.Outcome != OutcomeFailureUndelivered {
		t.Fatalf("second outcome = %s", res.Outcome)
	}
	if len(n.attempts) != 4 {
		t.Fatalf("attempts = %q", n.attempts)
	}
}

func TestFormatErrorsTakeFailurePath(t *testing.T) {
	tests := []struct {
		body string
		kind error
	}{
		{`{"homeworks":[{"homework_name":"lab1","status":"graded"}]}`, failure.ErrUnknownStatus},
		{`{"homeworks":[{"status":"approved"}]}`, failure.ErrMissingField},
		{`{"current_date": 1}`, failure.ErrMissingField},
		{`{"homeworks": {}}`, failure.ErrMalformedResponse},
		{`[]`, failure.ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			n := &fakeNotifier{}
			e := newEngine(t, &fakeSource{results: []fetchResult{{body: tt.body}}}, n, Config{})
			res := e.Tick(context.Background())
			if !errors.Is(res.Err, tt.kind) || res.Outcome != OutcomeFailureSent {
				t.Fatalf("unexpected result %+v", res)
			}
			if sent := n.Sent(); len(sent) != 1 || sent[0] != FailurePrefix+res.Err.Error() {
				t.Fatalf("sent = %q", sent)
			}
		})
	}
}

func TestTickRecoversPanics(t *testing.T) {
	src := &fakeSource{results: []fetchResult{{panic: "nil map"}}}
	n := &fakeNotifier{}
	e := newEngine(t, src, n, Config{})

	res := e.Tick(context.Background())
	if res.Err == nil || !strings.Contains(res.Err.Error(), "panic: nil map") {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Kind != "unknown" || len(n.Sent()) != 1 {
		t.Fatalf("kind=%s sent=%q", res.Kind, n.Sent())
	}
}

func TestTickPublishesEvent(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(2)
	defer unsub()

	e, err := New(Config{}, &fakeSource{}, &fakeNotifier{}, bus, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	e.newID = func() string { return "fixed-id" }
	e.Tick(context.Background())

	ev := <-ch
	res, ok := ev.Data.(TickResult)
	if ev.Type != eventbus.TypeTick || !ok || res.ID != "fixed-id" || res.Outcome != OutcomeIdle {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &fakeSource{}
	e := newEngine(t, src, &fakeNotifier{}, Config{Schedule: Every(5 * time.Millisecond)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for e.State().Ticks < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d ticks", e.State().Ticks)
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRunWaitsForSchedule(t *testing.T) {
	e := newEngine(t, &fakeSource{}, &fakeNotifier{}, Config{Schedule: Every(time.Hour)})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = e.Run(ctx)
	if got := e.State().Ticks; got != 1 {
		t.Fatalf("expected a single tick within the interval, got %d", got)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}, nil, &fakeNotifier{}, nil, logx.Nop()); err == nil {
		t.Fatal("expected error for nil source")
	}
	if _, err := New(Config{}, &fakeSource{}, nil, nil, logx.Nop()); err == nil {
		t.Fatal("expected error for nil notifier")
	}
}

func ExampleEngine_Tick() {
	src := &fakeSource{results: []fetchResult{{body: `{"homeworks":[{"homework_name":"lab1","status":"reviewing"}],"current_date":1700000000}`}}}
	n := &fakeNotifier{}
	e, _ := New(Config{}, src, n, nil, logx.Nop())
	res := e.Tick(context.Background())
	fmt.Println(res.Outcome, res.Cursor)
	fmt.Println(n.Sent()[0])
	// Output:
	// notified 1700000000
	// Изменился статус проверки работы "lab1". Работа взята на проверку ревьюером.
}

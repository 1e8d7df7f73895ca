package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/objectfs/cloudfile/pkg/errors"
	"github.com/objectfs/cloudfile/pkg/utils"
)

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
	}
}

func TestExecutor_Success(t *testing.T) {
	executor := New(fastConfig(3))

	attempts := 0
	err := executor.Execute(context.Background(), "upload", func(ctx context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestExecutor_TransientThenSuccess(t *testing.T) {
	executor := New(fastConfig(3))

	attempts := 0
	err := executor.Execute(context.Background(), "upload", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("remote returned 503 Service Unavailable")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestExecutor_Exhaustion(t *testing.T) {
	executor := New(fastConfig(2))

	attempts := 0
	err := executor.Execute(context.Background(), "download docs/a.txt", func(ctx context.Context) error {
		attempts++
		return fmt.Errorf("remote returned 429 Too Many Requests")
	})

	if attempts != 3 {
		t.Fatalf("Expected maxRetries+1 = 3 attempts, got %d", attempts)
	}
	if !errors.HasCode(err, errors.ErrCodeRetryExhausted) {
		t.Fatalf("Expected RETRY_EXHAUSTED, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "download docs/a.txt") || !strings.Contains(msg, "3 attempt") {
		t.Errorf("error should name the operation and attempt count: %q", msg)
	}
	if strings.Count(msg, "429 Too Many Requests") != 1 {
		t.Errorf("error should carry the inner message exactly once: %q", msg)
	}
}

func TestExecutor_NotFoundWithStatusDigitsNotRetried(t *testing.T) {
	executor := New(fastConfig(5))

	attempts := 0
	err := executor.Execute(context.Background(), "download reports/q1500.csv", func(ctx context.Context) error {
		attempts++
		return errors.NewError(errors.ErrCodeFileNotFound, "file contoso/reports/q1500.csv not found")
	})

	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
	if !errors.IsNotFound(err) {
		t.Errorf("Expected not-found cause, got %v", err)
	}
}

func TestExecutor_NonTransientShortCircuit(t *testing.T) {
	executor := New(fastConfig(5))

	attempts := 0
	notFound := errors.NewError(errors.ErrCodeFileNotFound, "no such file")
	err := executor.Execute(context.Background(), "download", func(ctx context.Context) error {
		attempts++
		return notFound
	})

	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
	}
	if !errors.HasCode(err, errors.ErrCodeOperationFailed) {
		t.Errorf("Expected OPERATION_FAILED wrapper, got %v", err)
	}
	if !errors.IsNotFound(err) {
		t.Error("wrapped error should still expose the not-found cause")
	}
	if !stderrors.Is(err, notFound) {
		t.Error("errors.Is should reach the original error")
	}
}

// Delays before attempt 2 and 3 with a 10ms base fall in [8,10) and [16,20).
func TestExecutor_BackoffJitterBands(t *testing.T) {
	config := Config{MaxRetries: 2, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second}

	var delays []time.Duration
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	}

	executor := New(config)
	attempts := 0
	err := executor.Execute(context.Background(), "flaky", func(ctx context.Context) error {
		attempts++
		return fmt.Errorf("HTTP 503")
	})

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if attempts != 3 {
		t.Fatalf("Expected 3 attempts, got %d", attempts)
	}
	if len(delays) != 2 {
		t.Fatalf("Expected 2 delays, got %d", len(delays))
	}

	bands := [][2]time.Duration{
		{8 * time.Millisecond, 10 * time.Millisecond},
		{16 * time.Millisecond, 20 * time.Millisecond},
	}
	for i, band := range bands {
		if delays[i] < band[0] || delays[i] >= band[1] {
			t.Errorf("delay %d = %v, want in [%v,%v)", i, delays[i], band[0], band[1])
		}
	}
}

func TestExecutor_DelayComputation(t *testing.T) {
	config := Config{MaxRetries: 10, InitialDelay: time.Second, MaxDelay: 5 * time.Second}

	low := New(config, WithRandom(func() float64 { return 0 }))
	high := New(config, WithRandom(func() float64 { return 0.999999 }))

	tests := []struct {
		attempt int
		base    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{9, 5 * time.Second},
	}

	for _, tt := range tests {
		if got := low.BaseDelay(tt.attempt); got != tt.base {
			t.Errorf("BaseDelay(%d) = %v, want %v", tt.attempt, got, tt.base)
		}
		if got := low.Delay(tt.attempt); got != time.Duration(float64(tt.base)*0.8) {
			t.Errorf("Delay(%d) lower bound = %v", tt.attempt, got)
		}
		if got := high.Delay(tt.attempt); got >= tt.base || got < time.Duration(float64(tt.base)*0.99) {
			t.Errorf("Delay(%d) upper bound = %v, want just below %v", tt.attempt, got, tt.base)
		}
	}
}

func TestExecutor_Defaults(t *testing.T) {
	executor := New(Config{MaxRetries: -1})
	cfg := executor.Config()

	if cfg.MaxRetries != 3 || cfg.InitialDelay != 2*time.Second || cfg.MaxDelay != 60*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if d := DefaultConfig(); d.MaxRetries != 3 || d.InitialDelay != 2*time.Second || d.MaxDelay != time.Minute {
		t.Errorf("unexpected DefaultConfig: %+v", d)
	}
}

func TestExecutor_ContextCancellation(t *testing.T) {
	executor := New(Config{MaxRetries: 10, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	var attempts int32
	err := executor.Execute(ctx, "upload", func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return errors.NewError(errors.ErrCodeConnectionFailed, "connection failed")
	})

	if !errors.HasCode(err, errors.ErrCodeOperationCanceled) {
		t.Errorf("Expected OPERATION_CANCELED, got %v", err)
	}
	if atomic.LoadInt32(&attempts) >= 10 {
		t.Errorf("Expected early stop, got %d attempts", attempts)
	}
}

func TestExecutor_DeadlineReportsTimeout(t *testing.T) {
	executor := New(Config{MaxRetries: 10, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := executor.Execute(ctx, "upload", func(ctx context.Context) error {
		return errors.NewError(errors.ErrCodeConnectionFailed, "connection failed")
	})

	if !errors.HasCode(err, errors.ErrCodeOperationTimeout) {
		t.Errorf("Expected OPERATION_TIMEOUT, got %v", err)
	}
	if !errors.IsTimeout(err) {
		t.Error("IsTimeout should report a missed deadline")
	}
}

func TestExecutor_NestedExecutorsDoNotMultiply(t *testing.T) {
	inner := New(fastConfig(1))
	outer := New(fastConfig(3))

	attempts := 0
	err := outer.Execute(context.Background(), "outer", func(ctx context.Context) error {
		return inner.Execute(ctx, "inner", func(ctx context.Context) error {
			attempts++
			return fmt.Errorf("status 503")
		})
	})

	if err == nil {
		t.Fatal("expected failure")
	}
	if attempts != 2 {
		t.Errorf("inner should run once per outer attempt, and outer should not retry: got %d", attempts)
	}
}

type panickingLogger struct{ utils.NopLogger }

func (panickingLogger) Warn(string, ...map[string]interface{}) { panic("sink unavailable") }
func (p panickingLogger) WithComponent(string) utils.Logger { return p }

type countingObserver struct{ retries, exhausted int32 }

func (o *countingObserver) RecordRetry(string) { atomic.AddInt32(&o.retries, 1) }
func (o *countingObserver) RecordRetryExhausted(string) { atomic.AddInt32(&o.exhausted, 1) }

func TestExecutor_TraceSinkFailureIgnored(t *testing.T) {
	observer := &countingObserver{}
	executor := New(fastConfig(2), WithLogger(panickingLogger{}), WithObserver(observer))

	attempts := 0
	err := executor.Execute(context.Background(), "upload", func(ctx context.Context) error {
		attempts++
		return fmt.Errorf("502 bad gateway")
	})

	if attempts != 3 {
		t.Errorf("Expected 3 attempts despite panicking logger, got %d", attempts)
	}
	if err == nil {
		t.Error("Expected error")
	}
	if observer.retries != 2 || observer.exhausted != 1 {
		t.Errorf("observer saw retries=%d exhausted=%d", observer.retries, observer.exhausted)
	}
}

func TestExecuteValue(t *testing.T) {
	executor := New(fastConfig(2))

	calls := 0
	data, err := ExecuteValue(context.Background(), executor, "download", func(ctx context.Context) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, io.ErrUnexpectedEOF
		}
		return []byte("payload"), nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("got %q", data)
	}
}

func TestExecutor_Go(t *testing.T) {
	executor := New(fastConfig(0))

	done := executor.Go(context.Background(), "fire", func(ctx context.Context) error {
		return fmt.Errorf("bad request")
	})

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error")
		}
	case <-time.After(time.Second):
		t.Fatal("Go did not deliver a result")
	}
	if _, open := <-done; open {
		t.Error("channel should be closed after the result")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", fmt.Errorf("op: %w", context.Canceled), true},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.example"}, true},
		{"op error", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"status 429", fmt.Errorf("remote returned 429"), true},
		{"status 500", fmt.Errorf("Internal Server Error (500)"), true},
		{"status 408", fmt.Errorf("408 request timeout"), true},
		{"status 404", fmt.Errorf("remote returned 404"), false},
		{"status 401", fmt.Errorf("remote returned 401"), false},
		{"retryable flag", errors.NewError(errors.ErrCodeThrottled, "slow down"), true},
		{"not found", errors.NewError(errors.ErrCodeFileNotFound, "gone"), false},
		{"plain", fmt.Errorf("invalid argument"), false},
		{"not found path with status digits", errors.NewError(errors.ErrCodeFileNotFound, "file contoso/reports/q1500.csv not found"), false},
		{"wrapped not found path with status digits", fmt.Errorf("read: %w", errors.NewError(errors.ErrCodeFileNotFound, "reports/503.txt")), false},
		{"access denied path with status digits", errors.NewError(errors.ErrCodeAccessDenied, "denied on docs/429.txt"), false},
		{"circuit open site with status digits", errors.NewError(errors.ErrCodeCircuitOpen, "circuit site-500 is open"), false},
		{"typed status wins over text", errors.NewError(errors.ErrCodeRemoteStatus, "remote returned 400: docs/502.txt").WithStatus(400), false},
		{"typed transient status", errors.NewError(errors.ErrCodeRemoteStatus, "remote returned 502").WithStatus(502), true},
		{"token endpoint unavailable", errors.NewError(errors.ErrCodeAuthenticationFailed, "token endpoint returned 503").WithStatus(503), true},
		{"token endpoint rejected", errors.NewError(errors.ErrCodeAuthenticationFailed, "token endpoint returned 401").WithStatus(401), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient(%v) = %v, want %v (reason %q)", tt.err, got, tt.transient, Classify(tt.err))
			}
		})
	}
}

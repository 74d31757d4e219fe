package migerr

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestErrorFormatting(t *testing.T) {
	base := errors.New("connect refused")
	err := Wrap(Transient, base, "dial source").WithPhase("validate")

	got := err.Error()
	want := "transient (validate): dial source: connect refused"
	if got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, err) {
		t.Fatalf("errors.Is should match itself")
	}
	if errors.Unwrap(err) != base {
		t.Fatalf("Unwrap() did not return wrapped cause")
	}
}

func TestIsAndKindOf(t *testing.T) {
	err := New(UserCancelled, "operator declined")
	if !Is(err, UserCancelled) {
		t.Fatalf("Is() should recognize matching kind")
	}
	if Is(err, Transient) {
		t.Fatalf("Is() should not recognize mismatched kind")
	}
	if KindOf(err) != UserCancelled {
		t.Fatalf("KindOf() = %v, want %v", KindOf(err), UserCancelled)
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("KindOf() of a plain error should be empty")
	}
}

func TestClassifyStrings(t *testing.T) {
	cases := []struct {
		msg  string
		want Kind
	}{
		{"password authentication failed for user \"x\"", AuthenticationFailed},
		{"FATAL: database \"nope\" does not exist", Misconfiguration},
		{"permission denied for table orders", InsufficientPriv},
		{"dial tcp: connection refused", Transient},
		{"context deadline exceeded", Transient},
		{"something unrelated", ""},
	}
	for _, c := range cases {
		got := Classify(errors.New(c.msg))
		if got != c.want {
			t.Errorf("Classify(%q) = %q, want %q", c.msg, got, c.want)
		}
	}
}

func TestRetryWithBackoffRetriesOnlyTransient(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), 2, time.Millisecond, func(ctx context.Context) error {
		attempts++
		return Wrap(Transient, errors.New("refused"), "connect")
	})
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if !Is(err, Transient) {
		t.Fatalf("final error should still be Transient, got %v", err)
	}
}

func TestRetryWithBackoffStopsOnNonTransient(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), 5, time.Millisecond, func(ctx context.Context) error {
		attempts++
		return New(Misconfiguration, "bad url")
	})
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (should not retry non-transient)", attempts)
	}
	if !Is(err, Misconfiguration) {
		t.Fatalf("expected Misconfiguration error, got %v", err)
	}
}

func TestRetryWithBackoffSucceedsEventually(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return Wrap(Transient, errors.New("refused"), "connect")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryWithBackoffRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RetryWithBackoff(ctx, 3, time.Millisecond, func(ctx context.Context) error {
		return Wrap(Transient, errors.New("refused"), "connect")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func newGroup() *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_Order(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		failing []string
		want    string
	}{
		{"primary success", nil, "primary"},
		{"primary fails", []string{"primary"}, "secondary"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fg := newGroup()
			var called string
			err := fg.Execute(context.Background(), func(v string) error {
				if slices.Contains(tt.failing, v) {
					return errTest
				}
				called = v
				return nil
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if called != tt.want {
				t.Fatalf("called = %q, want %q", called, tt.want)
			}
		})
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	t.Parallel()

	fg := newGroup()
	err := fg.Execute(context.Background(), func(string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, last provider error not preserved", err)
	}
}

func TestFallbackGroup_SkipsOpenProvider(t *testing.T) {
	t.Parallel()

	fg := newGroup()
	calls := map[string]int{}
	for range 3 {
		_ = fg.Execute(context.Background(), func(v string) error {
			calls[v]++
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}
	if calls["primary"] != 2 || calls["secondary"] != 3 {
		t.Fatalf("calls = %v, want primary skipped once its breaker opened", calls)
	}
	if fg.States()["primary"] != StateOpen || fg.States()["secondary"] != StateClosed {
		t.Fatalf("states = %v", fg.States())
	}
	if !slices.Equal(fg.Names(), []string{"primary", "secondary"}) {
		t.Fatalf("names = %v", fg.Names())
	}
}

func TestFallbackGroup_CancelledStopsFailover(t *testing.T) {
	t.Parallel()

	fg := newGroup()
	ctx, cancel := context.WithCancel(context.Background())
	var calls []string
	_, err := ExecuteWithResult(ctx, fg, func(v string) (int, error) {
		calls = append(calls, v)
		cancel()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare context.Canceled", err)
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %v, failover continued after cancellation", calls)
	}
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup(10, "ten", FallbackConfig{})
	fg.AddFallback("twenty", 20)

	result, err := ExecuteWithResult(context.Background(), fg, func(v int) (string, error) {
		if v == 10 {
			return "", errTest
		}
		return "from-twenty", nil
	})
	if err != nil || result != "from-twenty" {
		t.Fatalf("result = %q, %v", result, err)
	}
}

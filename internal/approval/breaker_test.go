package approval

import (
	"testing"
	"time"
)

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(3, 1, time.Minute)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("breaker should still be closed: %v", err)
	}

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Errorf("state = %s, want open", b.State())
	}
	if err := b.Allow(); err != ErrBreakerOpen {
		t.Errorf("Allow = %v, want ErrBreakerOpen", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, 1, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if b.State() != BreakerClosed {
		t.Errorf("state = %s, want closed", b.State())
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := NewBreaker(1, 2, 10*time.Millisecond)

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	time.Sleep(20 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe should be allowed after cooldown: %v", err)
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want half-open", b.State())
	}

	b.RecordSuccess()
	if b.State() != BreakerHalfOpen {
		t.Errorf("one probe success should not close yet")
	}
	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Errorf("state = %s, want closed", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(1, 1, 10*time.Millisecond)

	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe should be allowed: %v", err)
	}

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Errorf("state = %s, want open", b.State())
	}
	if err := b.Allow(); err != ErrBreakerOpen {
		t.Errorf("Allow = %v, want ErrBreakerOpen", err)
	}
}

func TestBreakerStateChangeCallback(t *testing.T) {
	b := NewBreaker(1, 1, 10*time.Millisecond)

	var states []string
	b.OnStateChange(func(state string) { states = append(states, state) })

	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe: %v", err)
	}
	b.RecordSuccess()

	want := []string{"open", "half-open", "closed"}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %s, want %s", i, states[i], want[i])
		}
	}
}

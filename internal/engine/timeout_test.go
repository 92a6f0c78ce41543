package engine

import (
	"sync"
	"testing"
	"time"
)

func collectEvents() (*TimeoutController, func() []TimerEvent) {
	var mu sync.Mutex
	var events []TimerEvent
	c := NewTimeoutController(0.7, 0.9, func(ev TimerEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	c.unit = time.Millisecond
	return c, func() []TimerEvent {
		mu.Lock()
		defer mu.Unlock()
		out := make([]TimerEvent, len(events))
		copy(out, events)
		return out
	}
}

// TestArmFiresThreePhases 一组定时器按 warning/final/timeout 顺序触发。
func TestArmFiresThreePhases(t *testing.T) {
	c, events := collectEvents()

	c.Arm("dev-1", 2, 20)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(events()) < 3 {
		time.Sleep(5 * time.Millisecond)
	}

	got := events()
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %v", got)
	}
	want := []TimerPhase{TimerWarning, TimerFinal, TimerTimeout}
	for i, phase := range want {
		if got[i].Phase != phase || got[i].StepIndex != 2 || got[i].DeviceID != "dev-1" {
			t.Fatalf("event %d = %+v, want phase %s", i, got[i], phase)
		}
	}
}

// TestCancelSuppressesWholeSet 取消后整组都不触发。
func TestCancelSuppressesWholeSet(t *testing.T) {
	c, events := collectEvents()

	c.Arm("dev-1", 0, 20)
	c.CancelAll("dev-1")

	time.Sleep(60 * time.Millisecond)
	if got := events(); len(got) != 0 {
		t.Fatalf("cancelled set still fired: %v", got)
	}
}

// TestRearmReplacesPreviousSet 重新布防替换旧一组，旧事件不泄漏。
func TestRearmReplacesPreviousSet(t *testing.T) {
	c, events := collectEvents()

	c.Arm("dev-1", 0, 1000)
	c.Arm("dev-1", 1, 20)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(events()) < 3 {
		time.Sleep(5 * time.Millisecond)
	}

	for _, ev := range events() {
		if ev.StepIndex != 1 {
			t.Fatalf("stale event from replaced set: %+v", ev)
		}
	}
}

// TestNonPositiveTimeoutDisarms timeout ≤ 0 只取消旧组，不布防新组。
func TestNonPositiveTimeoutDisarms(t *testing.T) {
	c, events := collectEvents()

	c.Arm("dev-1", 0, 1000)
	c.Arm("dev-1", 1, 0)

	time.Sleep(60 * time.Millisecond)
	if got := events(); len(got) != 0 {
		t.Fatalf("disarmed controller fired: %v", got)
	}
}

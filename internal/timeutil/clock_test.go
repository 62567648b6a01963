package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealClockNow(t *testing.T) {
	before := time.Now()
	got := RealClock{}.Now()
	after := time.Now()

	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}

func TestRealClockTickerDelivers(t *testing.T) {
	ticker := RealClock{}.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("ticker never fired")
	}
}

func TestMockClockAdvance(t *testing.T) {
	start := time.Date(2025, time.June, 23, 23, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	assert.Equal(t, start, clock.Now())
	clock.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), clock.Now())
}

func TestMockClockAfter(t *testing.T) {
	clock := NewMockClock(time.Date(2025, time.June, 23, 23, 0, 0, 0, time.UTC))
	ch := clock.After(100 * time.Millisecond)

	clock.Advance(50 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("fired before the deadline")
	default:
	}

	clock.Advance(50 * time.Millisecond)
	select {
	case got := <-ch:
		assert.Equal(t, clock.Now(), got)
	default:
		t.Fatal("did not fire at the deadline")
	}

	// a timer fires once
	clock.Advance(time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired twice")
	default:
	}
}

func TestMockTickerFiresEachInterval(t *testing.T) {
	clock := NewMockClock(time.Date(2025, time.June, 23, 23, 0, 0, 0, time.UTC))
	ticker := clock.NewTicker(33 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; i < 3; i++ {
		clock.Advance(33 * time.Millisecond)
		select {
		case <-ticker.C():
		default:
			t.Fatalf("no tick after advance %d", i)
		}
	}
}

func TestMockTickerStop(t *testing.T) {
	clock := NewMockClock(time.Date(2025, time.June, 23, 23, 0, 0, 0, time.UTC))
	ticker := clock.NewTicker(10 * time.Millisecond)
	ticker.Stop()

	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockTickerCoalescesUndrainedTicks(t *testing.T) {
	clock := NewMockClock(time.Date(2025, time.June, 23, 23, 0, 0, 0, time.UTC))
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	// two due intervals with nobody draining: only one tick is pending
	clock.Advance(10 * time.Millisecond)
	clock.Advance(10 * time.Millisecond)

	select {
	case <-ticker.C():
	default:
		t.Fatal("expected a pending tick")
	}
	select {
	case <-ticker.C():
		t.Fatal("expected ticks to coalesce")
	default:
	}
}

func TestMockClockDrivesIndependentTimers(t *testing.T) {
	clock := NewMockClock(time.Date(2025, time.June, 23, 23, 0, 0, 0, time.UTC))
	short := clock.After(10 * time.Millisecond)
	long := clock.After(100 * time.Millisecond)

	clock.Advance(10 * time.Millisecond)

	select {
	case <-short:
	default:
		t.Fatal("short timer should have fired")
	}
	select {
	case <-long:
		t.Fatal("long timer fired early")
	default:
	}

	clock.Advance(90 * time.Millisecond)
	require.Eventually(t, func() bool {
		select {
		case <-long:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

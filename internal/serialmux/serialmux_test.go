package serialmux

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectLines(t *testing.T, ch chan string, n int) []string {
	t.Helper()
	var lines []string
	timeout := time.After(2 * time.Second)
	for len(lines) < n {
		select {
		case line, ok := <-ch:
			if !ok {
				return lines
			}
			lines = append(lines, line)
		case <-timeout:
			t.Fatalf("timed out after %d of %d lines", len(lines), n)
		}
	}
	return lines
}

func TestMonitorReassemblesFragmentedSentences(t *testing.T) {
	port := NewMockSerialPort()
	port.QueueBytes([]byte("$XSACC,0.01,"))
	port.QueueBytes([]byte("0.02,0.98*5A\n$XS"))
	port.QueueBytes([]byte("INT,12.5,0.42*1B\n"))
	port.EOFOnDrain()

	mux := NewSerialMux[*MockSerialPort](port)
	_, ch := mux.Subscribe()

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	lines := collectLines(t, ch, 2)
	want := []string{
		"$XSACC,0.01,0.02,0.98*5A",
		"$XSINT,12.5,0.42*1B",
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, <-done)
}

func TestMonitorFansOutToAllSubscribers(t *testing.T) {
	port := NewMockSerialPort()
	for i := 0; i < 5; i++ {
		port.QueueLine(fmt.Sprintf("$XSINT,%d,0.1*00", i))
	}
	port.EOFOnDrain()

	mux := NewSerialMux[*MockSerialPort](port)
	_, a := mux.Subscribe()
	_, b := mux.Subscribe()

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	gotA := collectLines(t, a, 5)
	gotB := collectLines(t, b, 5)
	require.NoError(t, <-done)

	if diff := cmp.Diff(gotA, gotB); diff != "" {
		t.Errorf("subscribers diverged (-a +b):\n%s", diff)
	}
}

func TestMonitorReturnsOnContextCancel(t *testing.T) {
	port := NewMockSerialPort()
	mux := NewSerialMux[*MockSerialPort](port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not exit after cancel")
	}
}

func TestMonitorSurfacesReadErrors(t *testing.T) {
	port := NewMockSerialPort()
	port.QueueLine("$XSINT,1,0.2*00")
	wantErr := fmt.Errorf("device unplugged")
	port.FailNextRead(wantErr)

	mux := NewSerialMux[*MockSerialPort](port)
	_, ch := mux.Subscribe()

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	collectLines(t, ch, 1)
	select {
	case err := <-done:
		assert.ErrorContains(t, err, "device unplugged")
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not surface read error")
	}
}

func TestCloseWaitsForMonitorBeforeReleasingPort(t *testing.T) {
	port := NewMockSerialPort()
	mux := NewSerialMux[*MockSerialPort](port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitorExited := make(chan struct{})
	go func() {
		mux.Monitor(ctx)
		close(monitorExited)
	}()

	// Give the monitor a moment to install its done channel.
	time.Sleep(20 * time.Millisecond)
	cancel()

	require.NoError(t, mux.Close())
	select {
	case <-monitorExited:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor still running after Close returned")
	}
	assert.True(t, port.Closed())
}

func TestCloseClosesSubscriberChannels(t *testing.T) {
	port := NewMockSerialPort()
	mux := NewSerialMux[*MockSerialPort](port)
	_, ch := mux.Subscribe()

	require.NoError(t, mux.Close())

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "subscriber channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed")
	}
}

func TestSendCommandAppendsNewline(t *testing.T) {
	port := NewMockSerialPort()
	mux := NewSerialMux[*MockSerialPort](port)

	require.NoError(t, mux.SendCommand("CAL 980.665"))
	require.NoError(t, mux.SendCommand("STA\n"))
	assert.Equal(t, "CAL 980.665\nSTA\n", port.Writes())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	port := NewMockSerialPort()
	mux := NewSerialMux[*MockSerialPort](port)

	id, ch := mux.Subscribe()
	mux.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after unsubscribe")
	}
}

func TestLineSinkReceivesEveryLine(t *testing.T) {
	const total = 100

	port := NewMockSerialPort()
	for i := 0; i < total; i++ {
		port.QueueLine(fmt.Sprintf("$XSINT,%d,0.1*00", i))
	}
	port.EOFOnDrain()

	mux := NewSerialMux[*MockSerialPort](port)

	// an undrained channel subscriber must not cost the sink any lines
	mux.Subscribe()

	var mu sync.Mutex
	var got []string
	mux.SubscribeLines(func(line string) {
		mu.Lock()
		got = append(got, line)
		mu.Unlock()
	})

	require.NoError(t, mux.Monitor(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, total)
	for i, line := range got {
		assert.Equal(t, fmt.Sprintf("$XSINT,%d,0.1*00", i), line)
	}
}

func TestFullChannelSubscriberDropsAreCounted(t *testing.T) {
	const total = 100

	port := NewMockSerialPort()
	for i := 0; i < total; i++ {
		port.QueueLine(fmt.Sprintf("$XSINT,%d,0.1*00", i))
	}
	port.EOFOnDrain()

	mux := NewSerialMux[*MockSerialPort](port)
	_, ch := mux.Subscribe()

	require.NoError(t, mux.Monitor(context.Background()))

	// buffered capacity 64, nobody draining: the remainder is dropped
	assert.Equal(t, 64, len(ch))
	assert.Equal(t, uint64(total-64), mux.DroppedLines())
}

func TestUnsubscribeRemovesLineSink(t *testing.T) {
	port := NewMockSerialPort()
	port.QueueLine("$XSINT,0,0.1*00")
	port.EOFOnDrain()

	mux := NewSerialMux[*MockSerialPort](port)
	called := false
	id := mux.SubscribeLines(func(string) { called = true })
	mux.Unsubscribe(id)

	require.NoError(t, mux.Monitor(context.Background()))
	assert.False(t, called)
}

// blockingPort blocks Read until release supplies data, then reports EOF.
type blockingPort struct {
	data chan []byte
}

func newBlockingPort() *blockingPort {
	return &blockingPort{data: make(chan []byte)}
}

func (p *blockingPort) Read(b []byte) (int, error) {
	chunk, ok := <-p.data
	if !ok {
		return 0, io.EOF
	}
	return copy(b, chunk), nil
}

func (p *blockingPort) Write(b []byte) (int, error) { return len(b), nil }
func (p *blockingPort) Close() error                { return nil }

func (p *blockingPort) release(s string) {
	p.data <- []byte(s)
	close(p.data)
}

func TestLateFanOutAfterCloseTimeoutDoesNotPanic(t *testing.T) {
	port := newBlockingPort()
	mux := NewSerialMux[*blockingPort](port)
	mux.closeTimeout = 10 * time.Millisecond

	mux.Subscribe()

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	// let the reader park inside the blocking Read
	time.Sleep(20 * time.Millisecond)

	// Close times out waiting for the wedged monitor and tears the
	// subscriber channels down
	require.NoError(t, mux.Close())

	// the read now completes; the resumed fan-out must skip the closed
	// channels instead of sending on them
	port.release("$XSINT,1,0.5*00\n")

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not exit after port released")
	}
}

func TestSimulatedSensorEmitsParseableSentences(t *testing.T) {
	port := NewSimulatedSensorPort()
	defer port.Close()

	mux := NewSerialMux[*SimulatedSensorPort](port)
	_, ch := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	lines := collectLines(t, ch, 12)
	var sawIntensity bool
	for _, line := range lines {
		require.True(t, strings.HasPrefix(line, "$XS"), "unexpected sentence %q", line)
		require.Contains(t, line, "*")
		if strings.HasPrefix(line, "$XSINT") {
			sawIntensity = true
		}
	}
	assert.True(t, sawIntensity, "expected an intensity sentence within 12 lines")
}

package serialmux

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"
)

// MockSerialPort is an in-memory SerialPorter for tests. Queued data is
// returned one chunk per Read call, which lets tests exercise sentences that
// arrive split across arbitrary read boundaries.
type MockSerialPort struct {
	mu          sync.Mutex
	chunks      [][]byte
	readErr     error
	writes      []byte
	closed      bool
	eofOnDrain  bool
	readTimeout time.Duration
}

func NewMockSerialPort() *MockSerialPort {
	return &MockSerialPort{}
}

// QueueBytes appends a chunk that a later Read will return verbatim.
func (m *MockSerialPort) QueueBytes(p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunk := make([]byte, len(p))
	copy(chunk, p)
	m.chunks = append(m.chunks, chunk)
}

// QueueLine appends a complete sentence with a trailing newline.
func (m *MockSerialPort) QueueLine(line string) {
	m.QueueBytes([]byte(line + "\n"))
}

// FailNextRead makes the next Read after the queue drains return err.
func (m *MockSerialPort) FailNextRead(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// EOFOnDrain makes Read return io.EOF once the queue is exhausted instead of
// reporting an idle port.
func (m *MockSerialPort) EOFOnDrain() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eofOnDrain = true
}

func (m *MockSerialPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.EOF
	}
	if len(m.chunks) == 0 {
		if m.readErr != nil {
			err := m.readErr
			m.readErr = nil
			return 0, err
		}
		if m.eofOnDrain {
			return 0, io.EOF
		}
		return 0, nil
	}
	chunk := m.chunks[0]
	n := copy(p, chunk)
	if n < len(chunk) {
		m.chunks[0] = chunk[n:]
	} else {
		m.chunks = m.chunks[1:]
	}
	return n, nil
}

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, fmt.Errorf("write on closed port")
	}
	m.writes = append(m.writes, p...)
	return len(p), nil
}

// Writes returns everything written to the port so far.
func (m *MockSerialPort) Writes() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.writes)
}

func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockSerialPort) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockSerialPort) SetReadTimeout(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readTimeout = timeout
	return nil
}

// SimulatedSensorPort synthesises acceleration and intensity sentences at a
// fixed cadence so the full pipeline can run without hardware (the -dev
// flag). Every tenth sample is followed by an intensity sentence whose value
// sweeps slowly, so detector behaviour is observable too.
type SimulatedSensorPort struct {
	mu       sync.Mutex
	closed   bool
	sample   int
	pending  []byte
	interval time.Duration
}

func NewSimulatedSensorPort() *SimulatedSensorPort {
	return &SimulatedSensorPort{interval: 10 * time.Millisecond}
}

func (s *SimulatedSensorPort) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.EOF
	}
	if len(s.pending) == 0 {
		interval := s.interval
		s.mu.Unlock()
		time.Sleep(interval)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return 0, io.EOF
		}
		s.pending = s.next()
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	s.mu.Unlock()
	return n, nil
}

// next builds the sentences for one sample period. Callers hold s.mu.
func (s *SimulatedSensorPort) next() []byte {
	s.sample++
	t := float64(s.sample) / 100.0
	x := 0.002 * math.Sin(2*math.Pi*2.0*t)
	y := 0.002 * math.Cos(2*math.Pi*2.0*t)
	z := 1.0 + 0.001*math.Sin(2*math.Pi*0.5*t)

	out := sentenceWithChecksum(fmt.Sprintf("XSACC,%.6f,%.6f,%.6f", x, y, z))
	if s.sample%10 == 0 {
		// a slow sweep through and back below typical trigger thresholds
		intensity := 0.8 * math.Abs(math.Sin(2*math.Pi*t/60.0))
		out += sentenceWithChecksum(fmt.Sprintf("XSINT,%.4f,%.4f", t, intensity))
	}
	return []byte(out)
}

func (s *SimulatedSensorPort) Write(p []byte) (int, error) { return len(p), nil }

func (s *SimulatedSensorPort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// sentenceWithChecksum frames a payload as $payload*CS\n where CS is the XOR
// of the payload bytes, matching the sensor's wire format.
func sentenceWithChecksum(payload string) string {
	var cs byte
	for i := 0; i < len(payload); i++ {
		cs ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X\n", payload, cs)
}

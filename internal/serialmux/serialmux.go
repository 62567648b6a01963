// Package serialmux provides an abstraction over a serial port with the
// ability for multiple clients to subscribe to framed lines from the port and
// send commands to a single sensor device.
package serialmux

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/tremor-data/intensity.report/internal/framing"
	"github.com/tremor-data/intensity.report/internal/monitoring"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// readChunkSize is the buffer handed to each port read. Sentences are short
// (tens of bytes); 512 keeps read latency low at 100 Hz output rates.
const readChunkSize = 512

// idleReadSleep bounds the poll rate when the port has no data, so the
// ingestion loop never busy-spins.
const idleReadSleep = 5 * time.Millisecond

// SerialMux is a generic serial port multiplexer that allows multiple clients
// to subscribe to framed lines from a single serial port. Channel subscribers
// (debug tails) are droppable; line sinks are called synchronously for every
// line and never lose one.
type SerialMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan string
	sinks        map[string]func(string)
	droppedLines uint64
	dropLogged   bool
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex

	// closeTimeout bounds how long Close waits for the monitor loop to exit.
	closeTimeout time.Duration

	// monitorDone is closed when Monitor's loops have fully exited, so Close
	// can wait before releasing the port.
	monitorDone   chan struct{}
	monitorDoneMu sync.Mutex
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving framed lines from the
	// serial port. The channel ID identifies the channel when unsubscribing.
	// Delivery is best-effort: lines are dropped when the channel is full.
	Subscribe() (string, chan string)
	// SubscribeLines registers a function called synchronously for every
	// framed line. Unlike channel subscribers, sinks never lose lines; fn
	// must not block.
	SubscribeLines(fn func(line string)) string
	// Unsubscribe removes a channel or sink from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided command to the serial port.
	SendCommand(string) error
	// Monitor reads bytes from the serial port, reassembles lines, and fans
	// them out to subscribers.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port after
	// the monitor loop has exited.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux instance backed by the given port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:         port,
		subscribers:  make(map[string]chan string),
		sinks:        make(map[string]func(string)),
		closeTimeout: 2 * time.Second,
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 64)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// SubscribeLines registers a lossless per-line callback. The processing
// pipeline uses this path so transport lines never silently vanish; fn runs
// on the monitor goroutine and must hand off quickly.
func (s *SerialMux[T]) SubscribeLines(fn func(line string)) string {
	id := randomID()
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.sinks[id] = fn
	return id
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
	delete(s.sinks, id)
}

// DroppedLines reports how many lines were discarded because a channel
// subscriber was full. Sinks are never counted here.
func (s *SerialMux[T]) DroppedLines() uint64 {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	return s.droppedLines
}

// SendCommand sends a command to the serial port.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !bytes.HasSuffix([]byte(command), []byte("\n")) {
		command += "\n" // ensure command ends with a newline
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads raw bytes from the serial port, frames them into lines, and
// fans complete lines out to subscribers. It returns when ctx is cancelled or
// the port read fails. Sentences split across reads are reassembled by the
// framer, so the fan-out is independent of how the transport fragments them.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	s.monitorDoneMu.Lock()
	done := make(chan struct{})
	s.monitorDone = done
	s.monitorDoneMu.Unlock()
	defer close(done)

	if tp, ok := any(s.port).(TimeoutSerialPorter); ok {
		// bounded reads let the loop observe cancellation promptly
		tp.SetReadTimeout(idleReadSleep)
	}

	framer := framing.NewFramer()
	lineChan := make(chan string, 64)
	readErrChan := make(chan error, 1)

	// Read in a separate goroutine so a blocking Read cannot stall the outer
	// loop awaiting lines and context cancellation.
	go func() {
		defer close(lineChan)
		buf := make([]byte, readChunkSize)
		for {
			if ctx.Err() != nil {
				return
			}
			n, err := s.port.Read(buf)
			if n > 0 {
				for _, line := range framer.Feed(buf[:n]) {
					select {
					case lineChan <- line:
					case <-ctx.Done():
						return
					}
				}
			}
			if err != nil {
				if err == io.EOF {
					return
				}
				select {
				case readErrChan <- err:
				case <-ctx.Done():
				}
				return
			}
			if n == 0 {
				// no bytes available; sleep instead of spinning
				select {
				case <-time.After(idleReadSleep):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				// the reader exited; surface its error if it left one
				select {
				case err := <-readErrChan:
					return err
				default:
					return nil
				}
			}
			if done := s.fanOut(line); done {
				return nil
			}
		}
	}
}

// fanOut delivers one line to every sink and channel subscriber. It reports
// true when the mux is closing. The closing check happens while holding
// subscriberMu so a late fan-out can never race Close's channel teardown.
func (s *SerialMux[T]) fanOut(line string) (closing bool) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()

	s.closingMu.Lock()
	closing = s.closing
	s.closingMu.Unlock()
	if closing {
		return true
	}

	for _, sink := range s.sinks {
		sink(line)
	}

	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			// skip a full subscriber so the fan-out never blocks
			s.droppedLines++
		}
	}
	if s.droppedLines > 0 && !s.dropLogged {
		s.dropLogged = true
		monitoring.Logf("[SerialMux] dropping lines for a full subscriber channel")
	}
	return false
}

// Close marks the mux closing, waits for the monitor loop to exit, closes all
// subscriber channels, and finally closes the port. The wait prevents the
// reader goroutine from touching a released port.
func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.monitorDoneMu.Lock()
	done := s.monitorDone
	s.monitorDoneMu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-time.After(s.closeTimeout):
			// the monitor is wedged on a blocking read; closing the port
			// below will unblock it, and fanOut rechecks closing before
			// touching the channels we are about to close
		}
	}

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	for id := range s.sinks {
		delete(s.sinks, id)
	}
	s.subscriberMu.Unlock()

	return s.port.Close()
}

// AttachAdminRoutes mounts debug endpoints: a POST endpoint to write raw
// commands to the port and an SSE live tail of framed lines.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	})

	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := w.Write([]byte(fmt.Sprintf("data: %s\n\n", payload))); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}

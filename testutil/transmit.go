package testutil

import (
	"sync"
	"testing"
	"time"
)

// Transmission is one recorded transmit callback invocation.
type Transmission struct {
	ClientID uint32
	Data     []byte
}

// TransmitRecorder captures everything the bridge hands to its transmit
// callback. Thread-safe; the bridge may transmit from packet handlers
// and bus subscription goroutines at once.
type TransmitRecorder struct {
	mu   sync.RWMutex
	sent []Transmission

	// Err, when set, is returned by every Transmit call.
	Err error
}

// NewTransmitRecorder creates an empty recorder.
func NewTransmitRecorder() *TransmitRecorder {
	return &TransmitRecorder{}
}

// Transmit records one outbound frame. Pass this method as the bridge's
// transmit callback.
func (r *TransmitRecorder) Transmit(clientID uint32, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return r.Err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	r.sent = append(r.sent, Transmission{ClientID: clientID, Data: buf})
	return nil
}

// Sent returns all recorded transmissions in order.
func (r *TransmitRecorder) Sent() []Transmission {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Transmission, len(r.sent))
	copy(result, r.sent)
	return result
}

// SentTo returns the transmissions addressed to one client id.
func (r *TransmitRecorder) SentTo(clientID uint32) []Transmission {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Transmission
	for _, tx := range r.sent {
		if tx.ClientID == clientID {
			result = append(result, tx)
		}
	}
	return result
}

// Count returns the number of recorded transmissions.
func (r *TransmitRecorder) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sent)
}

// Clear discards all recorded transmissions.
func (r *TransmitRecorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

// WaitForTransmissions waits until the recorder holds at least count
// transmissions, failing the test on timeout.
func WaitForTransmissions(t *testing.T, r *TransmitRecorder, count int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.Count() >= count {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d transmissions (got %d)", count, r.Count())
}

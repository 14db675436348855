package plc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// fakeTransport is a scriptable Transport for gateway tests.
type fakeTransport struct {
	connectCalls atomic.Int32
	connectErr   error
	connectGate  chan struct{} // when set, Connect blocks until closed

	bools map[Address]bool
	words map[Address]uint16

	ioErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		bools: map[Address]bool{},
		words: map[Address]uint16{},
	}
}

func (f *fakeTransport) Connect(ctx context.Context, host string, port int) error {
	f.connectCalls.Add(1)
	if f.connectGate != nil {
		select {
		case <-f.connectGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.connectErr
}

func (f *fakeTransport) Disconnect() error { return nil }

func (f *fakeTransport) ReadBool(a Address) (bool, error) {
	if f.ioErr != nil {
		return false, f.ioErr
	}
	return f.bools[a], nil
}

func (f *fakeTransport) WriteBool(a Address, v bool) error {
	if f.ioErr != nil {
		return f.ioErr
	}
	f.bools[a] = v
	return nil
}

func (f *fakeTransport) ReadWord(a Address) (uint16, error) {
	if f.ioErr != nil {
		return 0, f.ioErr
	}
	return f.words[a], nil
}

func (f *fakeTransport) WriteWord(a Address, v uint16) error {
	if f.ioErr != nil {
		return f.ioErr
	}
	f.words[a] = v
	return nil
}

func TestGatewayFailFastWhenDisconnected(t *testing.T) {
	tr := newFakeTransport()
	gw := NewGateway(tr, "plc", 102, 10*time.Second)

	if _, ok := gw.ReadBool(Bit(1, 0, 0)); ok {
		t.Fatal("ReadBool should fail while disconnected")
	}
	if gw.WriteBool(Bit(1, 0, 0), true) {
		t.Fatal("WriteBool should fail while disconnected")
	}
	if _, ok := gw.ReadWord(Word(3, 4)); ok {
		t.Fatal("ReadWord should fail while disconnected")
	}
	if _, ok := gw.ReadFloat(Float(3, 0)); ok {
		t.Fatal("ReadFloat should fail while disconnected")
	}
	if got := tr.connectCalls.Load(); got != 0 {
		t.Fatalf("no implicit connect attempts expected, got %d", got)
	}
}

func TestGatewayIOErrorDropsLink(t *testing.T) {
	tr := newFakeTransport()
	gw := NewGateway(tr, "plc", 102, 10*time.Second)
	if !gw.Connect(context.Background()) {
		t.Fatal("connect failed")
	}

	tr.ioErr = errors.New("link reset")
	if _, ok := gw.ReadBool(Bit(2, 0, 0)); ok {
		t.Fatal("read should fail on transport error")
	}
	if gw.IsConnected() {
		t.Fatal("gateway should mark link down after I/O error")
	}

	// Subsequent calls fail fast without touching the transport.
	tr.ioErr = nil
	if _, ok := gw.ReadBool(Bit(2, 0, 0)); ok {
		t.Fatal("read should keep failing until reconnect")
	}
}

func TestGatewayReconnectSingleFlight(t *testing.T) {
	tr := newFakeTransport()
	tr.connectGate = make(chan struct{})
	gw := NewGateway(tr, "plc", 102, time.Millisecond)

	now := time.Now()
	gw.MaybeReconnect(now)
	// A second request while the first attempt is still in flight must not
	// start another connect.
	gw.MaybeReconnect(now.Add(time.Second))

	close(tr.connectGate)
	deadline := time.After(time.Second)
	for gw.IsConnected() == false {
		select {
		case <-deadline:
			t.Fatal("reconnect never completed")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if got := tr.connectCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one connect attempt, got %d", got)
	}
	if !gw.TakeResync() {
		t.Fatal("resync obligation missing after reconnect")
	}
	if gw.TakeResync() {
		t.Fatal("resync obligation must be handed over exactly once")
	}
}

func TestGatewayReconnectInterval(t *testing.T) {
	tr := newFakeTransport()
	tr.connectErr = errors.New("refused")
	gw := NewGateway(tr, "plc", 102, 10*time.Second)

	now := time.Now()
	gw.MaybeReconnect(now)
	waitAttempts(t, tr, 1)

	// Inside the interval: no new attempt.
	gw.MaybeReconnect(now.Add(3 * time.Second))
	time.Sleep(10 * time.Millisecond)
	if got := tr.connectCalls.Load(); got != 1 {
		t.Fatalf("attempt inside interval, got %d calls", got)
	}

	gw.MaybeReconnect(now.Add(11 * time.Second))
	waitAttempts(t, tr, 2)
}

func waitAttempts(t *testing.T, tr *fakeTransport, n int32) {
	t.Helper()
	deadline := time.After(time.Second)
	for tr.connectCalls.Load() < n {
		select {
		case <-deadline:
			t.Fatalf("expected %d connect attempts, got %d", n, tr.connectCalls.Load())
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestFloatRoundTrip(t *testing.T) {
	tests := []float64{0, 0.001, 45, 2999, 3000, 80000, 101325}

	tr := newFakeTransport()
	gw := NewGateway(tr, "plc", 102, 10*time.Second)
	gw.Connect(context.Background())

	addr := Float(3, 8)
	hiAddr, loAddr := addr.FloatWords()

	for _, want := range tests {
		hi, lo := FloatToWords(want)
		tr.words[hiAddr] = hi
		tr.words[loAddr] = lo

		got, ok := gw.ReadFloat(addr)
		if !ok {
			t.Fatalf("ReadFloat(%v) failed", want)
		}
		if diff := got - want; diff > 0.01 || diff < -0.01 {
			t.Errorf("ReadFloat = %v, want %v", got, want)
		}
	}
}

func TestAddressString(t *testing.T) {
	tests := []struct {
		addr Address
		want string
	}{
		{Bit(2, 0, 1), "DB2.DBX0.1"},
		{Word(3, 4), "DB3.DBW4"},
		{Float(3, 8), "DB3.DBD8"},
	}
	for _, tt := range tests {
		if got := tt.addr.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

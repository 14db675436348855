package plc

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/log"
)

// connectTimeout bounds a single transport connect attempt, independent of
// the reconnect scheduling interval.
const connectTimeout = 10 * time.Second

// Gateway wraps a raw Transport with the plant's connection policy:
//
//   - Every read/write fails immediately (ok=false) while disconnected; no
//     call ever blocks on the link or retries inline.
//   - Reconnects happen only when the poller asks, on a fixed interval, and
//     the actual attempt runs as a detached one-shot goroutine guarded by an
//     atomic in-flight flag so overlapping attempts cannot occur.
//   - After a successful reconnect the next poll cycle must run a
//     synchronize pass; TakeResync hands that obligation over exactly once.
type Gateway struct {
	tr   Transport
	host string
	port int

	reconnectEvery time.Duration

	// ioMu serializes individual transport calls only; it is never held
	// across multiple operations.
	ioMu sync.Mutex

	connected  atomic.Bool
	connecting atomic.Bool
	resync     atomic.Bool

	// wasConnected tracks the last logged link state so transition edges are
	// logged exactly once. Guarded by edgeMu.
	edgeMu       sync.Mutex
	wasConnected bool

	lastAttempt time.Time

	logger log.Logger
}

// NewGateway builds a gateway over the given transport. No connection is
// attempted until Connect or MaybeReconnect.
func NewGateway(tr Transport, host string, port int, reconnectEvery time.Duration) *Gateway {
	return &Gateway{
		tr:             tr,
		host:           host,
		port:           port,
		reconnectEvery: reconnectEvery,
		logger:         log.WithName("plc"),
	}
}

// Connect performs a synchronous connection attempt. Used once at startup;
// later attempts go through MaybeReconnect.
func (g *Gateway) Connect(ctx context.Context) bool {
	if g.connected.Load() {
		return true
	}
	if err := g.tr.Connect(ctx, g.host, g.port); err != nil {
		g.logger.Warn("PLC connect failed", "host", g.host, "port", g.port, "err", err.Error())
		return false
	}
	g.connected.Store(true)
	g.resync.Store(true)
	g.logger.Info("PLC link established", "host", g.host, "port", g.port)
	return true
}

// Disconnect drops the link.
func (g *Gateway) Disconnect() {
	if !g.connected.Swap(false) {
		return
	}
	_ = g.tr.Disconnect()
	g.logger.Info("PLC link closed")
}

// IsConnected reports the current link state.
func (g *Gateway) IsConnected() bool {
	return g.connected.Load()
}

// MaybeReconnect schedules a reconnect attempt if the link is down and the
// reconnect interval has elapsed. It never blocks: the attempt itself runs
// detached, and the atomic connecting flag keeps attempts from overlapping.
// Reports whether an attempt was scheduled.
func (g *Gateway) MaybeReconnect(now time.Time) bool {
	if g.connected.Load() {
		return false
	}
	if !g.lastAttempt.IsZero() && now.Sub(g.lastAttempt) < g.reconnectEvery {
		return false
	}
	if !g.connecting.CompareAndSwap(false, true) {
		return false
	}
	g.lastAttempt = now

	go func() {
		defer g.connecting.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		if err := g.tr.Connect(ctx, g.host, g.port); err != nil {
			g.logger.Debug("PLC reconnect attempt failed", "err", err.Error())
			return
		}
		g.connected.Store(true)
		g.resync.Store(true)
		g.logger.Info("PLC link restored", "host", g.host, "port", g.port)
	}()
	return true
}

// TakeResync returns true exactly once after each successful (re)connection.
// The caller must respond with a full mirror refresh and state re-derivation.
func (g *Gateway) TakeResync() bool {
	return g.resync.Swap(false)
}

// checkLink logs connection-state edges once and reports whether I/O may
// proceed.
func (g *Gateway) checkLink() bool {
	cur := g.connected.Load()

	g.edgeMu.Lock()
	if cur != g.wasConnected {
		if cur {
			g.logger.Info("PLC link up")
		} else {
			g.logger.Warn("PLC link lost, entering fail-fast mode")
		}
		g.wasConnected = cur
	}
	g.edgeMu.Unlock()

	return cur
}

// markFailed drops the connected flag after a transport error so subsequent
// calls fail fast until the poller reconnects.
func (g *Gateway) markFailed(err error) {
	if g.connected.Swap(false) {
		g.logger.Warn("PLC I/O error, marking link down", "err", err.Error())
	}
}

// ReadBool reads a bit point. ok is false while disconnected or on error.
func (g *Gateway) ReadBool(a Address) (v bool, ok bool) {
	if !g.checkLink() {
		return false, false
	}
	g.ioMu.Lock()
	v, err := g.tr.ReadBool(a)
	g.ioMu.Unlock()
	if err != nil {
		g.markFailed(err)
		return false, false
	}
	return v, true
}

// WriteBool writes a bit point. Returns false while disconnected or on error.
func (g *Gateway) WriteBool(a Address, v bool) bool {
	if !g.checkLink() {
		return false
	}
	g.ioMu.Lock()
	err := g.tr.WriteBool(a, v)
	g.ioMu.Unlock()
	if err != nil {
		g.markFailed(err)
		return false
	}
	return true
}

// ReadWord reads a word point.
func (g *Gateway) ReadWord(a Address) (v uint16, ok bool) {
	if !g.checkLink() {
		return 0, false
	}
	g.ioMu.Lock()
	v, err := g.tr.ReadWord(a)
	g.ioMu.Unlock()
	if err != nil {
		g.markFailed(err)
		return 0, false
	}
	return v, true
}

// WriteWord writes a word point.
func (g *Gateway) WriteWord(a Address, v uint16) bool {
	if !g.checkLink() {
		return false
	}
	g.ioMu.Lock()
	err := g.tr.WriteWord(a, v)
	g.ioMu.Unlock()
	if err != nil {
		g.markFailed(err)
		return false
	}
	return true
}

// ReadFloat reads a float point as its two word halves and reassembles the
// IEEE-754 float32 (big-endian word order).
func (g *Gateway) ReadFloat(a Address) (float64, bool) {
	hiAddr, loAddr := a.FloatWords()
	hi, ok := g.ReadWord(hiAddr)
	if !ok {
		return 0, false
	}
	lo, ok := g.ReadWord(loAddr)
	if !ok {
		return 0, false
	}
	bits := uint32(hi)<<16 | uint32(lo)
	return float64(math.Float32frombits(bits)), true
}

// FloatToWords encodes a float value into its two word cells. Shared with
// the simulator so both sides agree on the wire encoding.
func FloatToWords(v float64) (hi, lo uint16) {
	bits := math.Float32bits(float32(v))
	return uint16(bits >> 16), uint16(bits)
}

package proxyroll

import (
	"runtime"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/proxyroll/proxyroll/internal/proto"
	"k8s.io/utils/clock"
)

// maxConnBatch caps how many connection sockets a single reply may carry.
// A reply that hits the cap sets HasMoreFds; the child asks again and the
// registry makes the next sweep pick up where this one stopped.
const maxConnBatch = 100

// A handoff reply must also fit one datagram once encoded, or the channel
// refuses to send it at all. Attached buffers inflate by 4/3 (base64) plus
// per-socket framing; the constants below overestimate that framing so the
// running size check stays on the safe side of maxDatagram.
const (
	envelopeOverhead = 128
	socketOverhead   = 48
)

// maxWirePayload bounds the raw bytes attached to one connection-data reply
// so the encoded envelope stays within a single datagram.
const maxWirePayload = 44 * 1024

func base64Len(n int) int { return 4 * ((n + 2) / 3) }

// socketWireSize is an upper bound on the encoded size of one socket entry.
func socketWireSize(info proto.SocketInfo) int {
	return socketOverhead + len(info.ID) + base64Len(len(info.Buffer))
}

// splitBuffer cuts buf so its base64 form fits within wire bytes.
func splitBuffer(buf []byte, wire int) (fit, rest []byte) {
	if wire < 4 {
		return nil, buf
	}
	raw := wire / 4 * 3
	if raw >= len(buf) {
		return buf, nil
	}
	return buf[:raw], buf[raw:]
}

// handler answers the child's requests against the live server. It is
// driven only by the parent's dispatch goroutine; the registry needs no lock
// because of that.
type handler struct {
	srv            Server
	registry       connRegistry
	clk            clock.Clock
	quiesceTimeout time.Duration
	l              log15.Logger
}

func newHandler(srv Server, clk clock.Clock, quiesceTimeout time.Duration, l log15.Logger) *handler {
	// The bumped generation gauge is how observability notices a restart
	// cycle happened.
	srv.Stats().Gauge(hotRestartGenerationGauge).Inc()
	return &handler{
		srv:            srv,
		registry:       make(connRegistry),
		clk:            clk,
		quiesceTimeout: quiesceTimeout,
		l:              l,
	}
}

// shutdownAdmin shuts the admin endpoint down and tells the child the
// original start time and reuse-port default, so it presents the same
// uptime and binding behavior the parent did.
func (h *handler) shutdownAdmin() *proto.Envelope {
	h.srv.ShutdownAdmin()
	return replyEnvelope(&proto.Reply{ShutdownAdmin: &proto.ShutdownAdminReply{
		OriginalStartTimeUnixSeconds: h.srv.StartTimeFirstEpoch(),
		EnableReusePortDefault:       h.srv.EnableReusePortDefault(),
	}})
}

// passListenSocket resolves a bind address and worker index to the
// descriptor of that worker's listening socket, or -1 when no listener
// matches. Only listeners that bind their own port qualify; one that
// inherited a duplicated socket must not be handed off again.
func (h *handler) passListenSocket(req *proto.PassListenSocketRequest) *proto.Envelope {
	reply := &proto.PassListenSocketReply{Fd: -1}
	for _, ln := range h.srv.ListenerManager().Listeners() {
		if ln.Addr().String() != req.Address || !ln.BindToPort() {
			continue
		}
		// WorkerIndex defaults to 0 when the child predates the field. A
		// newer child may also ask for an index this parent never created;
		// the guard keeps that a -1, not a crash.
		if req.WorkerIndex < h.srv.Concurrency() {
			reply.Fd = ln.WorkerSocketFd(req.WorkerIndex)
		}
		break
	}
	return replyEnvelope(&proto.Reply{PassListenSocket: reply})
}

// passConnectionSockets walks every worker's live accepted connections,
// quiesces the ones not yet handed off, and returns the next batch of their
// descriptors together with any bytes the parent had buffered but not
// consumed. A batch closes either at maxConnBatch entries or when the next
// entry would push the encoded reply past the datagram cap; either way
// HasMoreFds tells the child to ask again. Once every eligible connection is
// registered, further calls return an empty batch with HasMoreFds unset.
func (h *handler) passConnectionSockets() *proto.Envelope {
	reply := &proto.PassConnectionSocketReply{}
	size := envelopeOverhead
	rdv := rendezvous{clk: h.clk, timeout: h.quiesceTimeout}
	for _, wk := range h.srv.Workers() {
		ch := wk.ConnectionHandler()
		for _, al := range ch.ActiveListeners() {
			for _, conn := range al.Connections() {
				hc, ok := conn.(HandoffConn)
				if !ok || !hc.IsOpen() {
					continue
				}
				key := connKey(hc)
				if _, ok := h.registry[key]; ok {
					continue
				}
				// Another eligible connection with the batch already full:
				// stop here so a full batch is only marked "has more" when
				// something actually remains.
				if len(reply.Sockets) >= maxConnBatch {
					reply.HasMoreFds = true
					return replyEnvelope(&proto.Reply{PassConnectionSocket: reply})
				}
				// Disable reads from the owning worker before snapshotting,
				// so the buffered bytes below cannot go stale underneath us.
				if err := rdv.runOn(ch.Post, hc.DisableReads); err != nil {
					h.l.Error("couldn't quiesce connection, leaving it for a later sweep", "id", key, "err", err)
					continue
				}
				info := proto.SocketInfo{Fd: hc.Fd(), ID: key}
				if buffered := hc.BufferedBytes(); len(buffered) > 0 {
					info.Buffer = buffered
				}
				cost := socketWireSize(info)
				var overflow []byte
				if size+cost > maxDatagram {
					// The encoded reply would no longer fit one datagram.
					// With company in the batch the connection just waits
					// for the next sweep; it stays quiesced, which is where
					// it was headed anyway.
					if len(reply.Sockets) > 0 {
						reply.HasMoreFds = true
						return replyEnvelope(&proto.Reply{PassConnectionSocket: reply})
					}
					// Alone in the batch: pass the socket with the prefix
					// of its buffer that fits. The rest is drained through
					// connection-data requests, ahead of any residual read.
					info.Buffer, overflow = splitBuffer(info.Buffer, maxDatagram-size-socketOverhead-len(key))
					cost = socketWireSize(info)
					h.l.Warn("connection buffer exceeds one datagram, deferring the rest to data retrieval",
						"id", key, "deferred", len(overflow))
				}
				h.l.Info("passing connection socket", "fd", info.Fd, "id", key, "buffered", len(info.Buffer))
				reply.Sockets = append(reply.Sockets, info)
				size += cost
				h.registry[key] = &connEntry{conn: hc, overflow: overflow}
			}
		}
	}
	return replyEnvelope(&proto.Reply{PassConnectionSocket: reply})
}

// passConnectionData drains any bytes the parent still has for an
// already-registered connection: first whatever buffered bytes did not fit
// the handoff reply, then bytes that arrived on the socket since. One reply
// carries at most maxWirePayload bytes; the child keeps asking until the
// payload comes back empty. An unknown identity gets an empty payload back:
// the child may probe identities it no longer needs. Residual bytes are best
// effort, so a failed read is logged, never surfaced.
func (h *handler) passConnectionData(req *proto.PassConnectionDataRequest) *proto.Envelope {
	reply := &proto.PassConnectionDataReply{ConnectionID: req.ConnectionID}
	entry, ok := h.registry[req.ConnectionID]
	switch {
	case !ok:
	case len(entry.overflow) > 0:
		n := len(entry.overflow)
		if n > maxWirePayload {
			n = maxWirePayload
		}
		reply.Data = entry.overflow[:n]
		entry.overflow = entry.overflow[n:]
	case entry.conn.IsOpen():
		buf := make([]byte, maxWirePayload)
		n, err := entry.conn.ReadResidual(buf)
		if err != nil {
			h.l.Error("residual read from connection failed", "id", req.ConnectionID, "err", err)
		} else if n > 0 {
			reply.Data = buf[:n]
		}
	}
	h.l.Debug("residual connection data", "id", req.ConnectionID, "bytes", len(reply.Data))
	return replyEnvelope(&proto.Reply{PassConnectionData: reply})
}

// exportStats snapshots every used gauge at its current value and every used
// counter's nonzero latched delta. The parent is expected to have stopped
// its own periodic latch cycle before export begins, so the delta covers
// everything since the last internal flush.
func (h *handler) exportStats() *proto.Envelope {
	stats := &proto.StatsReply{
		Gauges:        map[string]uint64{},
		CounterDeltas: map[string]uint64{},
	}
	store := h.srv.Stats()
	for _, g := range store.Gauges() {
		if !g.Used() {
			continue
		}
		name := g.Name()
		stats.Gauges[name] = g.Value()
		recordDynamics(stats, store, name)
	}
	for _, c := range store.Counters() {
		if !c.Used() {
			continue
		}
		if delta := c.Latch(); delta > 0 {
			name := c.Name()
			stats.CounterDeltas[name] = delta
			recordDynamics(stats, store, name)
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stats.MemoryAllocated = ms.HeapAlloc
	stats.NumConnections = h.srv.ListenerManager().NumConnections()
	return replyEnvelope(&proto.Reply{Stats: stats})
}

// recordDynamics attaches the dynamic spans of an exported stat name so the
// child can rebuild the name with the same components marked dynamic, which
// stat merging on its side depends on.
func recordDynamics(stats *proto.StatsReply, store Store, name string) {
	spans := store.SymbolTable().DynamicSpans(name)
	if len(spans) == 0 {
		return
	}
	out := make([]proto.Span, 0, len(spans))
	for _, s := range spans {
		out = append(out, proto.Span{First: s.First, Last: s.Last})
	}
	if stats.Dynamics == nil {
		stats.Dynamics = map[string][]proto.Span{}
	}
	stats.Dynamics[name] = out
}

func (h *handler) drainListeners() { h.srv.DrainListeners() }

func replyEnvelope(r *proto.Reply) *proto.Envelope {
	return &proto.Envelope{Reply: r}
}

package proxyroll

import (
	"net"
	"os"
)

type mockOS struct {
	pid     int
	signals chan os.Signal
}

func (m mockOS) Getpid() int {
	return m.pid
}

func (m mockOS) FindProcess(pid int) (processIface, error) {
	return mockProcess{signals: m.signals}, nil
}

type mockProcess struct {
	signals chan os.Signal
}

func (m mockProcess) Signal(s os.Signal) error {
	if m.signals != nil {
		m.signals <- s
	}
	return nil
}

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

// fakeConn implements the full HandoffConn capability.
type fakeConn struct {
	local, remote string
	open          bool
	fd            int
	buffered      []byte
	residual      []byte
	residualErr   error

	readsDisabled bool
}

func (c *fakeConn) LocalAddr() net.Addr  { return fakeAddr(c.local) }
func (c *fakeConn) RemoteAddr() net.Addr { return fakeAddr(c.remote) }
func (c *fakeConn) IsOpen() bool         { return c.open }
func (c *fakeConn) Fd() int              { return c.fd }
func (c *fakeConn) DisableReads()        { c.readsDisabled = true }
func (c *fakeConn) BufferedBytes() []byte {
	return c.buffered
}
func (c *fakeConn) ReadResidual(p []byte) (int, error) {
	if c.residualErr != nil {
		return 0, c.residualErr
	}
	n := copy(p, c.residual)
	c.residual = nil
	return n, nil
}

// plainConn is a connection kind the handoff does not recognize.
type plainConn struct {
	local, remote string
}

func (c plainConn) LocalAddr() net.Addr  { return fakeAddr(c.local) }
func (c plainConn) RemoteAddr() net.Addr { return fakeAddr(c.remote) }

type fakeActiveListener struct {
	conns []Connection
}

func (l *fakeActiveListener) Connections() []Connection { return l.conns }

// fakeConnHandler runs posted actions on its own goroutine, like a real
// worker would, unless it is stalled, in which case posts are swallowed.
type fakeConnHandler struct {
	listeners []ActiveListener
	stalled   bool
}

func (h *fakeConnHandler) Post(fn func()) {
	if h.stalled {
		return
	}
	go fn()
}

func (h *fakeConnHandler) ActiveListeners() []ActiveListener { return h.listeners }

type fakeWorker struct {
	handler *fakeConnHandler
}

func (w *fakeWorker) ConnectionHandler() ConnectionHandler { return w.handler }

func workerOf(conns ...Connection) *fakeWorker {
	return &fakeWorker{handler: &fakeConnHandler{
		listeners: []ActiveListener{&fakeActiveListener{conns: conns}},
	}}
}

type fakeListener struct {
	addr       string
	bindToPort bool
	workerFds  []int
}

func (l *fakeListener) Addr() net.Addr   { return fakeAddr(l.addr) }
func (l *fakeListener) BindToPort() bool { return l.bindToPort }
func (l *fakeListener) WorkerSocketFd(workerIndex uint32) int {
	return l.workerFds[workerIndex]
}

type fakeCounter struct {
	name  string
	used  bool
	delta uint64
}

func (c *fakeCounter) Name() string { return c.name }
func (c *fakeCounter) Used() bool   { return c.used }
func (c *fakeCounter) Latch() uint64 {
	d := c.delta
	c.delta = 0
	return d
}

type fakeGauge struct {
	name string
	used bool
	val  uint64
}

func (g *fakeGauge) Name() string  { return g.name }
func (g *fakeGauge) Used() bool    { return g.used }
func (g *fakeGauge) Value() uint64 { return g.val }
func (g *fakeGauge) Inc() {
	g.val++
	g.used = true
}

type fakeSymbolTable map[string][]DynamicSpan

func (t fakeSymbolTable) DynamicSpans(name string) []DynamicSpan { return t[name] }

type fakeStore struct {
	counters []*fakeCounter
	gauges   []*fakeGauge
	symbols  fakeSymbolTable
}

func (s *fakeStore) Counters() []Counter {
	out := make([]Counter, 0, len(s.counters))
	for _, c := range s.counters {
		out = append(out, c)
	}
	return out
}

func (s *fakeStore) Gauges() []Gauge {
	out := make([]Gauge, 0, len(s.gauges))
	for _, g := range s.gauges {
		out = append(out, g)
	}
	return out
}

func (s *fakeStore) Gauge(name string) Gauge {
	for _, g := range s.gauges {
		if g.name == name {
			return g
		}
	}
	g := &fakeGauge{name: name}
	s.gauges = append(s.gauges, g)
	return g
}

func (s *fakeStore) SymbolTable() SymbolTable {
	if s.symbols == nil {
		return fakeSymbolTable(nil)
	}
	return s.symbols
}

type fakeListenerManager struct {
	listeners []Listener
	numConns  uint64
}

func (m *fakeListenerManager) Listeners() []Listener  { return m.listeners }
func (m *fakeListenerManager) NumConnections() uint64 { return m.numConns }

type fakeServer struct {
	store       *fakeStore
	lm          *fakeListenerManager
	workers     []Worker
	concurrency uint32
	startTime   int64
	reusePort   bool

	adminC chan struct{}
	drainC chan struct{}
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		store:       &fakeStore{},
		lm:          &fakeListenerManager{},
		concurrency: 1,
		startTime:   1234567890,
		reusePort:   true,
		adminC:      make(chan struct{}, 8),
		drainC:      make(chan struct{}, 8),
	}
}

func (s *fakeServer) ShutdownAdmin() {
	s.adminC <- struct{}{}
}

func (s *fakeServer) StartTimeFirstEpoch() int64       { return s.startTime }
func (s *fakeServer) EnableReusePortDefault() bool     { return s.reusePort }
func (s *fakeServer) Concurrency() uint32              { return s.concurrency }
func (s *fakeServer) ListenerManager() ListenerManager { return s.lm }
func (s *fakeServer) Workers() []Worker                { return s.workers }
func (s *fakeServer) Stats() Store                     { return s.store }

func (s *fakeServer) DrainListeners() {
	s.drainC <- struct{}{}
}

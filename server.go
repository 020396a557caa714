package proxyroll

import "net"

// Server is the surface of the proxy server the parent-side handoff needs.
// It is deliberately narrow: the handoff never reaches for concrete server
// types, only for these capabilities.
type Server interface {
	// ShutdownAdmin shuts down the admin endpoint so the child can bind its own.
	ShutdownAdmin()
	// StartTimeFirstEpoch is the unix time the first generation of this
	// server started, carried across every restart since.
	StartTimeFirstEpoch() int64
	// EnableReusePortDefault reports the server-wide SO_REUSEPORT default, so
	// the child binds its sockets the same way the parent did.
	EnableReusePortDefault() bool
	// Concurrency is the configured number of worker threads.
	Concurrency() uint32

	ListenerManager() ListenerManager
	Workers() []Worker
	Stats() Store

	// DrainListeners begins draining all listeners server-wide.
	DrainListeners()
}

// ListenerManager exposes the server's configured listeners.
type ListenerManager interface {
	Listeners() []Listener
	// NumConnections is the total count of connections currently active
	// across all listeners.
	NumConnections() uint64
}

// Listener is one configured listener and its per-worker listening sockets.
type Listener interface {
	Addr() net.Addr
	// BindToPort reports whether this listener binds its own socket. A
	// listener that inherited a duplicated socket must not be handed off
	// again.
	BindToPort() bool
	// WorkerSocketFd returns the descriptor of the listening socket serving
	// the given worker.
	WorkerSocketFd(workerIndex uint32) int
}

// Worker is one of the server's worker threads.
type Worker interface {
	ConnectionHandler() ConnectionHandler
}

// ConnectionHandler owns the connections accepted on one worker.
type ConnectionHandler interface {
	// Post schedules fn to run on the worker's own goroutine. Connections are
	// only safe to mutate from there.
	Post(fn func())
	ActiveListeners() []ActiveListener
}

// ActiveListener is a per-worker view of one listener's accepted connections.
type ActiveListener interface {
	Connections() []Connection
}

// Connection is the minimal surface the connection handler exposes for each
// accepted connection.
type Connection interface {
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// HandoffConn is the capability a connection must additionally implement to
// be passed to the child. Connections that do not implement it (for example
// non-TCP ones) are skipped during handoff.
type HandoffConn interface {
	Connection

	// IsOpen reports whether the underlying descriptor is still open.
	IsOpen() bool
	// Fd returns the raw descriptor. Ownership stays with the worker.
	Fd() int
	// DisableReads stops the owning worker from reading further bytes off
	// the socket. Must be called from the owning worker's goroutine.
	DisableReads()
	// BufferedBytes returns bytes already read off the socket but not yet
	// consumed by a filter or upstream.
	BufferedBytes() []byte
	// ReadResidual performs one non-blocking read from the socket into p.
	ReadResidual(p []byte) (int, error)
}

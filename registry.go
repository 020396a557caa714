package proxyroll

// connKey derives the stable identity of a live connection from its
// local/peer address pair. It is unique per live TCP connection at a point
// in time, and the child can recompute it from a received descriptor.
func connKey(c Connection) string {
	return c.LocalAddr().String() + "_" + c.RemoteAddr().String()
}

// connEntry is one registered connection. Ownership of the connection stays
// with the worker that accepted it; the entry holds a borrowed reference
// that is only valid while the connection is open.
type connEntry struct {
	conn HandoffConn
	// overflow holds buffered bytes that did not fit the handoff reply.
	// They are served through connection-data requests, ahead of any
	// residual read, so the receiving side sees them in order.
	overflow []byte
}

// connRegistry maps a connection identity to its registered entry.
//
// The registry serves two purposes: it deduplicates handoff sweeps, which
// makes it the pagination cursor for multi-round PassConnectionSocket
// exchanges, and it resolves later PassConnectionData lookups. It lives for
// one restart cycle and is only touched by the dispatch goroutine.
type connRegistry map[string]*connEntry

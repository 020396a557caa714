package proto

// Envelope is a single wire message. Exactly one of Request and Reply is
// set, except for the bare "didn't recognize" reply, which sets neither.
type Envelope struct {
	Request *Request `json:"request,omitempty"`
	Reply   *Reply   `json:"reply,omitempty"`

	// DidntRecognize is set on a reply when the peer's last message was not
	// understood: an unknown request kind, or a reply where a request was
	// expected.
	DidntRecognize bool `json:"didnt_recognize_your_last_message,omitempty"`
}

// Request holds one of the request kinds a child may send its parent. At
// most one field is non-nil; a request with no field set is unrecognized
// (typically a newer kind this process does not know about).
type Request struct {
	ShutdownAdmin        *ShutdownAdminRequest        `json:"shutdown_admin,omitempty"`
	PassListenSocket     *PassListenSocketRequest     `json:"pass_listen_socket,omitempty"`
	PassConnectionSocket *PassConnectionSocketRequest `json:"pass_connection_socket,omitempty"`
	PassConnectionData   *PassConnectionDataRequest   `json:"pass_connection_data,omitempty"`
	Stats                *StatsRequest                `json:"stats,omitempty"`
	DrainListeners       *DrainListenersRequest       `json:"drain_listeners,omitempty"`
	Terminate            *TerminateRequest            `json:"terminate,omitempty"`
}

// ShutdownAdminRequest asks the parent to shut down its admin endpoint so
// the child can bring up its own.
type ShutdownAdminRequest struct{}

// PassListenSocketRequest asks for the descriptor of one listening socket.
type PassListenSocketRequest struct {
	Address string `json:"address"`
	// WorkerIndex selects which worker's socket to pass. Old peers never set
	// it, so it defaults to worker 0.
	WorkerIndex uint32 `json:"worker_index,omitempty"`
}

// PassConnectionSocketRequest asks for the next batch of live accepted
// connection sockets. It carries no fields; the parent's registry of
// already-passed connections is the continuation state.
type PassConnectionSocketRequest struct{}

// PassConnectionDataRequest asks for any bytes that arrived on an
// already-passed connection since it was handed over.
type PassConnectionDataRequest struct {
	ConnectionID string `json:"connection_id"`
}

// StatsRequest asks for a snapshot of the parent's active stats.
type StatsRequest struct{}

// DrainListenersRequest tells the parent to begin draining its listeners.
// It is fire and forget; no reply is sent.
type DrainListenersRequest struct{}

// TerminateRequest tells the parent to exit. No reply is sent.
type TerminateRequest struct{}

// Reply holds one of the reply kinds. At most one field is non-nil.
type Reply struct {
	ShutdownAdmin        *ShutdownAdminReply        `json:"shutdown_admin,omitempty"`
	PassListenSocket     *PassListenSocketReply     `json:"pass_listen_socket,omitempty"`
	PassConnectionSocket *PassConnectionSocketReply `json:"pass_connection_socket,omitempty"`
	PassConnectionData   *PassConnectionDataReply   `json:"pass_connection_data,omitempty"`
	Stats                *StatsReply                `json:"stats,omitempty"`
}

// ShutdownAdminReply carries the settings the child needs to present a
// consistent face after taking over.
type ShutdownAdminReply struct {
	OriginalStartTimeUnixSeconds int64 `json:"original_start_time_unix_seconds"`
	EnableReusePortDefault       bool  `json:"enable_reuse_port_default"`
}

// PassListenSocketReply carries the parent-side descriptor of the requested
// listening socket, or -1 if no matching listener exists.
type PassListenSocketReply struct {
	Fd int `json:"fd"`
}

// SocketInfo describes one handed-off connection socket.
type SocketInfo struct {
	Fd int `json:"fd"`
	// ID is the connection identity the child uses for later
	// PassConnectionData requests.
	ID string `json:"id"`
	// Buffer holds bytes the parent had read off the socket but not yet
	// consumed; the child must replay them before reading the socket. A
	// buffer too large for one datagram continues through
	// PassConnectionData replies for the same ID.
	Buffer []byte `json:"buffer,omitempty"`
}

// PassConnectionSocketReply carries one batch of connection sockets.
// HasMoreFds tells the child to ask again for the next batch.
type PassConnectionSocketReply struct {
	Sockets    []SocketInfo `json:"sockets,omitempty"`
	HasMoreFds bool         `json:"has_more_fd,omitempty"`
}

// PassConnectionDataReply carries residual bytes for one connection, at
// most one datagram's worth per reply; the child keeps asking until Data
// comes back empty. An empty Data with the same ConnectionID means no bytes
// were pending (or the connection was unknown, which the child treats the
// same way).
type PassConnectionDataReply struct {
	ConnectionID string `json:"connection_id"`
	Data         []byte `json:"connection_data,omitempty"`
}

// Span marks a substring of a stat name, as byte offsets of its first and
// last character, that was generated dynamically rather than drawn from the
// static symbol table.
type Span struct {
	First uint32 `json:"first"`
	Last  uint32 `json:"last"`
}

// StatsReply is a point-in-time export of the parent's active stats.
// Gauges carry absolute values; CounterDeltas carry the delta latched since
// the parent's last flush and only appear when nonzero.
type StatsReply struct {
	Gauges        map[string]uint64 `json:"gauges,omitempty"`
	CounterDeltas map[string]uint64 `json:"counter_deltas,omitempty"`
	// Dynamics maps an exported stat name to the dynamic spans of that name,
	// letting the child reconstruct the same symbolized representation.
	Dynamics        map[string][]Span `json:"dynamics,omitempty"`
	MemoryAllocated uint64            `json:"memory_allocated"`
	NumConnections  uint64            `json:"num_connections"`
}

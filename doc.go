// Package proxyroll implements the parent side of a zero-downtime restart
// between two generations of a long-running network proxy.
//
// The old process (the parent) binds a datagram domain socket whose address
// is derived from its restart epoch, and answers requests from the newly
// started process (the child) on the next epoch: shutting down the admin
// endpoint, duplicating listening sockets, quiescing and handing off live
// accepted connections together with any bytes already buffered on them,
// draining residual connection data, exporting a stats snapshot, draining
// listeners, and finally terminating.
//
// The proxy server itself is a collaborator. Package proxyroll talks to it
// only through the narrow capability interfaces declared here (Server,
// ListenerManager, Worker, HandoffConn, stats Store), so any server that can
// expose its listeners, workers and connections can be hot restarted.
//
// How the child process is started is out of scope; both processes only
// need to agree on the socket path prefix, base id, and restart epoch.
package proxyroll

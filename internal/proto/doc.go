// Package proto defines the messages exchanged between the parent and child
// processes during a hot restart, and the functions for putting them on and
// taking them off the wire.
//
// Every message is a single Envelope carrying either a request or a reply,
// never both. Requests flow from the child to the parent; the parent answers
// each request it decides to answer with exactly one reply envelope. A peer
// that receives a message it cannot make sense of answers with an envelope
// whose DidntRecognize flag is set and nothing else.
//
// Envelopes are encoded as JSON, one envelope per datagram. Version skew
// between the two processes falls out of the encoding: a field the receiver
// does not know is silently dropped, leaving the request with no recognized
// kind, and a field the sender omitted decodes to its zero value. That is
// why PassListenSocketRequest.WorkerIndex defaults to worker 0 when talking
// to an older peer.
//
// File descriptors never travel inside the JSON body. Replies that hand off
// sockets record the parent-side descriptor numbers in the envelope, and the
// channel attaches the descriptors themselves as SCM_RIGHTS control data.
// ReplyFds and SetReplyFds enumerate those descriptors in a deterministic
// order so both ends agree on which received descriptor is which.
package proto

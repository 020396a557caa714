package proto

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Encode serializes an envelope for transmission as a single datagram.
func Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "can't encode envelope")
	}
	return data, nil
}

// Decode deserializes one datagram into an envelope.
func Decode(data []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, errors.Wrap(err, "can't decode envelope")
	}
	return env, nil
}

// ReplyFds returns the descriptors a reply envelope hands off, in the order
// the receiving side must remap them. Requests and non-handoff replies carry
// none.
func ReplyFds(env *Envelope) []int {
	if env.Reply == nil {
		return nil
	}
	if ls := env.Reply.PassListenSocket; ls != nil && ls.Fd >= 0 {
		return []int{ls.Fd}
	}
	if cs := env.Reply.PassConnectionSocket; cs != nil {
		fds := make([]int, 0, len(cs.Sockets))
		for _, s := range cs.Sockets {
			fds = append(fds, s.Fd)
		}
		return fds
	}
	return nil
}

// SetReplyFds rewrites the descriptor numbers in a received envelope with
// the descriptors delivered alongside it, in ReplyFds order. The counts must
// match: a mismatch means the peer and we disagree about the protocol.
func SetReplyFds(env *Envelope, fds []int) error {
	expected := ReplyFds(env)
	if len(expected) != len(fds) {
		return errors.Errorf("envelope names %d descriptors but %d were delivered", len(expected), len(fds))
	}
	if len(fds) == 0 {
		return nil
	}
	if ls := env.Reply.PassListenSocket; ls != nil {
		ls.Fd = fds[0]
		return nil
	}
	cs := env.Reply.PassConnectionSocket
	for i := range cs.Sockets {
		cs.Sockets[i].Fd = fds[i]
	}
	return nil
}

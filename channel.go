package proxyroll

import (
	"fmt"
	"os"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"github.com/proxyroll/proxyroll/internal/proto"
	"github.com/rkt/rkt/pkg/lock"
	"golang.org/x/sys/unix"
)

// maxDatagram bounds the size of one encoded envelope on the wire.
const maxDatagram = 64 * 1024

// errMalformedDatagram reports a datagram that arrived intact but did not
// decode. The peer is still owed an answer; the caller decides which.
var errMalformedDatagram = errors.New("malformed datagram")

// channel is the message-oriented domain-socket link between the parent and
// child generations. It is a datagram socket: one envelope per message, file
// descriptors attached as SCM_RIGHTS control data.
type channel struct {
	fd    int
	path  string
	flock *lock.FileLock
	l     log15.Logger
}

// domainSocketAddress derives the rendezvous address for one generation of
// the process. The parent of epoch N binds (prefix, N, "parent") and sends
// to (prefix, N+1, "child"); the base id separates multiple proxies sharing
// a path prefix.
func domainSocketAddress(prefix string, baseID, id uint64, role string) string {
	return fmt.Sprintf("%s_%s_%d", prefix, role, baseID+id)
}

func touchFile(path string) error {
	fi, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return err
	}
	return fi.Close()
}

// bindChannel claims a channel address. The flock guards against a second
// process claiming the same epoch; the socket file itself may be a stale
// leftover of a crashed generation, so it is unlinked once the lock is held.
func bindChannel(l log15.Logger, path string, mode os.FileMode) (*channel, error) {
	lockPath := path + ".lock"
	if err := touchFile(lockPath); err != nil {
		return nil, errors.Wrapf(err, "can't create lock file %s", lockPath)
	}
	flock, err := lock.TryExclusiveLock(lockPath, lock.RegFile)
	if err != nil {
		return nil, errors.Wrapf(err, "can't claim channel address %s", path)
	}

	if err := unlinkUnixSocket(path); err != nil && !os.IsNotExist(err) {
		flock.Close()
		return nil, errors.Wrapf(err, "can't remove stale socket %s", path)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		flock.Close()
		return nil, errors.Wrap(err, "can't create domain socket")
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		flock.Close()
		return nil, errors.Wrapf(err, "can't bind %s", path)
	}
	if err := os.Chmod(path, mode); err != nil {
		unix.Close(fd)
		flock.Close()
		return nil, errors.Wrapf(err, "can't set mode on %s", path)
	}

	l.Info("bound hot restart channel", "path", path)
	return &channel{
		fd:    fd,
		path:  path,
		flock: flock,
		l:     l,
	}, nil
}

// send encodes one envelope and sends it to the given address, attaching any
// descriptors the reply hands off as a single SCM_RIGHTS control message.
func (c *channel) send(addr string, env *proto.Envelope) error {
	data, err := proto.Encode(env)
	if err != nil {
		return err
	}
	if len(data) > maxDatagram {
		return errors.Errorf("envelope of %d bytes exceeds the %d byte datagram limit", len(data), maxDatagram)
	}
	var oob []byte
	if fds := proto.ReplyFds(env); len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	to := &unix.SockaddrUnix{Name: addr}
	if err := unix.Sendmsg(c.fd, data, oob, to, 0); err != nil {
		return errors.Wrapf(err, "can't send envelope to %s", addr)
	}
	return nil
}

// recv receives one pending envelope without blocking, remapping any
// descriptors delivered alongside it back into the message. It returns
// (nil, nil) once the socket is drained.
func (c *channel) recv() (*proto.Envelope, error) {
	buf := make([]byte, maxDatagram)
	oob := make([]byte, unix.CmsgSpace(4*maxConnBatch))
	var n, oobn int
	err := ignoringEINTR(func() error {
		var rerr error
		n, oobn, _, _, rerr = unix.Recvmsg(c.fd, buf, oob, 0)
		return rerr
	})
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "can't receive from channel")
	}
	env, err := proto.Decode(buf[:n])
	if err != nil {
		c.l.Error("can't decode datagram", "bytes", n, "err", err)
		return nil, errMalformedDatagram
	}
	if oobn > 0 {
		scms, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return nil, errors.Wrap(err, "can't parse control data")
		}
		if len(scms) != 1 {
			return nil, errors.Errorf("expected 1 control message, got %d", len(scms))
		}
		fds, err := unix.ParseUnixRights(&scms[0])
		if err != nil {
			return nil, errors.Wrap(err, "can't parse SCM_RIGHTS data")
		}
		if err := proto.SetReplyFds(env, fds); err != nil {
			return nil, err
		}
	}
	return env, nil
}

// waitReadable parks the calling goroutine until at least one datagram is
// pending on the channel, or the timeout elapses. A negative timeout waits
// forever. It reports whether data is ready.
func (c *channel) waitReadable(timeout time.Duration) (bool, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	for {
		pfds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, errors.Wrap(err, "can't poll channel")
		}
		if n == 0 {
			return false, nil
		}
		if pfds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return false, errors.New("channel socket closed")
		}
		return true, nil
	}
}

// close releases the socket, its address and the epoch lock.
func (c *channel) close() error {
	err := unix.Close(c.fd)
	if uerr := unlinkUnixSocket(c.path); uerr != nil && !os.IsNotExist(uerr) && err == nil {
		err = uerr
	}
	if lerr := c.flock.Unlock(); lerr != nil && err == nil {
		err = lerr
	}
	return err
}

// ignoringEINTR retries fn until it returns something other than an
// interrupted syscall.
func ignoringEINTR(fn func() error) error {
	for {
		if err := fn(); err != unix.EINTR {
			return err
		}
	}
}

// unlinkUnixSocket removes path only if it actually is a socket.
func unlinkUnixSocket(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return nil
	}
	return os.Remove(path)
}

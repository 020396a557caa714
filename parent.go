package proxyroll

import (
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"github.com/proxyroll/proxyroll/internal/proto"
	"k8s.io/utils/clock"
)

// DefaultQuiesceTimeout bounds how long a connection-handoff sweep waits for
// a worker to disable reads on one of its connections. A worker that misses
// the deadline only costs the child that connection until a later sweep.
const DefaultQuiesceTimeout = 10 * time.Second

// DefaultSocketMode is the access mode of the parent's channel socket file.
const DefaultSocketMode os.FileMode = 0600

// Parent owns the parent side of a hot restart: it binds the channel address
// for its restart epoch and answers requests arriving from the child on the
// next epoch until it is told to terminate or Stop is called.
type Parent struct {
	srv       Server
	handler   *handler
	ch        *channel
	childAddr string

	baseID         uint64
	sockMode       os.FileMode
	quiesceTimeout time.Duration

	stopOnce sync.Once
	doneC    chan struct{}

	l   log15.Logger
	clk clock.Clock
	os  osIface
}

// Option is an option function for Parent.
// See Rob Pike's post on the topic for more information on this pattern:
// https://commandcenter.blogspot.com/2014/01/self-referential-functions-and-design.html
type Option func(p *Parent)

// WithLogger configures the logger for hot restart operations.
// By default, nothing will be logged.
func WithLogger(l log15.Logger) Option {
	return func(p *Parent) {
		p.l = l
	}
}

// WithBaseID offsets the channel addresses, letting multiple independent
// proxies share one socket path prefix.
func WithBaseID(id uint64) Option {
	return func(p *Parent) {
		p.baseID = id
	}
}

// WithSocketMode configures the access mode of the channel socket file.
func WithSocketMode(mode os.FileMode) Option {
	return func(p *Parent) {
		p.sockMode = mode
	}
}

// WithQuiesceTimeout configures how long a handoff sweep waits for a worker
// to quiesce a connection. A timeout of 0 waits forever.
func WithQuiesceTimeout(d time.Duration) Option {
	return func(p *Parent) {
		p.quiesceTimeout = d
	}
}

// New binds the parent's channel address for the given restart epoch and
// starts answering requests from a child on epoch+1. Both processes must
// agree on the socket path prefix and base id.
func New(srv Server, restartEpoch uint64, socketPath string, opts ...Option) (*Parent, error) {
	return newParent(realOS{}, clock.RealClock{}, srv, restartEpoch, socketPath, opts...)
}

func newParent(osi osIface, clk clock.Clock, srv Server, restartEpoch uint64, socketPath string, opts ...Option) (*Parent, error) {
	noopLogger := log15.New()
	noopLogger.SetHandler(log15.DiscardHandler())
	p := &Parent{
		srv:            srv,
		sockMode:       DefaultSocketMode,
		quiesceTimeout: DefaultQuiesceTimeout,
		doneC:          make(chan struct{}),
		l:              noopLogger,
		clk:            clk,
		os:             osi,
	}
	for _, opt := range opts {
		opt(p)
	}

	ch, err := bindChannel(p.l, domainSocketAddress(socketPath, p.baseID, restartEpoch, "parent"), p.sockMode)
	if err != nil {
		return nil, errors.Wrap(err, "can't bind hot restart channel")
	}
	p.ch = ch
	p.childAddr = domainSocketAddress(socketPath, p.baseID, restartEpoch+1, "child")
	p.handler = newHandler(srv, clk, p.quiesceTimeout, p.l)

	go p.serve()
	return p, nil
}

// serve parks until the channel is readable, then drains every pending
// request in arrival order, producing each reply before touching the next
// request. All channel reads are non-blocking; the only place the dispatch
// goroutine genuinely blocks on other threads is the quiesce rendezvous.
func (p *Parent) serve() {
	for {
		ready, err := p.ch.waitReadable(-1)
		if err != nil {
			select {
			case <-p.doneC:
				p.l.Info("channel closed, no longer serving hot restart requests")
			default:
				p.l.Error("error waiting on hot restart channel", "err", err)
			}
			return
		}
		if !ready {
			continue
		}
		p.drainRequests()
	}
}

func (p *Parent) drainRequests() {
	for {
		env, err := p.ch.recv()
		if err == errMalformedDatagram {
			// Something unintelligible is an answerable condition, not a
			// channel failure: tell the sender and keep draining.
			p.sendReply(&proto.Envelope{DidntRecognize: true})
			continue
		}
		if err != nil {
			p.l.Error("error receiving hot restart request", "err", err)
			return
		}
		if env == nil {
			return
		}
		p.dispatch(env)
	}
}

func (p *Parent) dispatch(env *proto.Envelope) {
	if env.Reply != nil {
		p.l.Error("child sent us a reply (we want requests); ignoring")
		p.sendReply(&proto.Envelope{DidntRecognize: true})
		return
	}
	if env.Request == nil {
		p.l.Error("child sent us an empty envelope; ignoring")
		p.sendReply(&proto.Envelope{DidntRecognize: true})
		return
	}

	req := env.Request
	switch {
	case req.ShutdownAdmin != nil:
		p.sendReply(p.handler.shutdownAdmin())
	case req.PassListenSocket != nil:
		p.sendReply(p.handler.passListenSocket(req.PassListenSocket))
	case req.PassConnectionSocket != nil:
		p.sendReply(p.handler.passConnectionSockets())
	case req.PassConnectionData != nil:
		p.sendReply(p.handler.passConnectionData(req.PassConnectionData))
	case req.Stats != nil:
		p.sendReply(p.handler.exportStats())
	case req.DrainListeners != nil:
		// Fire and forget, no reply.
		p.handler.drainListeners()
	case req.Terminate != nil:
		p.l.Info("shutting down due to child request")
		p.terminate()
	default:
		p.l.Error("child sent us an unfamiliar kind of request; ignoring")
		p.sendReply(&proto.Envelope{DidntRecognize: true})
	}
}

// sendReply is best effort: a child that went away mid-restart must not take
// the parent down with it.
func (p *Parent) sendReply(env *proto.Envelope) {
	if err := p.ch.send(p.childAddr, env); err != nil {
		p.l.Error("error replying to child", "err", err)
	}
}

func (p *Parent) terminate() {
	proc, err := p.os.FindProcess(p.os.Getpid())
	if err != nil {
		p.l.Error("can't find own process to terminate", "err", err)
		return
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		p.l.Error("can't deliver SIGTERM to own process", "err", err)
	}
}

// Stop stops serving restart requests and releases the channel address and
// its epoch lock.
func (p *Parent) Stop() {
	p.stopOnce.Do(func() {
		close(p.doneC)
		if err := p.ch.close(); err != nil {
			p.l.Error("error closing hot restart channel", "err", err)
		}
	})
}

type osIface interface {
	Getpid() int
	FindProcess(pid int) (processIface, error)
}

type processIface interface {
	Signal(os.Signal) error
}

type realOS struct{}

func (realOS) Getpid() int {
	return os.Getpid()
}

func (realOS) FindProcess(pid int) (processIface, error) {
	return os.FindProcess(pid)
}

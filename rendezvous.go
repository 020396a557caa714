package proxyroll

import (
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

// errWorkerUnresponsive is returned when a worker does not run a scheduled
// action within the rendezvous timeout. The worker may still run it later;
// the caller must only rely on actions whose rendezvous succeeded.
var errWorkerUnresponsive = errors.New("worker did not run the scheduled action in time")

// rendezvous runs actions on a connection's owning worker and waits for them
// to complete, giving the dispatch goroutine a safe synchronization point
// with state it does not own. A fresh value is used per handoff sweep so no
// synchronization state leaks between unrelated requests.
type rendezvous struct {
	clk     clock.Clock
	timeout time.Duration
}

// runOn schedules fn on the owning worker via post and blocks until it has
// run, or until the timeout elapses. A timeout of zero waits forever, which
// turns a stalled worker into a stalled dispatch goroutine.
func (r rendezvous) runOn(post func(func()), fn func()) error {
	done := make(chan struct{})
	post(func() {
		fn()
		close(done)
	})
	if r.timeout <= 0 {
		<-done
		return nil
	}
	select {
	case <-done:
		return nil
	case <-r.clk.After(r.timeout):
		return errWorkerUnresponsive
	}
}

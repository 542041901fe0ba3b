package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"

	"github.com/testplan-go/remotepool/internal/worker"
)

type countingPinger struct {
	mu   sync.Mutex
	fail bool
}

func (p *countingPinger) setFail(v bool) {
	p.mu.Lock()
	p.fail = v
	p.mu.Unlock()
}

func (p *countingPinger) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("ping failed")
	}
	return nil
}

func waitFor(t *testing.T, want bool, unresponsive func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if unresponsive() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Unresponsive() did not settle to %v in time", want)
}

func TestHeartbeatMarksUnresponsiveAfterThreeMisses(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(0, 0))
	w := worker.New(worker.Params{Host: "host1", HeartbeatClock: clk})
	pinger := &countingPinger{fail: true}

	const interval = time.Second
	stop := w.StartHeartbeat(context.Background(), pinger, interval)
	defer stop()

	for i := 0; i < 3; i++ {
		clk.WaitForNWatchersAndIncrement(interval, 1)
	}
	waitFor(t, true, w.Unresponsive)

	pinger.setFail(false)
	clk.WaitForNWatchersAndIncrement(interval, 1)
	waitFor(t, false, w.Unresponsive)
}

func TestHeartbeatStopEndsLoop(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(0, 0))
	w := worker.New(worker.Params{Host: "host1", HeartbeatClock: clk})
	pinger := &countingPinger{}

	stop := w.StartHeartbeat(context.Background(), pinger, time.Second)
	stop()

	if w.Unresponsive() {
		t.Error("Unresponsive() = true after a clean stop with no missed pings")
	}
}

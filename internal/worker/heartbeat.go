package worker

import (
	"context"
	"time"

	"github.com/testplan-go/remotepool/internal/logging"
	"github.com/testplan-go/remotepool/internal/transport"
)

// missedHeartbeatsUnresponsive is the number of consecutive missed
// heartbeats after which a worker is marked Unresponsive.
const missedHeartbeatsUnresponsive = 3

// Pinger checks whether a worker is still alive. transportPinger is the
// production implementation; tests inject a fake.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StartHeartbeat launches a goroutine that pings pinger once per interval
// using clk (the worker's configured clock, real by default, fake in
// tests), marking the worker Unresponsive after three consecutive missed
// heartbeats. It is a no-op choice left to the caller whether to abort an
// unresponsive worker; this loop only tracks and reports the condition.
// The returned function stops the loop and blocks until it has exited.
func (w *RemoteWorker) StartHeartbeat(ctx context.Context, pinger Pinger, interval time.Duration) func() {
	loopCtx, cancel := context.WithCancel(ctx)
	w.heartbeatCancel = cancel
	w.heartbeatDone = make(chan struct{})

	ticker := w.params.HeartbeatClock.NewTicker(interval)
	go func() {
		defer close(w.heartbeatDone)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C():
				w.beat(loopCtx, pinger)
			}
		}
	}()

	return func() {
		cancel()
		<-w.heartbeatDone
	}
}

func (w *RemoteWorker) beat(ctx context.Context, pinger Pinger) {
	if err := pinger.Ping(ctx); err != nil {
		w.mu.Lock()
		w.missedHeartbeats++
		missed := w.missedHeartbeats
		if missed >= missedHeartbeatsUnresponsive {
			w.unresponsive = true
		}
		w.mu.Unlock()
		logging.Debugf(ctx, "missed heartbeat for %s (%d consecutive)", w.params.Host, missed)
		return
	}
	w.mu.Lock()
	w.missedHeartbeats = 0
	w.unresponsive = false
	w.mu.Unlock()
}

// Unresponsive reports whether the worker has missed three consecutive
// heartbeats since the last successful one.
func (w *RemoteWorker) Unresponsive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unresponsive
}

// transportPinger implements Pinger over the worker's own SSH transport,
// since this package has no separate control-plane connection to ping over:
// a missed heartbeat is a failing remote no-op command.
type transportPinger struct {
	w *RemoteWorker
}

func (p *transportPinger) Ping(ctx context.Context) error {
	_, err := p.w.transport().ExecRemote(ctx, p.w.params.Host, []string{"true"}, transport.ExecOptions{Label: "heartbeat", Check: true})
	return err
}

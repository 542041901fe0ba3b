// Package healthcheck implements the pre-flight SSH reachability probe run
// once per host before RemotePool commits to a full PrepareRemote cycle
// there. It supplements the distilled spec: the original implementation has
// no equivalent, discovering a dead host only when the first staging
// subprocess fails midway through.
package healthcheck

import (
	"context"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/net/proxy"

	"github.com/testplan-go/remotepool/internal/errors"
)

// HostHealth is the result of probing one host.
type HostHealth struct {
	Host      string
	Reachable bool
	Latency   time.Duration
	Err       error
}

// Checker probes a single host's reachability.
type Checker interface {
	Check(ctx context.Context, host string) HostHealth
}

// Clock is the minimal time source Checker needs, matching
// code.cloudfoundry.org/clock's Clock interface so tests can inject a fake
// clock instead of waiting on real latencies.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SSHChecker probes reachability by attempting an SSH handshake (not a full
// authenticated session) against host's default port. A successful
// handshake, even one that is then rejected at the authentication step, is
// enough to prove the host is reachable and running an SSH server — actual
// authentication is left to the transport package's subprocess-based
// ssh(1)/scp(1) invocations per the pool's Non-goals.
type SSHChecker struct {
	Port    string // default "22"
	Timeout time.Duration
	Clock   Clock
	Dial    func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewSSHChecker returns a SSHChecker with production defaults. Dialing
// honors the standard proxy environment variables (ALL_PROXY and friends,
// see golang.org/x/net/proxy) so hosts reachable only through a configured
// SOCKS jump proxy still get probed rather than reported unreachable.
func NewSSHChecker() *SSHChecker {
	dialer := proxy.FromEnvironment()
	return &SSHChecker{
		Port:    "22",
		Timeout: 5 * time.Second,
		Clock:   realClock{},
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
				return ctxDialer.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		},
	}
}

// Check dials host and attempts an SSH handshake. The host is reported
// reachable whenever the dial succeeds; any handshake error, whatever its
// cause, is returned in Err alongside Reachable true.
func (c *SSHChecker) Check(ctx context.Context, host string) HostHealth {
	start := c.Clock.Now()
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	addr := net.JoinHostPort(stripUser(host), c.Port)
	conn, err := c.Dial(ctx, "tcp", addr)
	if err != nil {
		return HostHealth{Host: host, Reachable: false, Err: errors.Wrapf(err, "dial %s", addr)}
	}
	defer conn.Close()

	clientConfig := &ssh.ClientConfig{
		User:            "remotepool-healthcheck",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.Timeout,
	}
	// Authentication is expected to fail (this probe carries no real
	// credentials): any response at all from the SSH layer, including an
	// auth rejection, proves the host is up. Only the earlier dial failing
	// means the host itself is unreachable.
	_, _, _, err = ssh.NewClientConn(conn, addr, clientConfig)
	latency := c.Clock.Now().Sub(start)
	return HostHealth{Host: host, Reachable: true, Latency: latency, Err: err}
}

func stripUser(host string) string {
	for i := 0; i < len(host); i++ {
		if host[i] == '@' {
			return host[i+1:]
		}
	}
	return host
}

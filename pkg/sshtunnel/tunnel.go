package sshtunnel

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

const dialTimeout = 15 * time.Second

// Tunnel forwards a local port to a remote database endpoint over SSH.
// It remains individually usable after removal from the cache: connections
// already flowing through it keep working until Stop.
type Tunnel struct {
	id         uuid.UUID
	client     *ssh.Client
	listener   net.Listener
	remoteAddr string
	keepalive  time.Duration
	log        *slog.Logger

	active  atomic.Bool
	stopped chan struct{}
	stop    sync.Once
	wg      sync.WaitGroup
}

// open dials the SSH server, binds the local forwarding listener on an
// ephemeral port and starts the accept and keepalive loops.
func open(params forwardParams, log *slog.Logger) (*Tunnel, error) {
	auth, err := params.authMethods()
	if err != nil {
		return nil, err
	}

	clientConfig := &ssh.ClientConfig{
		User: params.Username,
		Auth: auth,
		// Bastion host keys are not part of the tunnel config; the tunnel
		// carries database traffic that is authenticated end to end.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	sshAddr := net.JoinHostPort(params.SSHHost, strconv.Itoa(params.SSHPort))
	client, err := ssh.Dial("tcp", sshAddr, clientConfig)
	if err != nil {
		return nil, errors.Join(ErrTunnelDial, err)
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(params.LocalBindHost, "0"))
	if err != nil {
		client.Close()
		return nil, errors.Join(ErrTunnelBind, err)
	}

	t := &Tunnel{
		id:         uuid.New(),
		client:     client,
		listener:   listener,
		remoteAddr: net.JoinHostPort(params.RemoteHost, strconv.Itoa(params.RemotePort)),
		keepalive:  time.Duration(params.KeepaliveSeconds) * time.Second,
		log:        log,
		stopped:    make(chan struct{}),
	}
	t.active.Store(true)

	t.wg.Add(1)
	go t.acceptLoop()
	if t.keepalive > 0 {
		t.wg.Add(1)
		go t.keepaliveLoop()
	}

	t.log.Info("ssh tunnel opened",
		slog.String("tunnel_id", t.id.String()),
		slog.String("local_addr", t.listener.Addr().String()))

	return t, nil
}

// ID identifies the tunnel instance in logs.
func (t *Tunnel) ID() uuid.UUID { return t.id }

// Active reports whether the tunnel is healthy. It flips to false when the
// keepalive probe or the local listener fails and never flips back; an
// inactive tunnel is replaced, not repaired.
func (t *Tunnel) Active() bool { return t.active.Load() }

// LocalAddr returns the host the forwarding listener is bound to.
func (t *Tunnel) LocalAddr() string {
	host, _, _ := net.SplitHostPort(t.listener.Addr().String())
	return host
}

// LocalPort returns the ephemeral port the forwarding listener is bound to.
func (t *Tunnel) LocalPort() int {
	return t.listener.Addr().(*net.TCPAddr).Port
}

// Stop closes the listener and the SSH connection. In-flight forwards are
// aborted by the closed client. Stop is idempotent and safe to call
// concurrently with forwarding.
func (t *Tunnel) Stop() error {
	var err error
	t.stop.Do(func() {
		t.active.Store(false)
		close(t.stopped)
		err = errors.Join(t.listener.Close(), t.client.Close())
		t.log.Info("ssh tunnel stopped", slog.String("tunnel_id", t.id.String()))
	})
	return err
}

func (t *Tunnel) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.stopped:
			default:
				t.active.Store(false)
				t.log.Warn("ssh tunnel listener failed",
					slog.String("tunnel_id", t.id.String()),
					slog.String("error", err.Error()))
			}
			return
		}
		t.wg.Add(1)
		go t.forward(conn)
	}
}

func (t *Tunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer local.Close()

	remote, err := t.client.Dial("tcp", t.remoteAddr)
	if err != nil {
		t.log.Warn("ssh tunnel failed to reach remote endpoint",
			slog.String("tunnel_id", t.id.String()),
			slog.String("error", err.Error()))
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(local, remote)
		done <- struct{}{}
	}()

	// Closing both ends once either direction finishes unblocks the other
	// copy; waiting for both avoids leaking the goroutines.
	<-done
	local.Close()
	remote.Close()
	<-done
}

func (t *Tunnel) keepaliveLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopped:
			return
		case <-ticker.C:
			if _, _, err := t.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				t.active.Store(false)
				t.log.Warn("ssh tunnel keepalive failed",
					slog.String("tunnel_id", t.id.String()),
					slog.String("error", err.Error()))
				return
			}
		}
	}
}

// String implements fmt.Stringer without exposing credentials.
func (t *Tunnel) String() string {
	return fmt.Sprintf("tunnel %s (%s -> %s)", t.id, t.listener.Addr(), t.remoteAddr)
}

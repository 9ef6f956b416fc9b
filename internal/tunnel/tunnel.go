// Package tunnel provides an optional SSH port forward for reaching the
// database through a bastion host. It listens on a loopback port and
// pipes every accepted connection to the remote database address over
// the SSH connection.
package tunnel

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"eventwatch/pkg/logx"
)

type Config struct {
	Host    string
	Port    int
	User    string
	KeyPath string

	RemoteHost string
	RemotePort int

	DialTimeout time.Duration // 0 means 15s
}

type Tunnel struct {
	client *ssh.Client
	ln     net.Listener
	log    logx.Logger

	remote string

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Open connects to the bastion and starts the local listener.
func Open(cfg Config, log logx.Logger) (*Tunnel, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("tunnel listen: %w", err)
	}

	t := &Tunnel{
		client: client,
		ln:     ln,
		log:    log,
		remote: net.JoinHostPort(cfg.RemoteHost, strconv.Itoa(cfg.RemotePort)),
	}
	t.wg.Add(1)
	go t.accept()

	log.Info("ssh tunnel established",
		logx.String("bastion", addr),
		logx.String("local", ln.Addr().String()),
		logx.String("remote", t.remote))
	return t, nil
}

// Addr returns the local listener host and port to point the DSN at.
func (t *Tunnel) Addr() (string, int) {
	tcp := t.ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", tcp.Port
}

func (t *Tunnel) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	_ = t.ln.Close()
	err := t.client.Close()
	t.wg.Wait()
	return err
}

func (t *Tunnel) accept() {
	defer t.wg.Done()
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.log.Warn("tunnel accept failed", logx.Err(err))
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

	remote, err := t.client.Dial("tcp", t.remote)
	if err != nil {
		t.log.Warn("tunnel remote dial failed", logx.String("remote", t.remote), logx.Err(err))
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
	<-done
}

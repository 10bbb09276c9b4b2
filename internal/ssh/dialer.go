// Package ssh establishes authenticated sessions to collection targets.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	xssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/cephdash/cephfetch/internal/credentials"
	"github.com/cephdash/cephfetch/internal/logging"
	"github.com/cephdash/cephfetch/internal/models"
)

const (
	defaultPort           = 22
	defaultConnectTimeout = 15 * time.Second
)

// DialerOption configures a Dialer.
type DialerOption func(*Dialer)

// WithPort sets the port used for addresses without one.
func WithPort(port int) DialerOption {
	return func(d *Dialer) {
		if port > 0 {
			d.port = port
		}
	}
}

// WithConnectTimeout bounds the TCP connect plus SSH handshake.
func WithConnectTimeout(timeout time.Duration) DialerOption {
	return func(d *Dialer) {
		if timeout > 0 {
			d.connectTimeout = timeout
		}
	}
}

// WithHostKeyCallback overrides host key verification.
func WithHostKeyCallback(callback xssh.HostKeyCallback) DialerOption {
	return func(d *Dialer) {
		if callback != nil {
			d.hostKeys = callback
		}
	}
}

// WithLogger sets the dialer logger.
func WithLogger(logger zerolog.Logger) DialerOption {
	return func(d *Dialer) {
		d.logger = logger
	}
}

// Dialer opens sessions using the run-wide credential material.
type Dialer struct {
	material       *credentials.Material
	port           int
	connectTimeout time.Duration
	hostKeys       xssh.HostKeyCallback
	logger         zerolog.Logger
}

// NewDialer creates a dialer. Without a host key callback every host key
// is accepted.
func NewDialer(material *credentials.Material, opts ...DialerOption) *Dialer {
	d := &Dialer{
		material:       material,
		port:           defaultPort,
		connectTimeout: defaultConnectTimeout,
		logger:         logging.Component("ssh"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.hostKeys == nil {
		d.hostKeys = xssh.InsecureIgnoreHostKey()
	}
	return d
}

// KnownHostsCallback loads a known_hosts file for host key verification.
func KnownHostsCallback(path string) (xssh.HostKeyCallback, error) {
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", path, err)
	}
	return callback, nil
}

// Address appends the default port to addresses that have none.
func Address(address string, port int) string {
	address = strings.TrimSpace(address)
	if port <= 0 {
		port = defaultPort
	}
	if host, p, err := net.SplitHostPort(address); err == nil && host != "" && p != "" {
		return address
	}
	host := strings.TrimSuffix(strings.TrimPrefix(address, "["), "]")
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Dial connects to target, authenticates, and opens the interactive shell.
// Cancelling ctx closes the transport.
func (d *Dialer) Dial(ctx context.Context, target models.Target) (*Session, error) {
	if strings.TrimSpace(target.Address) == "" {
		return nil, ErrMissingAddress
	}

	auth, err := d.material.AuthMethod()
	if err != nil {
		return nil, &credentials.CredentialError{KeyFile: d.material.KeyFile, Err: err}
	}

	addr := Address(target.Address, d.port)
	logger := logging.WithTarget(d.logger, target.Name, addr)

	config := &xssh.ClientConfig{
		User:            d.material.Username,
		Auth:            []xssh.AuthMethod{auth},
		HostKeyCallback: d.hostKeys,
		Timeout:         d.connectTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.connectTimeout)
	defer cancel()

	var netDialer net.Dialer
	conn, err := netDialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}

	stopWatch := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})

	_ = conn.SetDeadline(time.Now().Add(d.connectTimeout))
	clientConn, chans, reqs, err := xssh.NewClientConn(conn, addr, config)
	if err != nil {
		stopWatch()
		_ = conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	client := xssh.NewClient(clientConn, chans, reqs)
	session, err := openSession(client, stopWatch)
	if err != nil {
		stopWatch()
		_ = client.Close()
		if errors.Is(err, net.ErrClosed) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("open shell on %s: %w", addr, err)
	}

	logger.Debug().Msg("session established")
	return session, nil
}

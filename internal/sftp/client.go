package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	sftppkg "github.com/pkg/sftp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/sendinblue/tap-sftp/internal/gpg"
	"github.com/sendinblue/tap-sftp/internal/metrics"
)

// connectMaxRetries bounds reconnects after transient handshake
// failures; the first attempt plus retries gives six attempts total.
const connectMaxRetries = 5

// dialer establishes the SSH transport and opens the SFTP subsystem.
type dialer func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (remoteFS, error)

// Client manages one SFTP session. Connection setup is lazy: operations
// return ErrNotConnected until EnsureConnected has succeeded. A Client
// is not safe for concurrent use; parallel workers each own one.
type Client struct {
	host     string
	port     int
	username string
	password string
	signer   ssh.Signer

	dialTimeout   time.Duration
	retryInterval time.Duration
	logger        *zap.Logger

	dial   dialer
	fs     remoteFS
	active bool

	decryptor *gpg.Decryptor
	decrypted io.Closer
}

// NewClient builds a client from a normalized connection config. The
// private key file, when configured, is read and parsed eagerly so bad
// credentials fail before any network traffic.
func NewClient(config map[string]string, logger *zap.Logger) (*Client, error) {
	port := 22
	if p := config["port"]; p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", p, err)
		}
		port = parsed
	}

	dialTimeout := 30 * time.Second
	if t := config["connect_timeout"]; t != "" {
		parsed, err := time.ParseDuration(t)
		if err != nil {
			return nil, fmt.Errorf("invalid connect_timeout %q: %w", t, err)
		}
		dialTimeout = parsed
	}

	client := &Client{
		host:          config["host"],
		port:          port,
		username:      config["username"],
		password:      config["password"],
		dialTimeout:   dialTimeout,
		retryInterval: time.Second,
		logger:        logger,
		dial:          dialSFTP,
		decryptor:     gpg.NewDecryptor(logger),
	}

	if keyFile := config["private_key_file"]; keyFile != "" {
		keyPath, err := expandHome(keyFile)
		if err != nil {
			return nil, err
		}
		keyBytes, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		client.signer = signer
	}

	return client, nil
}

// EnsureConnected establishes the session if one is not already active.
// A connection reset before the handshake completes is retried with
// exponential backoff. Calling it on an active client is a no-op.
func (c *Client) EnsureConnected(ctx context.Context) error {
	if c.active {
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	attempt := func() error {
		fs, err := c.connectOnce(ctx)
		if err != nil {
			if isTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		c.fs = fs
		c.active = true
		return nil
	}

	notify := func(err error, wait time.Duration) {
		metrics.ConnectionRetriesTotal.WithLabelValues(c.host).Inc()
		c.logger.Warn("SSH connection closed unexpectedly, waiting and retrying",
			zap.Duration("wait", wait),
			zap.String("host", c.host),
			zap.Error(err))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, connectMaxRetries), ctx)
	if err := backoff.RetryNotify(attempt, policy, notify); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.addr(), err)
	}
	return nil
}

// connectOnce performs a single connection attempt. When key
// authentication is rejected it falls back to password-only auth one
// time; transient transport failures propagate to the retry loop
// instead.
func (c *Client) connectOnce(ctx context.Context) (remoteFS, error) {
	fs, err := c.dial(ctx, c.addr(), c.sshConfig(c.authMethods()))
	if err == nil {
		return fs, nil
	}
	if c.signer == nil || c.password == "" || isTransient(err) {
		return nil, err
	}

	c.logger.Warn("Key authentication failed, retrying with password only",
		zap.String("host", c.host),
		zap.Error(err))

	fs, err = c.dial(ctx, c.addr(), c.sshConfig([]ssh.AuthMethod{ssh.Password(c.password)}))
	if err != nil {
		return nil, err
	}
	return fs, nil
}

func (c *Client) authMethods() []ssh.AuthMethod {
	var auths []ssh.AuthMethod
	if c.signer != nil {
		auths = append(auths, ssh.PublicKeys(c.signer))
	}
	if c.password != "" {
		auths = append(auths, ssh.Password(c.password))
	}
	return auths
}

func (c *Client) sshConfig(auths []ssh.AuthMethod) *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User: c.username,
		Auth: auths,
		// Host keys are not verified; the server is trusted by
		// configuration.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.dialTimeout,
	}
}

func (c *Client) addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// Ping verifies the session is usable by resolving the remote working
// directory.
func (c *Client) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.active {
		return ErrNotConnected
	}
	if _, err := c.fs.RealPath("."); err != nil {
		return fmt.Errorf("failed to ping sftp server: %w", err)
	}
	return nil
}

// ReadDir lists the immediate children of path on the remote server.
func (c *Client) ReadDir(ctx context.Context, path string) ([]os.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.active {
		return nil, ErrNotConnected
	}
	infos, err := c.fs.ReadDir(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &DirNotFoundError{Path: path}
		}
		return nil, fmt.Errorf("failed to list %s: %w", path, err)
	}
	return infos, nil
}

// Open opens a remote file for reading.
func (c *Client) Open(ctx context.Context, path string) (File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.active {
		return nil, ErrNotConnected
	}
	f, err := c.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

// OpenDecrypted opens a remote file and pipes it through the external
// decryption tool into a fresh temp directory. The plaintext handle is
// tracked on the client so its temp files are released on Close even if
// the caller never finishes reading. At most one decrypted handle is
// kept; opening another closes the previous one.
func (c *Client) OpenDecrypted(ctx context.Context, path string, cfg gpg.Config) (File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.active {
		return nil, ErrNotConnected
	}

	c.logger.Info("Decrypting file", zap.String("path", path))

	src, err := c.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer src.Close()

	dir, err := os.MkdirTemp("", "tap-sftp-decrypt-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	plainPath, err := c.decryptor.Decrypt(ctx, src, dir, path, cfg)
	if err != nil {
		os.RemoveAll(dir)
		metrics.DecryptionsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	plain, err := os.Open(plainPath)
	if err != nil {
		os.RemoveAll(dir)
		metrics.DecryptionsTotal.WithLabelValues("failure").Inc()
		if os.IsNotExist(err) {
			return nil, &gpg.DecryptError{Path: path}
		}
		return nil, fmt.Errorf("failed to open decrypted output for %s: %w", path, err)
	}
	metrics.DecryptionsTotal.WithLabelValues("success").Inc()

	if c.decrypted != nil {
		c.decrypted.Close()
	}
	handle := &decryptedFile{File: plain, dir: dir}
	c.decrypted = handle
	return handle, nil
}

// Close tears down the session and removes any decrypted temp files.
// It is safe to call repeatedly and on a client that never connected.
func (c *Client) Close() error {
	var err error
	if c.active {
		err = multierr.Append(err, c.fs.Close())
		c.fs = nil
		c.active = false
	}
	if c.decrypted != nil {
		err = multierr.Append(err, c.decrypted.Close())
		c.decrypted = nil
	}
	return err
}

// decryptedFile keeps the temp directory alive for as long as the
// plaintext handle is open.
type decryptedFile struct {
	*os.File
	dir    string
	closed bool
}

func (d *decryptedFile) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return multierr.Append(d.File.Close(), os.RemoveAll(d.dir))
}

// isTransient reports whether the connection dropped before the
// handshake completed, the one condition worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.HasSuffix(msg, "EOF")
}

func expandHome(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
	}
	return p, nil
}

// dialSFTP opens the TCP connection, runs the SSH handshake, and
// starts the SFTP subsystem.
func dialSFTP(ctx context.Context, addr string, cfg *ssh.ClientConfig) (remoteFS, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	ftp, err := sftppkg.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("failed to start sftp subsystem: %w", err)
	}
	return &sftpFS{ssh: sshClient, ftp: ftp}, nil
}

// sftpFS adapts the sftp package client to the remoteFS interface.
type sftpFS struct {
	ssh *ssh.Client
	ftp *sftppkg.Client
}

func (s *sftpFS) ReadDir(path string) ([]os.FileInfo, error) {
	return s.ftp.ReadDir(path)
}

func (s *sftpFS) Open(path string) (File, error) {
	return s.ftp.Open(path)
}

func (s *sftpFS) RealPath(path string) (string, error) {
	return s.ftp.RealPath(path)
}

func (s *sftpFS) Close() error {
	return multierr.Append(s.ftp.Close(), s.ssh.Close())
}

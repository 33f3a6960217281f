package xfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path"
	"strconv"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// sftpTransport drives github.com/pkg/sftp over an SSH connection from
// golang.org/x/crypto/ssh. SFTP has no server-side working directory, so
// the transport keeps one.
type sftpTransport struct {
	logger *slog.Logger
	ssh    *ssh.Client
	client *sftp.Client
	cwd    string
}

func newSFTPTransport(logger *slog.Logger) Transport {
	return &sftpTransport{logger: logger}
}

func (s *sftpTransport) Connect(ctx context.Context, cfg *Config) error {
	clientCfg, err := sshClientConfig(cfg)
	if err != nil {
		return err
	}

	addr := cfg.Address()
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	// The handshake does not take a context; bound it with a deadline.
	deadline := time.Now().Add(cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	stopped := stop()
	if err != nil {
		conn.Close()
		return err
	}
	if !stopped {
		c.Close()
		return ctx.Err()
	}
	_ = conn.SetDeadline(time.Time{})
	sshClient := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return fmt.Errorf("open sftp subsystem: %w", err)
	}
	s.ssh = sshClient

	if err := s.attach(client, cfg.Path); err != nil {
		_ = s.Close()
		return err
	}
	s.logger.Debug("sftp subsystem ready", "addr", addr, "cwd", s.cwd)
	return nil
}

// attach starts using client with dir, or the login directory when dir is
// empty, as working directory.
func (s *sftpTransport) attach(client *sftp.Client, dir string) error {
	s.client = client
	if dir == "" {
		wd, err := client.Getwd()
		if err != nil {
			return err
		}
		s.cwd = wd
		return nil
	}
	_, err := s.ChangeDir(dir)
	return err
}

func sshClientConfig(cfg *Config) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if cfg.PrivateKeyFile != "" {
		key, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		var signer ssh.Signer
		if cfg.Password != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(cfg.Password))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	} else if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}

	hostKey := cfg.HostKeyCallback
	if hostKey == nil && cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKey = cb
	}
	if hostKey == nil {
		hostKey = ssh.InsecureIgnoreHostKey() //nolint:gosec // no known_hosts configured
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         cfg.Timeout,
	}, nil
}

// Close releases the SFTP session and the SSH connection under it.
func (s *sftpTransport) Close() error {
	var result *multierror.Error
	if s.client != nil {
		if err := s.client.Close(); err != nil && !errors.Is(err, io.EOF) {
			result = multierror.Append(result, fmt.Errorf("sftp: %w", err))
		}
		s.client = nil
	}
	if s.ssh != nil {
		if err := s.ssh.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("ssh: %w", err))
		}
		s.ssh = nil
	}
	return result.ErrorOrNil()
}

func (s *sftpTransport) ChangeDir(p string) (string, error) {
	fi, err := s.client.Stat(p)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("%s: %w", p, syscall.ENOTDIR)
	}
	s.cwd = path.Clean(p)
	return s.cwd, nil
}

func (s *sftpTransport) CurrentDir() (string, error) {
	return s.cwd, nil
}

func (s *sftpTransport) List(dir string) ([]DirectoryEntry, error) {
	infos, err := s.client.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	entries := make([]DirectoryEntry, 0, len(infos))
	for _, fi := range infos {
		e := entryFromFileInfo(fi)
		if st, ok := fi.Sys().(*sftp.FileStat); ok {
			e.Owner = strconv.FormatUint(uint64(st.UID), 10)
			e.Group = strconv.FormatUint(uint64(st.GID), 10)
		}
		if e.Type == TypeLink {
			if target, err := s.client.ReadLink(path.Join(dir, fi.Name())); err == nil {
				e.Target = target
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *sftpTransport) Exists(p string) (bool, error) {
	_, err := s.client.Lstat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	var se *sftp.StatusError
	if errors.As(err, &se) && se.Code == uint32(sftp.ErrSSHFxNoSuchFile) {
		return false, nil
	}
	return false, err
}

func (s *sftpTransport) MakeDir(p string) error {
	return s.client.Mkdir(p)
}

func (s *sftpTransport) Remove(p string) error {
	fi, err := s.client.Lstat(p)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return s.client.RemoveAll(p)
	}
	return s.client.Remove(p)
}

func (s *sftpTransport) Rename(from, to string) error {
	return s.client.Rename(from, to)
}

func (s *sftpTransport) Store(p string, r io.Reader) error {
	f, err := s.client.Create(p)
	if err != nil {
		return err
	}
	if _, err := f.ReadFrom(r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *sftpTransport) Retrieve(p string, w io.Writer) (int64, error) {
	f, err := s.client.Open(p)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.WriteTo(w)
}

func (s *sftpTransport) Size(p string) (int64, error) {
	fi, err := s.client.Stat(p)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (s *sftpTransport) Noop() error {
	_, err := s.client.Getwd()
	return err
}

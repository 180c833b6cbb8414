package location

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/neo154/afkrun/internal/backoff"
)

// statCacheSize bounds the per-dialer directory-listing stat cache primed
// by IterLocation. It is a soft secondary cache only: the authoritative
// per-Location stat (r.stat) is still invalidated by every mutating
// operation exactly as before, regardless of what this cache holds.
const statCacheSize = 512

// SSHConfig describes how to reach and authenticate to the host backing a
// RemoteFile tree. Host keys are verified against KnownHostsFile when set;
// leaving it blank is only appropriate for throwaway/test environments.
type SSHConfig struct {
	Host           string
	Port           int
	User           string
	PrivateKeyPath string
	Password       string
	KnownHostsFile string
	DialTimeout    time.Duration
}

func (c SSHConfig) addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", port))
}

// sshDialer opens SFTP sessions against one remote host, retrying
// transient dial/session failures with the generic backoff policy.
type sshDialer struct {
	cfg       SSHConfig
	retry     backoff.RetryPolicy
	statCache *lru.Cache[string, os.FileInfo]
}

func newSSHDialer(cfg SSHConfig) *sshDialer {
	policy := backoff.NewExponentialBackoffPolicy(100 * time.Millisecond)
	policy.MaxInterval = 5 * time.Second
	policy.MaxRetries = 4
	cache, _ := lru.New[string, os.FileInfo](statCacheSize)
	return &sshDialer{cfg: cfg, retry: policy, statCache: cache}
}

func (d *sshDialer) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if d.cfg.KnownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return knownHostsCallback(d.cfg.KnownHostsFile)
}

func (d *sshDialer) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if d.cfg.PrivateKeyPath != "" {
		key, err := os.ReadFile(d.cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("location: read private key %s: %w", d.cfg.PrivateKeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("location: parse private key %s: %w", d.cfg.PrivateKeyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if d.cfg.Password != "" {
		methods = append(methods, ssh.Password(d.cfg.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("location: no SSH auth method configured for host %s", d.cfg.Host)
	}
	return methods, nil
}

// session is one live SSH connection plus its SFTP client. Short-lived:
// opened for a single Location operation and closed immediately after.
type session struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (s *session) Close() {
	if s.sftp != nil {
		_ = s.sftp.Close()
	}
	if s.ssh != nil {
		_ = s.ssh.Close()
	}
}

func (d *sshDialer) dial(ctx context.Context) (*session, error) {
	hostKeyCB, err := d.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	auth, err := d.authMethods()
	if err != nil {
		return nil, err
	}

	timeout := d.cfg.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	clientCfg := &ssh.ClientConfig{
		User:            d.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCB,
		Timeout:         timeout,
	}

	retrier := backoff.NewRetrier(d.retry)
	for {
		conn, dialErr := ssh.Dial("tcp", d.cfg.addr(), clientCfg)
		if dialErr == nil {
			sftpClient, sftpErr := sftp.NewClient(conn)
			if sftpErr == nil {
				return &session{ssh: conn, sftp: sftpClient}, nil
			}
			_ = conn.Close()
			dialErr = sftpErr
		}
		if waitErr := retrier.Next(ctx, dialErr); waitErr != nil {
			return nil, fmt.Errorf("location: connect to %s: %w", d.cfg.addr(), dialErr)
		}
	}
}

// RemoteFile is a Location backed by an SFTP session to a remote host.
type RemoteFile struct {
	dialer  *sshDialer
	absPath string
	name    string
	stat    os.FileInfo
}

var _ Location = (*RemoteFile)(nil)

// NewRemoteFile returns a Location addressing path on the host described
// by cfg.
func NewRemoteFile(cfg SSHConfig, remotePath string) *RemoteFile {
	clean := path.Clean(remotePath)
	return &RemoteFile{
		dialer:  newSSHDialer(cfg),
		absPath: clean,
		name:    path.Base(clean),
	}
}

func newRemoteFileShared(dialer *sshDialer, remotePath string) *RemoteFile {
	clean := path.Clean(remotePath)
	return &RemoteFile{dialer: dialer, absPath: clean, name: path.Base(clean)}
}

func (r *RemoteFile) AbsolutePath() string { return r.absPath }
func (r *RemoteFile) Name() string         { return r.name }
func (r *RemoteFile) SetName(newName string) {
	r.name = newName
	r.absPath = path.Join(path.Dir(r.absPath), newName)
}
func (r *RemoteFile) StorageType() string { return "remote" }

func (r *RemoteFile) Parent() Location {
	return newRemoteFileShared(r.dialer, path.Dir(r.absPath))
}

func (r *RemoteFile) hostID() string { return r.dialer.cfg.Host }

func (r *RemoteFile) MTime() (time.Time, error) {
	if r.stat == nil {
		return time.Time{}, fmt.Errorf("location: %s: no stat info, call Exists first", r.absPath)
	}
	return r.stat.ModTime(), nil
}

func (r *RemoteFile) ATime() (time.Time, error) {
	// SFTP attrs carry atime, but os.FileInfo doesn't expose it uniformly;
	// mtime is the best available approximation over this interface.
	return r.MTime()
}

func (r *RemoteFile) Size() (int64, error) {
	if r.stat == nil {
		return 0, fmt.Errorf("location: %s: no stat info, call Exists first", r.absPath)
	}
	return r.stat.Size(), nil
}

func (r *RemoteFile) withSession(ctx context.Context, fn func(*sftp.Client) error) error {
	sess, err := r.dialer.dial(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	return fn(sess.sftp)
}

func (r *RemoteFile) Exists(ctx context.Context) (bool, error) {
	if cached, ok := r.dialer.statCache.Get(r.absPath); ok {
		r.stat = cached
		r.dialer.statCache.Remove(r.absPath)
		return true, nil
	}
	var found bool
	err := r.withSession(ctx, func(c *sftp.Client) error {
		info, statErr := c.Stat(r.absPath)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				r.stat = nil
				return nil
			}
			return fmt.Errorf("location: stat %s: %w", r.absPath, statErr)
		}
		r.stat = info
		found = true
		return nil
	})
	return found, err
}

func (r *RemoteFile) IsDir(ctx context.Context) (bool, error) {
	ok, err := r.Exists(ctx)
	if err != nil || !ok {
		return false, err
	}
	return r.stat.IsDir(), nil
}

func (r *RemoteFile) IsFile(ctx context.Context) (bool, error) {
	ok, err := r.Exists(ctx)
	if err != nil || !ok {
		return false, err
	}
	return r.stat.Mode().IsRegular(), nil
}

func (r *RemoteFile) ForceRefreshStat(ctx context.Context) error {
	return r.withSession(ctx, func(c *sftp.Client) error {
		info, err := c.Stat(r.absPath)
		if err != nil {
			return fmt.Errorf("location: stat %s: %w", r.absPath, err)
		}
		r.stat = info
		return nil
	})
}

func (r *RemoteFile) Read(ctx context.Context) ([]byte, error) {
	var data []byte
	err := r.withSession(ctx, func(c *sftp.Client) error {
		f, err := c.Open(r.absPath)
		if err != nil {
			return fmt.Errorf("location: open %s for read: %w", r.absPath, err)
		}
		defer func() { _ = f.Close() }()
		data, err = io.ReadAll(f)
		return err
	})
	return data, err
}

// remoteHandle adapts a long-lived SFTP session (plus the file it opened)
// to ReadWriteSeekCloser, closing the whole session on Close.
type remoteHandle struct {
	sess *session
	file *sftp.File
}

func (h *remoteHandle) Read(p []byte) (int, error)  { return h.file.Read(p) }
func (h *remoteHandle) Write(p []byte) (int, error) { return h.file.Write(p) }
func (h *remoteHandle) Seek(offset int64, whence int) (int64, error) {
	return h.file.Seek(offset, whence)
}
func (h *remoteHandle) Truncate(size int64) error { return h.file.Truncate(size) }
func (h *remoteHandle) Close() error {
	err := h.file.Close()
	h.sess.Close()
	return err
}

func (r *RemoteFile) Open(ctx context.Context, mode OpenMode) (ReadWriteSeekCloser, error) {
	sess, err := r.dialer.dial(ctx)
	if err != nil {
		return nil, err
	}

	var flags int
	switch mode {
	case ModeRead:
		flags = os.O_RDONLY
	case ModeWrite:
		flags = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	case ModeAppend:
		flags = os.O_RDWR | os.O_CREATE | os.O_APPEND
	case ModeReadWrite:
		flags = os.O_RDWR | os.O_CREATE
	default:
		sess.Close()
		return nil, fmt.Errorf("location: unsupported open mode %d", mode)
	}

	f, err := sess.sftp.OpenFile(r.absPath, flags)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("location: open %s: %w", r.absPath, err)
	}
	return &remoteHandle{sess: sess, file: f}, nil
}

func (r *RemoteFile) Touch(ctx context.Context, existOK bool, parents bool) error {
	exists, err := r.Exists(ctx)
	if err != nil {
		return err
	}
	if exists && !existOK {
		return fmt.Errorf("location: %s: already exists", r.absPath)
	}
	return r.withSession(ctx, func(c *sftp.Client) error {
		if parents {
			if err := c.MkdirAll(path.Dir(r.absPath)); err != nil {
				return fmt.Errorf("location: create parents for %s: %w", r.absPath, err)
			}
		}
		f, err := c.OpenFile(r.absPath, os.O_CREATE|os.O_APPEND)
		if err != nil {
			return fmt.Errorf("location: touch %s: %w", r.absPath, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		info, err := c.Stat(r.absPath)
		if err != nil {
			return err
		}
		r.stat = info
		return nil
	})
}

func (r *RemoteFile) Mkdir(ctx context.Context, parents bool) error {
	return r.withSession(ctx, func(c *sftp.Client) error {
		var err error
		if parents {
			err = c.MkdirAll(r.absPath)
		} else {
			err = c.Mkdir(r.absPath)
		}
		if err != nil {
			return fmt.Errorf("location: mkdir %s: %w", r.absPath, err)
		}
		info, statErr := c.Stat(r.absPath)
		if statErr != nil {
			return statErr
		}
		r.stat = info
		return nil
	})
}

func (r *RemoteFile) Delete(ctx context.Context, missingOK bool, recursive bool) error {
	exists, err := r.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		if missingOK {
			return nil
		}
		return fmt.Errorf("location: %s: does not exist", r.absPath)
	}
	return r.withSession(ctx, func(c *sftp.Client) error {
		if err := recurseDelete(c, r.absPath, recursive); err != nil {
			return fmt.Errorf("location: delete %s: %w", r.absPath, err)
		}
		r.stat = nil
		r.dialer.statCache.Remove(r.absPath)
		return nil
	})
}

func recurseDelete(c *sftp.Client, p string, recursive bool) error {
	info, err := c.Stat(p)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return c.Remove(p)
	}
	if !recursive {
		return c.RemoveDirectory(p)
	}
	entries, err := c.ReadDir(p)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := recurseDelete(c, path.Join(p, entry.Name()), true); err != nil {
			return err
		}
	}
	return c.RemoveDirectory(p)
}

func (r *RemoteFile) Move(ctx context.Context, other Location) error {
	if otherRemote, ok := other.(*RemoteFile); ok && otherRemote.hostID() == r.hostID() {
		return r.withSession(ctx, func(c *sftp.Client) error {
			if err := c.Rename(r.absPath, other.AbsolutePath()); err != nil {
				return fmt.Errorf("location: move %s to %s: %w", r.absPath, other.AbsolutePath(), err)
			}
			r.stat = nil
			return nil
		})
	}
	if err := r.Copy(ctx, other); err != nil {
		return err
	}
	return r.Delete(ctx, false, true)
}

func (r *RemoteFile) Copy(ctx context.Context, other Location) error {
	isDir, err := r.IsDir(ctx)
	if err != nil {
		return err
	}
	if isDir {
		if err := other.Mkdir(ctx, true); err != nil {
			return err
		}
		children, err := r.IterLocation(ctx)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := child.Copy(ctx, other.JoinLoc(child.Name())); err != nil {
				return err
			}
		}
		return nil
	}

	src, err := r.Open(ctx, ModeRead)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := other.Open(ctx, ModeWrite)
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("location: copy %s to %s: %w", r.absPath, other.AbsolutePath(), err)
	}
	return nil
}

func (r *RemoteFile) Rotate(ctx context.Context) error {
	counter := 0
	for {
		candidateName := fmt.Sprintf("%s.old%d", r.absPath, counter)
		candidate := newRemoteFileShared(r.dialer, candidateName)
		exists, err := candidate.Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return r.Move(ctx, candidate)
		}
		counter++
	}
}

func (r *RemoteFile) JoinLoc(child string) Location {
	return newRemoteFileShared(r.dialer, path.Join(r.absPath, child))
}

func (r *RemoteFile) IterLocation(ctx context.Context) ([]Location, error) {
	isDir, err := r.IsDir(ctx)
	if err != nil {
		return nil, err
	}
	if !isDir {
		return nil, fmt.Errorf("location: %s: not a directory", r.absPath)
	}
	var out []Location
	err = r.withSession(ctx, func(c *sftp.Client) error {
		entries, err := c.ReadDir(r.absPath)
		if err != nil {
			return fmt.Errorf("location: list %s: %w", r.absPath, err)
		}
		for _, entry := range entries {
			childPath := path.Join(r.absPath, entry.Name())
			child := newRemoteFileShared(r.dialer, childPath)
			child.stat = entry
			r.dialer.statCache.Add(childPath, entry)
			out = append(out, child)
		}
		return nil
	})
	return out, err
}

func (r *RemoteFile) SyncLocations(ctx context.Context, src Location, useMetadata bool, fullHashCheck bool) error {
	return syncLocationsGeneric(ctx, r, src, useMetadata, fullHashCheck)
}

func (r *RemoteFile) ToDict() map[string]any {
	return map[string]any{
		"storage_type": r.StorageType(),
		"path_ref":     r.absPath,
		"host":         r.dialer.cfg.Host,
		"port":         r.dialer.cfg.Port,
		"user":         r.dialer.cfg.User,
	}
}

func knownHostsCallback(path string) (ssh.HostKeyCallback, error) {
	return buildKnownHostsCallback(path)
}

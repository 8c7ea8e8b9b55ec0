package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/lox/fissure/internal/config"
	"github.com/lox/fissure/internal/metrics"
)

type ftpConn interface {
	Login(user, password string) error
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(path string) (io.ReadCloser, error) {
	resp, err := c.ServerConn.Retr(path)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Fetcher copies the logger's measurement file to the local path, keeping a
// dated backup of the previous copy.
type Fetcher struct {
	cfg    config.Fetch
	clock  clockwork.Clock
	logger *zap.SugaredLogger

	dial            func(ctx context.Context) (ftpConn, error)
	initialInterval time.Duration
}

type FetchResult struct {
	LocalPath  string
	BackupPath string // empty when no backup was taken
	Bytes      int64
}

func NewFetcher(cfg config.Fetch, clock clockwork.Clock, logger *zap.SugaredLogger) *Fetcher {
	f := &Fetcher{
		cfg:             cfg,
		clock:           clock,
		logger:          logger.Named("fetch"),
		initialInterval: backoff.DefaultInitialInterval,
	}
	f.dial = func(ctx context.Context) (ftpConn, error) {
		conn, err := ftp.Dial(cfg.Host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(cfg.Timeout))
		if err != nil {
			return nil, err
		}
		return serverConn{conn}, nil
	}
	return f
}

// BackupPath names the backup after the previous day, the last full day the
// local copy covers.
func (f *Fetcher) BackupPath() string {
	yesterday := f.clock.Now().AddDate(0, 0, -1).Format("2006-01-02")
	return filepath.Join(filepath.Dir(f.cfg.LocalPath), fmt.Sprintf("measurements_%s.csv", yesterday))
}

func (f *Fetcher) Fetch(ctx context.Context) (FetchResult, error) {
	res := FetchResult{LocalPath: f.cfg.LocalPath}
	if err := f.cfg.Validate(); err != nil {
		return res, fmt.Errorf("fetch config: %w", err)
	}

	if f.cfg.Backup {
		backup, err := f.backup()
		if err != nil {
			return res, err
		}
		res.BackupPath = backup
	}

	start := f.clock.Now()
	operation := func() error {
		n, err := f.retrieve(ctx)
		if err != nil {
			metrics.FetchAttempts.WithLabelValues("error").Inc()
			f.logger.Warnf("retrieve %s from %s: %v", f.cfg.RemotePath, f.cfg.Host, err)
			return err
		}
		metrics.FetchAttempts.WithLabelValues("ok").Inc()
		res.Bytes = n
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.initialInterval
	bo.MaxElapsedTime = f.cfg.MaxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return res, fmt.Errorf("fetch %s: %w", f.cfg.RemotePath, err)
	}
	metrics.FetchLatency.Observe(f.clock.Since(start).Seconds())

	f.logger.Infof("fetched %s -> %s (%d bytes)", f.cfg.RemotePath, f.cfg.LocalPath, res.Bytes)
	return res, nil
}

func (f *Fetcher) backup() (string, error) {
	info, err := os.Stat(f.cfg.LocalPath)
	if errors.Is(err, os.ErrNotExist) {
		f.logger.Infof("no local file at %s, skipping backup", f.cfg.LocalPath)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stat local file: %w", err)
	}

	dst := f.BackupPath()
	if err := copyFile(f.cfg.LocalPath, dst, info); err != nil {
		return "", fmt.Errorf("backup %s: %w", f.cfg.LocalPath, err)
	}
	f.logger.Infof("backed up %s -> %s", f.cfg.LocalPath, dst)
	return dst, nil
}

// retrieve downloads into a temp file beside the destination and renames it
// into place, so a failed transfer never truncates the local copy.
func (f *Fetcher) retrieve(ctx context.Context) (int64, error) {
	conn, err := f.dial(ctx)
	if err != nil {
		return 0, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(f.cfg.User, f.cfg.Password); err != nil {
		return 0, permanentIf(fmt.Errorf("ftp login: %w", err), ftp.StatusNotLoggedIn)
	}

	resp, err := conn.Retr(f.cfg.RemotePath)
	if err != nil {
		return 0, permanentIf(fmt.Errorf("ftp retr: %w", err), ftp.StatusFileUnavailable)
	}
	defer resp.Close()

	tmp, err := os.CreateTemp(filepath.Dir(f.cfg.LocalPath), ".fetch-*")
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("create temp file: %w", err))
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.cfg.LocalPath); err != nil {
		return 0, backoff.Permanent(fmt.Errorf("replace local file: %w", err))
	}
	return n, nil
}

// permanentIf stops retrying when the server answered with one of codes.
func permanentIf(err error, codes ...int) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		for _, c := range codes {
			if protoErr.Code == c {
				return backoff.Permanent(err)
			}
		}
	}
	return err
}

func copyFile(src, dst string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

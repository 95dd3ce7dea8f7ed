// Package coordinator guarantees that at most one tick runs at a time on a
// host.
//
// A lease is an exclusive flock on the lock file plus a JSON token naming the
// holder (pid, hostname, acquisition time, run id). The kernel drops the
// flock when its process dies, so a held flock always means a live holder.
// A token left behind by a crashed run is reported as recovered by the next
// invocation that wins the flock.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning reports that a live process holds the lease.
var ErrAlreadyRunning = errors.New("another photoner tick is already running")

// Token identifies the lease holder.
type Token struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
	RunID      string    `json:"run_id"`
}

// Empty reports whether the token carries no holder.
func (t Token) Empty() bool { return t.PID == 0 }

func (t Token) sameHolder(o Token) bool {
	return t.PID == o.PID && t.Hostname == o.Hostname && t.RunID == o.RunID && t.AcquiredAt.Equal(o.AcquiredAt)
}

// HeldError carries the token found behind ErrAlreadyRunning. The flock is
// authoritative: Stale only notes that the token names a dead process, which
// happens while a new holder has locked but not yet written its own token.
type HeldError struct {
	Holder Token
	Stale  bool
}

func (e *HeldError) Error() string {
	if e.Holder.Empty() {
		return ErrAlreadyRunning.Error()
	}
	msg := fmt.Sprintf("%s (pid %d on %s since %s, run %s)", ErrAlreadyRunning, e.Holder.PID, e.Holder.Hostname,
		e.Holder.AcquiredAt.Local().Format(time.DateTime), e.Holder.RunID)
	if e.Stale {
		msg += "; token is stale, holder is still starting"
	}
	return msg
}

func (e *HeldError) Unwrap() error { return ErrAlreadyRunning }

// Lease is a held exclusive lock. Release it exactly once via defer; extra
// calls are no-ops.
type Lease struct {
	path  string
	lock  *flock.Flock
	token Token
	// Recovered is the stale token that was taken over, if any.
	Recovered *Token

	once sync.Once
	err  error
}

// Token returns the holder identity written for this lease.
func (l *Lease) Token() Token { return l.token }

// Path returns the lock file location.
func (l *Lease) Path() string { return l.path }

// Release clears the token and unlocks.
func (l *Lease) Release() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		var errs []error
		if current, err := readToken(l.path); err == nil && current.sameHolder(l.token) {
			if err := os.Truncate(l.path, 0); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("clear lease token: %w", err))
			}
		}
		if err := l.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("unlock lease: %w", err))
		}
		l.err = errors.Join(errs...)
	})
	return l.err
}

// Acquire takes the lease at path without blocking.
func Acquire(path, runID string) (*Lease, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return tryAcquire(path, runID)
}

func tryAcquire(path, runID string) (*Lease, error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		holder, _ := readToken(path)
		return nil, &HeldError{Holder: holder, Stale: !holder.Empty() && !Alive(holder)}
	}

	lease := &Lease{path: path, lock: lock}
	if previous, err := readToken(path); err == nil && !previous.Empty() {
		stale := previous
		lease.Recovered = &stale
	}

	hostname, _ := os.Hostname()
	lease.token = Token{
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now().UTC().Truncate(time.Second),
		RunID:      strings.TrimSpace(runID),
	}
	if err := writeToken(path, lease.token); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return lease, nil
}

// RunExclusive acquires the lease, runs fn once, and releases the lease on
// every exit path.
func RunExclusive(ctx context.Context, path, runID string, fn func(ctx context.Context, lease *Lease) error) (err error) {
	lease, err := Acquire(path, runID)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := lease.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn(ctx, lease)
}

// Holder is a read-only view of the lease state.
type Holder struct {
	Token Token
	// Held reports whether some process currently holds the flock.
	Held bool
	// Stale is set when a token names a process that no longer exists.
	Stale bool
}

// Inspect reports the current lease state without taking it over.
func Inspect(path string) (Holder, error) {
	token, err := readToken(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Holder{}, nil
		}
		return Holder{}, err
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return Holder{}, fmt.Errorf("test lock: %w", err)
	}
	if ok {
		_ = lock.Unlock()
	}
	h := Holder{Token: token, Held: !ok}
	h.Stale = !token.Empty() && !Alive(token)
	return h, nil
}

// Alive reports whether the process named by t still exists. Tokens from
// another host cannot be checked and are assumed alive.
func Alive(t Token) bool {
	if t.PID <= 0 {
		return false
	}
	if hostname, err := os.Hostname(); err == nil && t.Hostname != "" && t.Hostname != hostname {
		return true
	}
	err := unix.Kill(t.PID, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func readToken(path string) (Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Token{}, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return Token{}, nil
	}
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return Token{}, fmt.Errorf("parse lease token: %w", err)
	}
	return t, nil
}

func writeToken(path string, t Token) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode lease token: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write lease token: %w", err)
	}
	return nil
}

package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/apolo-dex/smartlink/core"
	"github.com/apolo-dex/smartlink/ports"
	"github.com/jpillora/backoff"
)

// AssertionHandler consumes an identity assertion delivered by the widget
type AssertionHandler func(ctx context.Context, a core.Assertion) error

// RetryPolicy bounds the wait for a mount point that is not on the page yet
type RetryPolicy struct {
	Attempts int
	Interval time.Duration
}

// DefaultRetryPolicy waits up to two seconds
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 20, Interval: 100 * time.Millisecond}
}

// Bridge owns the identity widget: the single callback slot it reports
// into, and the injection of its button into the host page.
type Bridge struct {
	host    ports.WidgetHost
	button  core.Element
	mountID string
	retry   RetryPolicy
	logger  *slog.Logger

	mu      sync.Mutex
	handler AssertionHandler

	injectMu sync.Mutex
}

// NewBridge creates a bridge that injects button into mount point mountID of host
func NewBridge(host ports.WidgetHost, button core.Element, mountID string, retry RetryPolicy, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if retry.Attempts <= 0 {
		retry.Attempts = 1
	}
	if retry.Interval <= 0 {
		retry.Interval = DefaultRetryPolicy().Interval
	}
	return &Bridge{
		host:    host,
		button:  button,
		mountID: mountID,
		retry:   retry,
		logger:  logger,
	}
}

// Register installs h as the callback, replacing any previous one
func (b *Bridge) Register(h AssertionHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Unregister clears the callback slot
func (b *Bridge) Unregister() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = nil
}

// Registered reports whether a callback is installed
func (b *Bridge) Registered() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handler != nil
}

// Invoke delivers a to the registered callback
func (b *Bridge) Invoke(ctx context.Context, a core.Assertion) error {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()

	if h == nil {
		return core.ErrNoCallback
	}
	return h(ctx, a)
}

// MountPointReady reports whether the mount point is on the page
func (b *Bridge) MountPointReady() bool {
	_, ok := b.host.MountPoint(b.mountID)
	return ok
}

// Inject appends the widget button to its mount point unless it is already there
func (b *Bridge) Inject(ctx context.Context) error {
	b.injectMu.Lock()
	defer b.injectMu.Unlock()

	mp, err := b.waitForMountPoint(ctx)
	if err != nil {
		return err
	}
	if mp.Contains(b.button.ID) {
		return nil
	}
	if err := mp.Append(b.button); err != nil {
		return err
	}
	b.logger.Debug("identity widget injected", "mount_point", b.mountID)
	return nil
}

func (b *Bridge) waitForMountPoint(ctx context.Context) (ports.MountPoint, error) {
	if mp, ok := b.host.MountPoint(b.mountID); ok {
		return mp, nil
	}

	if rn, ok := b.host.(ports.ReadyNotifier); ok {
		timer := time.NewTimer(time.Duration(b.retry.Attempts) * b.retry.Interval)
		defer timer.Stop()

		select {
		case <-rn.Ready(b.mountID):
			if mp, ok := b.host.MountPoint(b.mountID); ok {
				return mp, nil
			}
			return nil, core.ErrMountPointMissing
		case <-timer.C:
			return nil, core.ErrMountPointMissing
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	bo := &backoff.Backoff{
		Min:    b.retry.Interval,
		Max:    b.retry.Interval,
		Factor: 1,
		Jitter: false,
	}
	for attempt := 0; attempt < b.retry.Attempts; attempt++ {
		select {
		case <-time.After(bo.Duration()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if mp, ok := b.host.MountPoint(b.mountID); ok {
			return mp, nil
		}
	}
	return nil, core.ErrMountPointMissing
}

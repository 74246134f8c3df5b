package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/apolo-dex/smartlink/adapters/events"
	"github.com/apolo-dex/smartlink/adapters/store"
	"github.com/apolo-dex/smartlink/adapters/widget"
	"github.com/apolo-dex/smartlink/core"
	"github.com/apolo-dex/smartlink/ports"
	"github.com/stretchr/testify/require"
)

const (
	testWallet  = "0x52908400098527886E0F7030069857D2E4169EE7"
	otherWallet = "0x8617E340B3D01FA5F11F306F4090FD50E238070D"
)

var testNow = time.Unix(1_700_000_000, 0)

// fakeBackend is a scripted SessionBackend
type fakeBackend struct {
	mu          sync.Mutex
	lookups     int
	mints       int
	lookupGrant core.Grant
	lookupErr   error
	mintGrant   core.Grant
	mintErr     error
	lastMint    core.MintRequest
	validateErr error

	// LinkStatus for blockWallet waits on release and signals started
	blockWallet string
	started     chan struct{}
	release     chan struct{}
}

var _ ports.SessionBackend = (*fakeBackend)(nil)

func (f *fakeBackend) LinkStatus(ctx context.Context, wallet string) (core.Grant, error) {
	f.mu.Lock()
	f.lookups++
	block := f.blockWallet != "" && f.blockWallet == wallet
	started, release := f.started, f.release
	f.mu.Unlock()

	if block {
		started <- struct{}{}
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookupGrant, f.lookupErr
}

func (f *fakeBackend) setLookup(grant core.Grant, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupGrant = grant
	f.lookupErr = err
}

func (f *fakeBackend) MintSession(ctx context.Context, req core.MintRequest) (core.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mints++
	f.lastMint = req
	return f.mintGrant, f.mintErr
}

func (f *fakeBackend) ValidateSession(ctx context.Context, token string) error {
	return f.validateErr
}

// blockOn makes lookups for wallet wait until the returned release func is called
func (f *fakeBackend) blockOn(wallet string) (started <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockWallet = wallet
	f.started = make(chan struct{}, 1)
	f.release = make(chan struct{})
	ch := f.release
	return f.started, func() { close(ch) }
}

func (f *fakeBackend) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

func (f *fakeBackend) mintCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mints
}

type harness struct {
	linker  *Linker
	creds   *CredentialStore
	storage *store.MemoryStore
	bus     *events.WatermillBus
	bridge  *Bridge
	page    *widget.Page
	mount   *widget.Container
}

func newHarness(t *testing.T, backend ports.SessionBackend, opts ...Option) *harness {
	t.Helper()

	h := buildHarness(t, backend, RetryPolicy{Attempts: 3, Interval: 5 * time.Millisecond}, opts...)
	h.mount = h.page.Mount(widget.MountPointID)
	return h
}

// newUnmountedHarness leaves the dialog page unrendered
func newUnmountedHarness(t *testing.T, backend ports.SessionBackend, retry RetryPolicy, opts ...Option) *harness {
	t.Helper()
	return buildHarness(t, backend, retry, opts...)
}

func buildHarness(t *testing.T, backend ports.SessionBackend, retry RetryPolicy, opts ...Option) *harness {
	t.Helper()

	storage := store.NewMemoryStore()
	creds := NewCredentialStore(storage, nil)

	bus := events.NewGoChannelBus(nil)
	t.Cleanup(func() { _ = bus.Close() })

	page := widget.NewPage()
	bridge := NewBridge(page, widget.TelegramButton(widget.TelegramConfig{BotName: "Mockadv_bot"}),
		widget.MountPointID, retry, nil)

	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	linker := NewLinker(creds, backend, bus, bridge, opts...)
	t.Cleanup(linker.Deactivate)

	return &harness{
		linker:  linker,
		creds:   creds,
		storage: storage,
		bus:     bus,
		bridge:  bridge,
		page:    page,
	}
}

func (h *harness) activate(t *testing.T) core.LinkStatus {
	t.Helper()
	require.NoError(t, h.linker.Activate(context.Background()))
	return h.linker.Status()
}

// subscribe collects events published on topic for the duration of the test
func (h *harness) subscribe(t *testing.T, topic string) func() []core.Event {
	t.Helper()

	var (
		mu  sync.Mutex
		got []core.Event
	)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, h.bus.Subscribe(ctx, topic, func(_ context.Context, payload []byte) error {
		ev, err := decodeEvent(payload)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
		return nil
	}))

	return func() []core.Event {
		mu.Lock()
		defer mu.Unlock()
		out := make([]core.Event, len(got))
		copy(out, got)
		return out
	}
}

func validAssertion() core.Assertion {
	return core.Assertion{
		SubjectID: "123",
		FirstName: "Ada",
		Username:  "ada",
		AuthDate:  testNow.Unix(),
		Hash:      "f00d",
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/apolo-dex/smartlink"
	"github.com/apolo-dex/smartlink/core"
	"github.com/apolo-dex/smartlink/ports"
	"github.com/ethereum/go-ethereum/common"
)

// Linker decides whether the current wallet may call the analysis backend and
// drives the link dialog when it may not.
//
// States: RESOLVING -> {LINKED, UNLINKED}; UNLINKED -> LINKED on a successful
// assertion exchange; LINKED -> UNLINKED on an invalidation signal.
type Linker struct {
	creds   *CredentialStore
	backend ports.SessionBackend
	bus     ports.SignalBus
	bridge  *Bridge
	logger  *slog.Logger
	now     func() time.Time

	locale      string
	notifyOptIn bool

	mu           sync.Mutex
	state        core.LinkState
	dialog       bool
	resolved     bool
	wallet       string
	mounted      bool
	generation   uint64
	resolvingGen uint64
	minting      bool
	distrusted   bool // cached token was rejected downstream; skip the fast path
	cancel       context.CancelFunc
	runCtx       context.Context
}

// Option configures a Linker
type Option func(*Linker)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(k *Linker) { k.logger = l }
}

// WithClock replaces time.Now for the linker and its credential store
func WithClock(now func() time.Time) Option {
	return func(k *Linker) {
		k.now = now
		k.creds.now = now
	}
}

// WithLocale sets the locale sent with mint requests
func WithLocale(locale string) Option {
	return func(k *Linker) { k.locale = locale }
}

// WithNotifyOptIn sets whether mint requests opt in to notifications
func WithNotifyOptIn(optIn bool) Option {
	return func(k *Linker) { k.notifyOptIn = optIn }
}

// WithWallet sets the initial wallet address; invalid addresses are ignored
func WithWallet(address string) Option {
	return func(k *Linker) {
		if w, err := NormalizeWallet(address); err == nil {
			k.wallet = w
		} else {
			k.logger.Warn("ignoring invalid initial wallet", "address", address)
		}
	}
}

// NewLinker creates a linker in the RESOLVING state. It does nothing until Activate.
func NewLinker(creds *CredentialStore, backend ports.SessionBackend, bus ports.SignalBus, bridge *Bridge, opts ...Option) *Linker {
	l := &Linker{
		creds:       creds,
		backend:     backend,
		bus:         bus,
		bridge:      bridge,
		logger:      slog.Default(),
		now:         time.Now,
		locale:      "en",
		notifyOptIn: true,
		state:       core.StateResolving,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ smartlink.Client = (*Linker)(nil)

// NormalizeWallet returns the EIP-55 form of address. An empty address or the
// bare "0x" placeholder means no wallet is connected and yields "".
func NormalizeWallet(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" || address == "0x" {
		return "", nil
	}
	if !common.IsHexAddress(address) {
		return "", core.ErrInvalidAddress
	}
	return common.HexToAddress(address).Hex(), nil
}

// Activate subscribes to the invalidation signal, installs the widget
// callback and resolves the link status once. Calling it again while active
// is a no-op.
func (l *Linker) Activate(ctx context.Context) error {
	l.mu.Lock()
	if l.mounted {
		l.mu.Unlock()
		return nil
	}
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.mounted = true
	l.generation++
	gen := l.generation
	l.state = core.StateResolving
	l.resolved = false
	l.dialog = false
	l.cancel = cancel
	l.runCtx = subCtx
	l.mu.Unlock()

	if err := l.bus.Subscribe(subCtx, core.TopicSessionInvalidated, l.onInvalidated); err != nil {
		cancel()
		l.mu.Lock()
		l.mounted = false
		l.cancel = nil
		l.runCtx = nil
		l.mu.Unlock()
		return fmt.Errorf("failed to subscribe to invalidation signal: %w", err)
	}
	l.bridge.Register(l.HandleAssertion)

	l.resolve(ctx, gen)
	return nil
}

// Deactivate tears the linker down. Responses still in flight are ignored.
func (l *Linker) Deactivate() {
	l.mu.Lock()
	if !l.mounted {
		l.mu.Unlock()
		return
	}
	l.mounted = false
	l.generation++
	cancel := l.cancel
	l.cancel = nil
	l.runCtx = nil
	l.mu.Unlock()

	l.bridge.Unregister()
	if cancel != nil {
		cancel()
	}
}

// SetWallet switches to address and resolves its link status
func (l *Linker) SetWallet(ctx context.Context, address string) error {
	wallet, err := NormalizeWallet(address)
	if err != nil {
		return err
	}

	l.mu.Lock()
	if wallet == l.wallet {
		l.mu.Unlock()
		return nil
	}
	l.wallet = wallet
	if !l.mounted {
		l.mu.Unlock()
		return nil
	}
	l.generation++
	gen := l.generation
	l.state = core.StateResolving
	l.resolved = false
	l.dialog = false
	l.mu.Unlock()

	l.resolve(ctx, gen)
	return nil
}

// Status returns a snapshot of the state machine
func (l *Linker) Status() core.LinkStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	return core.LinkStatus{
		State:         l.state,
		DialogVisible: l.dialog && l.resolved,
		Resolved:      l.resolved,
		Wallet:        l.wallet,
	}
}

// HandleAssertion exchanges an identity assertion for a session. It is the
// callback installed in the bridge while the linker is active.
func (l *Linker) HandleAssertion(ctx context.Context, a core.Assertion) error {
	if err := a.Validate(); err != nil {
		l.logger.Warn("rejecting identity assertion", "subject_id", a.SubjectID, "error", err)
		l.dropProfile(ctx)
		mintsTotal.WithLabelValues("invalid").Inc()
		return err
	}

	l.mu.Lock()
	if !l.mounted {
		l.mu.Unlock()
		return core.ErrNotActive
	}
	if l.minting {
		l.mu.Unlock()
		return core.ErrInFlight
	}
	wallet := l.wallet
	if wallet == "" {
		l.mu.Unlock()
		mintsTotal.WithLabelValues("no_wallet").Inc()
		return core.ErrNoWallet
	}
	l.minting = true
	l.mu.Unlock()

	if err := l.creds.CacheProfile(ctx, a.Profile()); err != nil {
		l.logger.Warn("failed to cache identity profile", "error", err)
	}

	grant, err := l.backend.MintSession(ctx, core.MintRequest{
		Assertion:     a,
		WalletAddress: wallet,
		NotifyOptIn:   l.notifyOptIn,
		Locale:        l.locale,
	})

	l.mu.Lock()
	l.minting = false
	if !l.mounted || l.wallet != wallet {
		l.mu.Unlock()
		lateResponsesTotal.Inc()
		l.logger.Info("dropping session mint for a wallet that is no longer active", "wallet", wallet)
		return core.ErrNotActive
	}
	if err == nil {
		err = l.persist(ctx, grant)
	}
	if err != nil {
		l.settle(core.StateUnlinked, true)
		l.mu.Unlock()
		l.dropProfile(ctx)
		mintsTotal.WithLabelValues("error").Inc()
		l.logger.Warn("session mint failed", "wallet", wallet, "error", err)
		return fmt.Errorf("failed to link identity: %w", err)
	}
	l.settle(core.StateLinked, false)
	l.distrusted = false
	l.generation++ // supersede any lookup still in flight
	l.mu.Unlock()

	mintsTotal.WithLabelValues("linked").Inc()
	l.logger.Info("wallet linked", "wallet", wallet, "subject_id", grant.SubjectID)
	l.broadcastLinked(ctx, grant.SubjectID, wallet)
	return nil
}

func (l *Linker) resolve(ctx context.Context, gen uint64) {
	l.mu.Lock()
	if gen != l.generation || !l.mounted {
		l.mu.Unlock()
		return
	}
	if l.resolvingGen == gen {
		l.mu.Unlock()
		l.logger.Debug("link lookup already in flight")
		return
	}

	if !l.distrusted && l.creds.Session(ctx).Valid(l.now()) {
		l.settle(core.StateLinked, false)
		l.mu.Unlock()
		resolutionsTotal.WithLabelValues("fast_path").Inc()
		return
	}

	wallet := l.wallet
	if wallet == "" {
		l.settle(core.StateUnlinked, false)
		l.mu.Unlock()
		resolutionsTotal.WithLabelValues("no_wallet").Inc()
		l.logger.Info("no wallet connected, skipping link lookup")
		return
	}
	l.resolvingGen = gen
	l.mu.Unlock()

	grant, err := l.backend.LinkStatus(ctx, wallet)

	l.mu.Lock()
	if l.resolvingGen == gen {
		l.resolvingGen = 0
	}
	if gen != l.generation || !l.mounted {
		l.mu.Unlock()
		lateResponsesTotal.Inc()
		l.logger.Debug("dropping late link-status response", "wallet", wallet)
		return
	}
	if err == nil {
		err = l.persist(ctx, grant)
	}
	if err != nil {
		l.settle(core.StateUnlinked, true)
		runCtx := l.runCtx
		l.mu.Unlock()
		if errors.Is(err, core.ErrNotLinked) {
			resolutionsTotal.WithLabelValues("not_linked").Inc()
			l.logger.Info("wallet not linked", "wallet", wallet)
		} else {
			resolutionsTotal.WithLabelValues("error").Inc()
			l.logger.Warn("link lookup failed, requiring re-link", "wallet", wallet, "error", err)
		}
		l.showWidget(runCtx, gen)
		return
	}
	l.settle(core.StateLinked, false)
	l.distrusted = false
	l.mu.Unlock()

	resolutionsTotal.WithLabelValues("linked").Inc()
	l.logger.Info("wallet already linked", "wallet", wallet, "subject_id", grant.SubjectID)
	l.broadcastLinked(ctx, grant.SubjectID, wallet)
}

func (l *Linker) onInvalidated(_ context.Context, payload []byte) error {
	ev, err := decodeEvent(payload)
	if err != nil {
		l.logger.Debug("invalidation signal without envelope", "error", err)
	}

	l.mu.Lock()
	if !l.mounted {
		l.mu.Unlock()
		return nil
	}
	if l.state == core.StateUnlinked && l.dialog {
		l.mu.Unlock()
		invalidationsTotal.WithLabelValues("noop").Inc()
		return nil
	}
	l.generation++
	gen := l.generation
	l.distrusted = true
	l.settle(core.StateUnlinked, true)
	runCtx := l.runCtx
	l.mu.Unlock()

	invalidationsTotal.WithLabelValues("reopened").Inc()
	l.logger.Info("session invalidated, reopening link dialog", "reason", ev.Reason)
	l.showWidget(runCtx, gen)
	return nil
}

// persist stores the grant. Caller holds l.mu.
func (l *Linker) persist(ctx context.Context, grant core.Grant) error {
	if _, err := l.creds.SetSession(ctx, grant.Token, grant.TTL); err != nil {
		return err
	}
	if grant.SubjectID == "" {
		return nil
	}
	if p, ok := l.creds.Profile(ctx); !ok || p.SubjectID != grant.SubjectID {
		if err := l.creds.CacheProfile(ctx, core.Profile{SubjectID: grant.SubjectID}); err != nil {
			l.logger.Warn("failed to cache identity profile", "error", err)
		}
	}
	return nil
}

// settle moves to a resolved state. Caller holds l.mu.
func (l *Linker) settle(state core.LinkState, dialog bool) {
	l.state = state
	l.dialog = dialog
	l.resolved = true
}

// showWidget injects the widget for generation gen. When the mount point is
// not on the page yet the wait runs in the background until ctx is done, so
// bus handlers never block on page readiness.
func (l *Linker) showWidget(ctx context.Context, gen uint64) {
	if ctx == nil {
		return
	}
	if l.bridge.MountPointReady() {
		l.inject(ctx, gen)
		return
	}
	go l.inject(ctx, gen)
}

func (l *Linker) inject(ctx context.Context, gen uint64) {
	l.mu.Lock()
	current := l.mounted && l.generation == gen
	l.mu.Unlock()
	if !current {
		return
	}

	if err := l.bridge.Inject(ctx); err != nil && ctx.Err() == nil {
		l.logger.Warn("failed to inject identity widget", "error", err)
	}
}

func (l *Linker) dropProfile(ctx context.Context) {
	if err := l.creds.ClearProfile(ctx); err != nil {
		l.logger.Warn("failed to clear identity profile", "error", err)
	}
}

func (l *Linker) broadcastLinked(ctx context.Context, subjectID, wallet string) {
	err := publishEvent(ctx, l.bus, core.Event{
		Topic:     core.TopicLinked,
		SubjectID: subjectID,
		Wallet:    wallet,
	})
	if err != nil {
		l.logger.Warn("failed to broadcast link", "error", err)
	}
}

/*
Copyright 2026 jr42.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ndisc

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
)

// AddrGenMode selects how host bits of SLAAC addresses are generated.
type AddrGenMode uint8

const (
	// AddrGenModeEUI64 fills host bits with the Modified-EUI-64 interface
	// identifier installed via SetIID.
	AddrGenModeEUI64 AddrGenMode = iota

	// AddrGenModeStablePrivacy derives host bits with the injected
	// DeriveStable function (RFC 7217).
	AddrGenModeStablePrivacy
)

// String implements fmt.Stringer.
func (m AddrGenMode) String() string {
	switch m {
	case AddrGenModeEUI64:
		return "eui64"
	case AddrGenModeStablePrivacy:
		return "stable-privacy"
	default:
		return "unknown"
	}
}

// StableType selects the stable-privacy key input.
type StableType uint8

const (
	StableTypeUUID StableType = iota
	StableTypeStableID
)

// String implements fmt.Stringer.
func (t StableType) String() string {
	switch t {
	case StableTypeUUID:
		return "uuid"
	case StableTypeStableID:
		return "stable-id"
	default:
		return "unknown"
	}
}

// IID is a Modified-EUI-64 interface identifier: the low 64 bits of an
// autoconfigured address.
type IID [8]byte

// IsZero reports whether the identifier is all zeroes.
func (i IID) IsZero() bool { return i == IID{} }

// Transport sends Router Solicitations on the bound interface. The real
// implementation lives in internal/transport; tests inject fakes.
type Transport interface {
	// Start performs one-time transport initialisation. It is called by
	// Engine.Start after the RA-timeout timer is armed.
	Start(ctx context.Context) error

	// SendRouterSolicitation sends exactly one Router Solicitation. It
	// must be synchronous; the returned error message is only logged.
	SendRouterSolicitation() error
}

// Platform is the kernel interface the configuration consumer installs
// learned state through. The engine itself never mutates kernel state; it
// holds the handle for its consumers and for DAD outcome intake wiring.
type Platform interface {
	AddAddress(ctx context.Context, ifindex int, addr netip.Addr, prefixLen int, valid, preferred uint32) error
	DelAddress(ctx context.Context, ifindex int, addr netip.Addr, prefixLen int) error
	AddRoute(ctx context.Context, ifindex int, network netip.Prefix, gateway netip.Addr, metric int) error
	DelRoute(ctx context.Context, ifindex int, network netip.Prefix, gateway netip.Addr) error
	WatchDADFailures(ctx context.Context, ifindex int) (<-chan netip.Addr, error)
}

// DeriveStableFunc fills the host bits of addr deterministically from the
// given inputs, per RFC 7217. addr arrives with its network bits set.
type DeriveStableFunc func(stableType StableType, addr *netip.Addr, ifname, networkID string, dadCounter uint8) error

// stablePrivacyRetryLimit bounds the stable-privacy DAD retry counter.
const stablePrivacyRetryLimit = 128

// Config configures an Engine. All fields are construction-only.
type Config struct {
	// Platform is the kernel interface handle.
	Platform Platform `validate:"required"`

	// Transport sends Router Solicitations.
	Transport Transport `validate:"required"`

	// IfIndex is the bound interface index.
	IfIndex int `validate:"gt=0"`

	// IfName is the bound interface name, used by stable-privacy
	// derivation.
	IfName string `validate:"required"`

	// StableType selects the stable-privacy key input.
	StableType StableType

	// NetworkID is an optional stable-privacy derivation input.
	NetworkID string

	// AddrGenMode selects the address synthesiser branch.
	AddrGenMode AddrGenMode

	// DeriveStable is the stable-privacy derivation function. Required
	// when AddrGenMode is AddrGenModeStablePrivacy.
	DeriveStable DeriveStableFunc

	// MaxAddresses caps the address collection. nil means the default of
	// 16; explicit 0 disables the cap.
	MaxAddresses *int `validate:"omitempty,gte=0"`

	// RouterSolicitations is the RS retry budget.
	RouterSolicitations int `default:"3" validate:"gte=1"`

	// RouterSolicitationInterval is the RS retry spacing in seconds.
	RouterSolicitationInterval int `default:"4" validate:"gte=1"`

	// ConfigChanged receives one snapshot per logical transaction. The
	// snapshot's slices are borrows; consumers must not retain them and
	// must not mutate the engine from within the callback.
	ConfigChanged func(*Snapshot, Change) `validate:"required"`

	// RATimeout fires when no Router Advertisement arrived within the
	// solicitation window. Optional.
	RATimeout func()

	// Clock is the injected time source. Defaults to the real clock.
	Clock clockwork.Clock

	// Logger receives engine logs. Defaults to a discarding logger.
	Logger logr.Logger

	// Metrics receives engine counters. Optional.
	Metrics *Metrics
}

var validate = validator.New()

// Engine is the RA-driven lifetime manager for one network interface. All
// entry points and timer callbacks are serialised by an internal mutex, the
// Go rendition of the single event loop the engine is designed around.
type Engine struct {
	mu sync.Mutex

	cfg          Config
	clock        clockwork.Clock
	log          logr.Logger
	metrics      *Metrics
	maxAddresses int
	epoch        time.Time

	iid IID

	dhcpLevel     DHCPLevel
	hopLimit      uint8
	mtu           uint32
	reachableTime uint32
	retransTimer  uint32

	gateways   []Gateway
	addresses  []Address
	routes     []Route
	dnsServers []DNSServer
	dnsDomains []DNSDomain

	solicitationsLeft int
	sendRSTimer       clockwork.Timer
	lastRS            int64
	lastSendRSError   string

	reapTimer      clockwork.Timer
	raTimeoutTimer clockwork.Timer

	started bool
	stopped bool
}

// New validates cfg and returns an Engine bound to one interface.
func New(cfg Config) (*Engine, error) {
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply configuration defaults: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger.GetSink() == nil {
		cfg.Logger = logr.Discard()
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.AddrGenMode == AddrGenModeStablePrivacy && cfg.DeriveStable == nil {
		return nil, fmt.Errorf("invalid configuration: stable-privacy mode requires a DeriveStable function")
	}

	maxAddresses := 16
	if cfg.MaxAddresses != nil {
		maxAddresses = *cfg.MaxAddresses
	}

	e := &Engine{
		cfg:          cfg,
		clock:        cfg.Clock,
		log:          cfg.Logger.WithName("ndisc").WithValues("interface", cfg.IfName),
		metrics:      cfg.Metrics,
		maxAddresses: maxAddresses,
		epoch:        cfg.Clock.Now(),
	}
	// Allow the first solicitation to go out immediately.
	e.lastRS = e.now() - int64(cfg.RouterSolicitationInterval)
	return e, nil
}

// now returns the current monotonic time in seconds, counted from the
// engine's construction.
func (e *Engine) now() int64 {
	return int64(e.clock.Since(e.epoch) / time.Second)
}

// Start arms the RA-timeout timer, initialises the transport and issues the
// first round of Router Solicitations.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}
	e.started = true

	timeout := e.cfg.RouterSolicitations*e.cfg.RouterSolicitationInterval + 1
	if timeout < 30 {
		timeout = 30
	} else if timeout > 120 {
		timeout = 120
	}
	e.log.V(1).Info("arming router advertisement timeout", "seconds", timeout)
	e.raTimeoutTimer = e.clock.AfterFunc(time.Duration(timeout)*time.Second, e.onRATimeout)

	if err := e.cfg.Transport.Start(ctx); err != nil {
		e.raTimeoutTimer.Stop()
		e.raTimeoutTimer = nil
		e.started = false
		return fmt.Errorf("failed to start transport: %w", err)
	}

	e.solicitLocked()
	return nil
}

// Stop cancels all timers. The engine cannot be restarted.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopped = true
	for _, t := range []*clockwork.Timer{&e.sendRSTimer, &e.reapTimer, &e.raTimeoutTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
}

// Platform returns the kernel interface handle supplied at construction.
func (e *Engine) Platform() Platform { return e.cfg.Platform }

// IfIndex returns the bound interface index.
func (e *Engine) IfIndex() int { return e.cfg.IfIndex }

// onRATimeout fires when the solicitation window elapsed without any RA.
// Collections are not touched; the consumer decides whether to fall back to
// another configuration method.
func (e *Engine) onRATimeout() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.raTimeoutTimer = nil
	cb := e.cfg.RATimeout
	e.mu.Unlock()

	e.log.Info("no router advertisement received within the solicitation window")
	e.metrics.raTimeout()
	if cb != nil {
		cb()
	}
}

// SetIID installs a new interface identifier. In stable-privacy mode the
// identifier is stored but addresses are untouched. Otherwise a changed
// identifier wipes the address collection and re-solicits so addresses can
// be relearned with the new host bits. The return value reports whether
// anything may have changed.
func (e *Engine) SetIID(iid IID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.AddrGenMode == AddrGenModeStablePrivacy {
		e.iid = iid
		return false
	}
	if e.iid == iid {
		return false
	}
	e.iid = iid

	if len(e.addresses) > 0 {
		e.log.V(1).Info("interface identifier changed, wiping addresses", "count", len(e.addresses))
		e.addresses = e.addresses[:0]
		e.emitLocked(ChangeAddresses)
	}
	e.solicitLocked()
	return true
}

// emitLocked packages the current state and dispatches the change signal
// synchronously. Callers hold the engine mutex; the consumer must not
// re-enter the engine.
func (e *Engine) emitLocked(mask Change) {
	e.log.V(1).Info("configuration changed", "changed", mask.String())
	snap := &Snapshot{
		DHCPLevel:     e.dhcpLevel,
		HopLimit:      e.hopLimit,
		MTU:           e.mtu,
		ReachableTime: e.reachableTime,
		RetransTimer:  e.retransTimer,
		Gateways:      e.gateways,
		Addresses:     e.addresses,
		Routes:        e.routes,
		DNSServers:    e.dnsServers,
		DNSDomains:    e.dnsDomains,
	}
	e.cfg.ConfigChanged(snap, mask)
}

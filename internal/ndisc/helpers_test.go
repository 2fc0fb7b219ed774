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
	"errors"
	"net/netip"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
)

// fakeTransport counts solicitations and can be made to fail.
type fakeTransport struct {
	mu      sync.Mutex
	sends   int
	failErr error
}

func (f *fakeTransport) Start(context.Context) error { return nil }

func (f *fakeTransport) SendRouterSolicitation() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.sends++
	return nil
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

func (f *fakeTransport) fail(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg == "" {
		f.failErr = nil
	} else {
		f.failErr = errors.New(msg)
	}
}

// fakePlatform is an inert kernel interface.
type fakePlatform struct{}

func (fakePlatform) AddAddress(context.Context, int, netip.Addr, int, uint32, uint32) error {
	return nil
}
func (fakePlatform) DelAddress(context.Context, int, netip.Addr, int) error { return nil }
func (fakePlatform) AddRoute(context.Context, int, netip.Prefix, netip.Addr, int) error {
	return nil
}
func (fakePlatform) DelRoute(context.Context, int, netip.Prefix, netip.Addr) error { return nil }
func (fakePlatform) WatchDADFailures(context.Context, int) (<-chan netip.Addr, error) {
	return nil, nil
}

// changeRecorder captures emitted snapshots.
type changeRecorder struct {
	mu        sync.Mutex
	masks     []Change
	snapshots []Snapshot
}

func (r *changeRecorder) record(snap *Snapshot, mask Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.masks = append(r.masks, mask)
	// Deep-copy: the snapshot's slices are only valid during dispatch.
	copied := *snap
	copied.Gateways = append([]Gateway(nil), snap.Gateways...)
	copied.Addresses = append([]Address(nil), snap.Addresses...)
	copied.Routes = append([]Route(nil), snap.Routes...)
	copied.DNSServers = append([]DNSServer(nil), snap.DNSServers...)
	copied.DNSDomains = append([]DNSDomain(nil), snap.DNSDomains...)
	r.snapshots = append(r.snapshots, copied)
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.masks)
}

func (r *changeRecorder) last() (Snapshot, Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.masks) == 0 {
		return Snapshot{}, 0
	}
	return r.snapshots[len(r.snapshots)-1], r.masks[len(r.masks)-1]
}

// testEnv bundles an engine with its fakes.
type testEnv struct {
	engine    *Engine
	clock     *clockwork.FakeClock
	transport *fakeTransport
	changes   *changeRecorder
}

type configOption func(*Config)

func withAddrGenMode(mode AddrGenMode, derive DeriveStableFunc) configOption {
	return func(c *Config) {
		c.AddrGenMode = mode
		c.DeriveStable = derive
	}
}

func withMaxAddresses(n int) configOption {
	return func(c *Config) { c.MaxAddresses = &n }
}

func withSolicitations(budget, interval int) configOption {
	return func(c *Config) {
		c.RouterSolicitations = budget
		c.RouterSolicitationInterval = interval
	}
}

func withRATimeout(fn func()) configOption {
	return func(c *Config) { c.RATimeout = fn }
}

func newTestEngine(t *testing.T, opts ...configOption) *testEnv {
	t.Helper()

	env := &testEnv{
		clock:     clockwork.NewFakeClock(),
		transport: &fakeTransport{},
		changes:   &changeRecorder{},
	}
	cfg := Config{
		Platform:      fakePlatform{},
		Transport:     env.transport,
		IfIndex:       1,
		IfName:        "net0",
		ConfigChanged: env.changes.record,
		Clock:         env.clock,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	engine, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(engine.Stop)
	env.engine = engine
	return env
}

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	return netip.MustParseAddr(s)
}

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
	"sync/atomic"
	"testing"
	"time"

	"github.com/mdlayher/ndp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Most timer callbacks are delivered asynchronously, so assertions after a
// clock advance poll with a common deadline.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 10*time.Millisecond)
}

// advanceUntil steps the fake clock one second per poll until cond holds.
// Chained timers are re-armed from callback goroutines, so a single large
// advance can slip past a timer that is not registered yet.
func advanceUntil(t *testing.T, env *testEnv, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		env.clock.Advance(time.Second)
		return cond()
	}, time.Second, 10*time.Millisecond)
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "missing platform",
			mutate: func(c *Config) { c.Platform = nil },
		},
		{
			name:   "missing transport",
			mutate: func(c *Config) { c.Transport = nil },
		},
		{
			name:   "zero ifindex",
			mutate: func(c *Config) { c.IfIndex = 0 },
		},
		{
			name:   "empty ifname",
			mutate: func(c *Config) { c.IfName = "" },
		},
		{
			name:   "missing change callback",
			mutate: func(c *Config) { c.ConfigChanged = nil },
		},
		{
			name:   "negative max addresses",
			mutate: func(c *Config) { n := -1; c.MaxAddresses = &n },
		},
		{
			name:   "stable privacy without derivation",
			mutate: func(c *Config) { c.AddrGenMode = AddrGenModeStablePrivacy },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				Platform:      fakePlatform{},
				Transport:     &fakeTransport{},
				IfIndex:       1,
				IfName:        "net0",
				ConfigChanged: func(*Snapshot, Change) {},
			}
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
		})
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	env := newTestEngine(t)
	assert.Equal(t, 3, env.engine.cfg.RouterSolicitations)
	assert.Equal(t, 4, env.engine.cfg.RouterSolicitationInterval)
	assert.Equal(t, 16, env.engine.maxAddresses)
}

func TestFreshSLAAC(t *testing.T) {
	env := newTestEngine(t, withSolicitations(3, 4))
	e := env.engine
	e.SetIID(IID{0x02, 0, 0, 0, 0, 0, 0, 0x01})

	require.NoError(t, e.Start(context.Background()))
	require.NotNil(t, e.raTimeoutTimer, "the RA timeout must be armed at start")

	env.clock.Advance(2 * time.Second)

	router := mustAddr(t, "fe80::1")
	e.HandleRA(router, &ndp.RouterAdvertisement{
		RouterLifetime:            1800 * time.Second,
		RouterSelectionPreference: ndp.Medium,
		Options: []ndp.Option{
			&ndp.PrefixInformation{
				Prefix:                         mustAddr(t, "2001:db8::"),
				PrefixLength:                   64,
				AutonomousAddressConfiguration: true,
				ValidLifetime:                  3600 * time.Second,
				PreferredLifetime:              1800 * time.Second,
			},
		},
	})

	snap, mask := env.changes.last()
	assert.Equal(t, ChangeGateways|ChangeAddresses|ChangeDHCPLevel, mask)

	require.Len(t, snap.Gateways, 1)
	assert.Equal(t, router, snap.Gateways[0].Address)
	assert.Equal(t, uint32(1800), snap.Gateways[0].Lifetime)

	require.Len(t, snap.Addresses, 1)
	assert.Equal(t, mustAddr(t, "2001:db8::200:0:0:1"), snap.Addresses[0].Address)
	assert.Equal(t, uint32(3600), snap.Addresses[0].Lifetime)
	assert.Equal(t, uint32(1800), snap.Addresses[0].Preferred)

	assert.Equal(t, DHCPLevelNone, snap.DHCPLevel)
	assert.Nil(t, e.raTimeoutTimer, "an RA must cancel the timeout")
}

func TestDHCPLevelFromFlags(t *testing.T) {
	tests := []struct {
		name    string
		managed bool
		other   bool
		want    DHCPLevel
	}{
		{name: "no flags", want: DHCPLevelNone},
		{name: "other only", other: true, want: DHCPLevelOtherconf},
		{name: "managed wins", managed: true, other: true, want: DHCPLevelManaged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEngine(t)
			env.engine.HandleRA(mustAddr(t, "fe80::1"), &ndp.RouterAdvertisement{
				ManagedConfiguration: tt.managed,
				OtherConfiguration:   tt.other,
			})
			snap, mask := env.changes.last()
			assert.Equal(t, ChangeDHCPLevel, mask&ChangeDHCPLevel)
			assert.Equal(t, tt.want, snap.DHCPLevel)
		})
	}
}

func TestSolicitationSchedule(t *testing.T) {
	env := newTestEngine(t, withSolicitations(3, 4))
	require.NoError(t, env.engine.Start(context.Background()))

	// The first solicitation goes out immediately, the rest one interval
	// apart until the budget runs dry.
	env.clock.Advance(time.Second)
	eventually(t, func() bool { return env.transport.sendCount() == 1 })

	advanceUntil(t, env, func() bool { return env.transport.sendCount() == 2 })
	advanceUntil(t, env, func() bool { return env.transport.sendCount() == 3 })

	for i := 0; i < 20; i++ {
		env.clock.Advance(time.Second)
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, env.transport.sendCount(), "the budget must stop retransmission")
}

func TestSolicitationFailureKeepsBudget(t *testing.T) {
	env := newTestEngine(t, withSolicitations(3, 4))
	env.transport.fail("link down")
	require.NoError(t, env.engine.Start(context.Background()))

	// Failed sends consume no budget; the schedule keeps retrying.
	for i := 0; i < 20; i++ {
		env.clock.Advance(time.Second)
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, env.transport.sendCount())

	env.engine.mu.Lock()
	left := env.engine.solicitationsLeft
	env.engine.mu.Unlock()
	assert.Equal(t, 3, left)

	// Once the transport heals, the full budget is still available.
	env.transport.fail("")
	advanceUntil(t, env, func() bool { return env.transport.sendCount() >= 1 })
}

func TestSolicitIsIdempotentWhileScheduled(t *testing.T) {
	env := newTestEngine(t)
	e := env.engine

	e.Solicit()
	first := e.sendRSTimer
	require.NotNil(t, first)

	e.Solicit()
	assert.Equal(t, first, e.sendRSTimer, "a scheduled solicitation must not be replaced")
}

func TestRATimeout(t *testing.T) {
	var fired atomic.Int32
	env := newTestEngine(t,
		withSolicitations(3, 4),
		withRATimeout(func() { fired.Add(1) }))
	require.NoError(t, env.engine.Start(context.Background()))

	// clamp(3*4+1, 30, 120) = 30 seconds.
	env.clock.Advance(29 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	env.clock.Advance(time.Second)
	eventually(t, func() bool { return fired.Load() == 1 })
}

func TestRATimeoutClamp(t *testing.T) {
	tests := []struct {
		name     string
		budget   int
		interval int
		want     int
	}{
		{name: "small budget clamps up", budget: 3, interval: 4, want: 30},
		{name: "mid range unclamped", budget: 10, interval: 5, want: 51},
		{name: "large budget clamps down", budget: 100, interval: 4, want: 120},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fired atomic.Int32
			env := newTestEngine(t,
				withSolicitations(tt.budget, tt.interval),
				withRATimeout(func() { fired.Add(1) }))
			require.NoError(t, env.engine.Start(context.Background()))

			env.clock.Advance(time.Duration(tt.want-1) * time.Second)
			time.Sleep(50 * time.Millisecond)
			assert.Equal(t, int32(0), fired.Load())

			env.clock.Advance(time.Second)
			eventually(t, func() bool { return fired.Load() == 1 })
		})
	}
}

func TestRACancelsTimeout(t *testing.T) {
	var fired atomic.Int32
	env := newTestEngine(t,
		withSolicitations(3, 4),
		withRATimeout(func() { fired.Add(1) }))
	require.NoError(t, env.engine.Start(context.Background()))

	env.clock.Advance(2 * time.Second)
	env.engine.HandleRA(mustAddr(t, "fe80::1"), &ndp.RouterAdvertisement{
		RouterLifetime: 1800 * time.Second,
	})

	env.clock.Advance(5 * time.Minute)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load(), "a received RA must cancel the timeout")
}

func TestGatewayAging(t *testing.T) {
	env := newTestEngine(t)
	e := env.engine

	e.AddGateway(Gateway{
		Address:    mustAddr(t, "fe80::1"),
		Timestamp:  e.now(),
		Lifetime:   60,
		Preference: ndp.Medium,
	})
	e.RAReceived(ChangeGateways)
	require.Equal(t, 1, env.changes.count())

	env.clock.Advance(59 * time.Second)
	time.Sleep(50 * time.Millisecond)
	e.mu.Lock()
	remaining := len(e.gateways)
	e.mu.Unlock()
	assert.Equal(t, 1, remaining, "the gateway must survive until its expiry")

	env.clock.Advance(time.Second)
	eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.gateways) == 0
	})

	_, mask := env.changes.last()
	assert.Equal(t, ChangeGateways, mask)

	e.mu.Lock()
	timer := e.reapTimer
	e.mu.Unlock()
	assert.Nil(t, timer, "nothing is left to expire, the timer must be disarmed")
}

func TestDNSHalfLifeRefresh(t *testing.T) {
	env := newTestEngine(t, withSolicitations(3, 4))
	e := env.engine

	e.AddDNSServer(DNSServer{
		Address:   mustAddr(t, "2001:db8::53"),
		Timestamp: e.now(),
		Lifetime:  600,
	})
	e.RAReceived(ChangeDNSServers)

	// Before the half-life nothing happens.
	env.clock.Advance(299 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, env.transport.sendCount())

	// At the half-life the engine re-solicits; the entry stays.
	advanceUntil(t, env, func() bool { return env.transport.sendCount() >= 1 })
	e.mu.Lock()
	remaining := len(e.dnsServers)
	e.mu.Unlock()
	assert.Equal(t, 1, remaining)

	// At the full lifetime the entry goes away.
	env.clock.Advance(250 * time.Second)
	advanceUntil(t, env, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.dnsServers) == 0
	})
	_, mask := env.changes.last()
	assert.Equal(t, ChangeDNSServers, mask)
}

func TestInfiniteLifetimesNeedNoTimer(t *testing.T) {
	env := newTestEngine(t)
	e := env.engine

	e.AddGateway(Gateway{
		Address:    mustAddr(t, "fe80::1"),
		Timestamp:  e.now(),
		Lifetime:   LifetimeInfinite,
		Preference: ndp.Medium,
	})
	e.RAReceived(ChangeGateways)

	e.mu.Lock()
	timer := e.reapTimer
	e.mu.Unlock()
	assert.Nil(t, timer)

	env.clock.Advance(24 * 365 * time.Hour)
	time.Sleep(50 * time.Millisecond)
	e.mu.Lock()
	remaining := len(e.gateways)
	e.mu.Unlock()
	assert.Equal(t, 1, remaining)
}

func TestRAReceivedWithoutChangesEmitsNothing(t *testing.T) {
	env := newTestEngine(t)
	env.engine.RAReceived(0)
	assert.Equal(t, 0, env.changes.count())
}

func TestStablePrivacyDADLoop(t *testing.T) {
	derive := func(_ StableType, addr *netip.Addr, _, _ string, counter uint8) error {
		if counter >= 3 {
			return errors.New("derivation failed")
		}
		b := addr.As16()
		b[15] = 0xa0 + counter
		*addr = netip.AddrFrom16(b)
		return nil
	}

	env := newTestEngine(t, withAddrGenMode(AddrGenModeStablePrivacy, derive))
	e := env.engine

	require.True(t, e.CompleteAndAddAddress(Address{
		Address:   mustAddr(t, "2001:db8::"),
		Timestamp: e.now(),
		Lifetime:  3600,
		Preferred: 1800,
	}))
	require.Equal(t, mustAddr(t, "2001:db8::a0"), e.addresses[0].Address)
	require.Equal(t, uint8(1), e.addresses[0].DADCounter)

	// First failure regenerates with the next counter value.
	e.DADFailed(mustAddr(t, "2001:db8::a0"))
	require.Equal(t, mustAddr(t, "2001:db8::a1"), e.addresses[0].Address)

	// Second failure again.
	e.DADFailed(mustAddr(t, "2001:db8::a1"))
	require.Len(t, e.addresses, 1)
	assert.Equal(t, mustAddr(t, "2001:db8::a2"), e.addresses[0].Address)
	assert.Equal(t, uint8(3), e.addresses[0].DADCounter)

	// The fourth attempt fails to derive: the address is dropped.
	e.DADFailed(mustAddr(t, "2001:db8::a2"))
	assert.Empty(t, e.addresses)

	_, mask := env.changes.last()
	assert.Equal(t, ChangeAddresses, mask)
}

func TestDADFailedEUI64Drops(t *testing.T) {
	env := newTestEngine(t)
	e := env.engine
	e.SetIID(IID{0x02, 0, 0, 0, 0, 0, 0, 0x01})

	require.True(t, e.CompleteAndAddAddress(Address{
		Address:   mustAddr(t, "2001:db8::"),
		Timestamp: e.now(),
		Lifetime:  3600,
	}))

	// EUI-64 has no retry budget: a collision drops the address.
	e.DADFailed(mustAddr(t, "2001:db8::200:0:0:1"))
	assert.Empty(t, e.addresses)
	_, mask := env.changes.last()
	assert.Equal(t, ChangeAddresses, mask)
}

func TestDADFailedUnknownAddressIsNoOp(t *testing.T) {
	env := newTestEngine(t)
	env.engine.DADFailed(mustAddr(t, "2001:db8::dead"))
	assert.Equal(t, 0, env.changes.count())
}

func TestSetIIDRotation(t *testing.T) {
	env := newTestEngine(t)
	e := env.engine

	original := IID{0x02, 0, 0, 0, 0, 0, 0, 0x01}
	require.True(t, e.SetIID(original))
	require.False(t, e.SetIID(original), "an unchanged identifier is a no-op")

	require.True(t, e.CompleteAndAddAddress(Address{
		Address:   mustAddr(t, "2001:db8::"),
		Timestamp: e.now(),
		Lifetime:  3600,
	}))

	require.True(t, e.SetIID(IID{0x02, 0, 0, 0, 0, 0, 0, 0x02}))
	assert.Empty(t, e.addresses, "a new identifier wipes derived addresses")
	_, mask := env.changes.last()
	assert.Equal(t, ChangeAddresses, mask)
}

func TestSetIIDStablePrivacyIgnored(t *testing.T) {
	derive := func(_ StableType, addr *netip.Addr, _, _ string, _ uint8) error {
		b := addr.As16()
		b[15] = 0x01
		*addr = netip.AddrFrom16(b)
		return nil
	}
	env := newTestEngine(t, withAddrGenMode(AddrGenModeStablePrivacy, derive))
	e := env.engine

	require.True(t, e.CompleteAndAddAddress(Address{
		Address:   mustAddr(t, "2001:db8::"),
		Timestamp: e.now(),
		Lifetime:  3600,
	}))

	assert.False(t, e.SetIID(IID{0x02, 0, 0, 0, 0, 0, 0, 0x01}))
	assert.Len(t, e.addresses, 1, "stable-privacy addresses survive identifier changes")
	assert.Equal(t, 1, env.changes.count())
}

func TestStartTwiceFails(t *testing.T) {
	env := newTestEngine(t)
	require.NoError(t, env.engine.Start(context.Background()))
	require.Error(t, env.engine.Start(context.Background()))
}

func TestStartTransportFailure(t *testing.T) {
	env := newTestEngine(t)
	env.engine.cfg.Transport = failingStartTransport{&fakeTransport{}}
	err := env.engine.Start(context.Background())
	require.Error(t, err)
	assert.Nil(t, env.engine.raTimeoutTimer, "a failed start must not leave the timeout armed")
}

type failingStartTransport struct{ *fakeTransport }

func (failingStartTransport) Start(context.Context) error {
	return errors.New("no such interface")
}

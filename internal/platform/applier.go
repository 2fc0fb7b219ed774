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

package platform

import (
	"context"
	"net/netip"

	"github.com/go-logr/logr"
	"github.com/mdlayher/ndp"

	"github.com/jr42/slaac-engine/internal/ndisc"
)

// routeKey identifies an installed route.
type routeKey struct {
	network netip.Addr
	plen    uint8
	gateway netip.Addr
}

// Applier reconciles engine snapshots against kernel state: it installs
// entries that appeared and removes entries that were withdrawn or expired.
// It keeps its own copy of what it applied, so the borrowed snapshot slices
// are never retained.
type Applier struct {
	platform ndisc.Platform
	ifindex  int
	log      logr.Logger

	addrs  map[netip.Addr]struct{}
	routes map[routeKey]struct{}
}

// NewApplier creates an Applier wired to the given platform handle.
func NewApplier(platform ndisc.Platform, ifindex int, log logr.Logger) *Applier {
	return &Applier{
		platform: platform,
		ifindex:  ifindex,
		log:      log.WithName("applier"),
		addrs:    make(map[netip.Addr]struct{}),
		routes:   make(map[routeKey]struct{}),
	}
}

// preferenceMetric maps a router preference to a route metric, lower being
// more preferred.
func preferenceMetric(p ndp.Preference) int {
	switch p {
	case ndp.High:
		return 512
	case ndp.Low:
		return 2048
	default:
		return 1024
	}
}

// Apply reconciles one snapshot. It is safe to call from the engine's
// ConfigChanged dispatch.
func (a *Applier) Apply(ctx context.Context, snap *ndisc.Snapshot, changed ndisc.Change) {
	if changed&ndisc.ChangeAddresses != 0 {
		a.applyAddresses(ctx, snap.Addresses)
	}
	if changed&(ndisc.ChangeGateways|ndisc.ChangeRoutes) != 0 {
		a.applyRoutes(ctx, snap.Gateways, snap.Routes)
	}
}

func (a *Applier) applyAddresses(ctx context.Context, addrs []ndisc.Address) {
	want := make(map[netip.Addr]ndisc.Address, len(addrs))
	for _, addr := range addrs {
		want[addr.Address] = addr
	}

	for addr := range a.addrs {
		if _, ok := want[addr]; ok {
			continue
		}
		if err := a.platform.DelAddress(ctx, a.ifindex, addr, 64); err != nil {
			a.log.Error(err, "failed to remove address", "address", addr)
		}
		delete(a.addrs, addr)
	}

	// Lifetime updates are pushed unconditionally; the kernel treats a
	// re-add of an existing address as an update.
	for addr, entry := range want {
		if err := a.platform.AddAddress(ctx, a.ifindex, addr, 64, entry.Lifetime, entry.Preferred); err != nil {
			a.log.Error(err, "failed to install address", "address", addr)
			continue
		}
		a.addrs[addr] = struct{}{}
	}
}

func (a *Applier) applyRoutes(ctx context.Context, gateways []ndisc.Gateway, routes []ndisc.Route) {
	defaultRoute := netip.MustParsePrefix("::/0")

	want := make(map[routeKey]int)
	for _, gw := range gateways {
		key := routeKey{network: defaultRoute.Addr(), plen: 0, gateway: gw.Address}
		if _, ok := want[key]; !ok {
			want[key] = preferenceMetric(gw.Preference)
		}
	}
	for _, rt := range routes {
		key := routeKey{network: rt.Network, plen: rt.PrefixLength, gateway: rt.Gateway}
		if _, ok := want[key]; !ok {
			want[key] = preferenceMetric(rt.Preference)
		}
	}

	for key := range a.routes {
		if _, ok := want[key]; ok {
			continue
		}
		network := netip.PrefixFrom(key.network, int(key.plen))
		if err := a.platform.DelRoute(ctx, a.ifindex, network, key.gateway); err != nil {
			a.log.Error(err, "failed to remove route", "network", network)
		}
		delete(a.routes, key)
	}

	for key, metric := range want {
		if _, ok := a.routes[key]; ok {
			continue
		}
		network := netip.PrefixFrom(key.network, int(key.plen))
		if err := a.platform.AddRoute(ctx, a.ifindex, network, key.gateway, metric); err != nil {
			a.log.Error(err, "failed to install route", "network", network)
			continue
		}
		a.routes[key] = struct{}{}
	}
}

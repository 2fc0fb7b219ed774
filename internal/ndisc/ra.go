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
	"net/netip"
	"time"

	"github.com/mdlayher/ndp"
)

// HandleRA ingests one decoded Router Advertisement received from the
// router at from. Every piece of configuration the advertisement carries is
// merged into the snapshot, the accumulated change mask is handed to the
// reaper and one change signal is emitted at most.
func (e *Engine) HandleRA(from netip.Addr, ra *ndp.RouterAdvertisement) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var mask Change

	level := DHCPLevelNone
	if ra.OtherConfiguration {
		level = DHCPLevelOtherconf
	}
	if ra.ManagedConfiguration {
		level = DHCPLevelManaged
	}
	if level != e.dhcpLevel {
		e.dhcpLevel = level
		mask |= ChangeDHCPLevel
	}

	// The advertising router is a default gateway candidate; a zero
	// router lifetime withdraws it.
	if e.addGateway(Gateway{
		Address:    from,
		Timestamp:  now,
		Lifetime:   lifetimeSeconds(ra.RouterLifetime),
		Preference: ra.RouterSelectionPreference,
	}) {
		mask |= ChangeGateways
	}

	for _, opt := range ra.Options {
		switch o := opt.(type) {
		case *ndp.PrefixInformation:
			mask |= e.handlePrefix(now, o)
		case *ndp.RouteInformation:
			if o.PrefixLength == 0 {
				// A default route is already expressed by the router
				// lifetime; the route collection requires a real prefix.
				continue
			}
			if e.addRoute(Route{
				Network:      maskedPrefix(o.Prefix, int(o.PrefixLength)),
				PrefixLength: o.PrefixLength,
				Gateway:      from,
				Timestamp:    now,
				Lifetime:     lifetimeSeconds(o.RouteLifetime),
				Preference:   o.Preference,
			}) {
				mask |= ChangeRoutes
			}
		case *ndp.RecursiveDNSServer:
			lifetime := lifetimeSeconds(o.Lifetime)
			for _, server := range o.Servers {
				if e.addDNSServer(DNSServer{
					Address:   server,
					Timestamp: now,
					Lifetime:  lifetime,
				}) {
					mask |= ChangeDNSServers
				}
			}
		case *ndp.DNSSearchList:
			lifetime := lifetimeSeconds(o.Lifetime)
			for _, domain := range o.DomainNames {
				if e.addDNSDomain(DNSDomain{
					Domain:    domain,
					Timestamp: now,
					Lifetime:  lifetime,
				}) {
					mask |= ChangeDNSDomains
				}
			}
		case *ndp.MTU:
			e.mtu = o.MTU
		}
	}

	if ra.CurrentHopLimit > 0 {
		e.hopLimit = ra.CurrentHopLimit
	}
	if ra.ReachableTime != 0 {
		e.reachableTime = uint32(ra.ReachableTime / time.Millisecond)
	}
	if ra.RetransmitTimer != 0 {
		e.retransTimer = uint32(ra.RetransmitTimer / time.Millisecond)
	}

	e.raReceivedLocked(mask)
}

// handlePrefix applies one Prefix Information option: on-link prefixes
// produce a directly-connected route, autonomous /64 prefixes produce a
// SLAAC address.
func (e *Engine) handlePrefix(now int64, pi *ndp.PrefixInformation) Change {
	var mask Change

	if pi.OnLink {
		if e.addRoute(Route{
			Network:      maskedPrefix(pi.Prefix, int(pi.PrefixLength)),
			PrefixLength: pi.PrefixLength,
			Timestamp:    now,
			Lifetime:     lifetimeSeconds(pi.ValidLifetime),
			Preference:   ndp.Medium,
		}) {
			mask |= ChangeRoutes
		}
	}

	// Addresses can only be formed from /64 prefixes (RFC 4862), and a
	// preferred lifetime above the valid lifetime is nonsense we ignore.
	if pi.AutonomousAddressConfiguration && pi.PrefixLength == 64 {
		valid := lifetimeSeconds(pi.ValidLifetime)
		preferred := lifetimeSeconds(pi.PreferredLifetime)
		if preferred <= valid {
			if e.completeAndAddAddress(Address{
				Address:   maskedPrefix(pi.Prefix, 64),
				Timestamp: now,
				Lifetime:  valid,
				Preferred: preferred,
			}) {
				mask |= ChangeAddresses
			}
		}
	}

	return mask
}

// maskedPrefix zeroes the host bits of addr beyond plen.
func maskedPrefix(addr netip.Addr, plen int) netip.Addr {
	p, err := addr.Prefix(plen)
	if err != nil {
		return addr
	}
	return p.Addr()
}

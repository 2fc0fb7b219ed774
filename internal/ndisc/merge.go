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
	"fmt"
	"slices"

	"github.com/mdlayher/ndp"
)

// preferenceRank maps the RFC 4191 preference to a comparable rank.
// ndp.Preference wire values are not ordered (low is 3, high is 1).
func preferenceRank(p ndp.Preference) int {
	switch p {
	case ndp.High:
		return 2
	case ndp.Medium:
		return 1
	default:
		return 0
	}
}

// AddGateway merges a default router entry. A zero lifetime withdraws any
// entry with the same address. Gateways are kept in descending preference
// order; a preference change repositions the entry. The return value
// reports whether the snapshot changed.
func (e *Engine) AddGateway(g Gateway) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addGateway(g)
}

func (e *Engine) addGateway(g Gateway) bool {
	insertIdx := -1
	for i := 0; i < len(e.gateways); i++ {
		cur := &e.gateways[i]
		if cur.Address == g.Address {
			if g.Lifetime == 0 {
				e.gateways = slices.Delete(e.gateways, i, i+1)
				return true
			}
			if cur.Preference != g.Preference {
				// Repositioning: drop the stale entry and let the
				// scan find the slot for the new preference.
				e.gateways = slices.Delete(e.gateways, i, i+1)
				i--
				continue
			}
			*cur = g
			return false
		}
		if insertIdx < 0 && preferenceRank(cur.Preference) < preferenceRank(g.Preference) {
			insertIdx = i
		}
	}
	if g.Lifetime == 0 {
		return false
	}
	if insertIdx < 0 {
		insertIdx = len(e.gateways)
	}
	e.gateways = slices.Insert(e.gateways, insertIdx, g)
	return true
}

// CompleteAndAddAddress resolves the host bits of a prefix-derived address
// and merges it. A zero lifetime withdraws; an update only counts as a
// change when the valid or preferred expiry moved. New addresses beyond the
// configured cap are dropped.
func (e *Engine) CompleteAndAddAddress(a Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completeAndAddAddress(a)
}

func (e *Engine) completeAndAddAddress(a Address) bool {
	if err := e.completeAddress(&a); err != nil {
		e.log.Info("failed to generate an address, skipping prefix",
			"prefix", a.Address, "error", err.Error())
		e.metrics.synthesisFailure()
		return false
	}

	for i := range e.addresses {
		cur := &e.addresses[i]
		if cur.Address != a.Address {
			continue
		}
		if a.Lifetime == 0 {
			e.addresses = slices.Delete(e.addresses, i, i+1)
			return true
		}
		changed := expiry(cur.Timestamp, cur.Lifetime) != expiry(a.Timestamp, a.Lifetime) ||
			expiry(cur.Timestamp, cur.Preferred) != expiry(a.Timestamp, a.Preferred)
		cur.Timestamp = a.Timestamp
		cur.Lifetime = a.Lifetime
		cur.Preferred = a.Preferred
		return changed
	}

	if a.Lifetime == 0 {
		return false
	}
	if e.maxAddresses > 0 && len(e.addresses) >= e.maxAddresses {
		e.log.Info("address collection is full, dropping address",
			"address", a.Address, "max", e.maxAddresses)
		e.metrics.addressDroppedAtCap()
		return false
	}
	e.addresses = append(e.addresses, a)
	return true
}

// AddRoute merges a route entry, keyed by (network, prefix length), with
// the same preference-ordered insertion as gateways. A prefix length
// outside [1,128] is a caller contract breach.
func (e *Engine) AddRoute(r Route) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addRoute(r)
}

func (e *Engine) addRoute(r Route) bool {
	if r.PrefixLength < 1 || r.PrefixLength > 128 {
		panic(fmt.Sprintf("ndisc: route %s has invalid prefix length %d", r.Network, r.PrefixLength))
	}

	insertIdx := -1
	for i := 0; i < len(e.routes); i++ {
		cur := &e.routes[i]
		if cur.Network == r.Network && cur.PrefixLength == r.PrefixLength {
			if r.Lifetime == 0 {
				e.routes = slices.Delete(e.routes, i, i+1)
				return true
			}
			if cur.Preference != r.Preference {
				e.routes = slices.Delete(e.routes, i, i+1)
				i--
				continue
			}
			*cur = r
			return false
		}
		if insertIdx < 0 && preferenceRank(cur.Preference) < preferenceRank(r.Preference) {
			insertIdx = i
		}
	}
	if r.Lifetime == 0 {
		return false
	}
	if insertIdx < 0 {
		insertIdx = len(e.routes)
	}
	e.routes = slices.Insert(e.routes, insertIdx, r)
	return true
}

// AddDNSServer merges a recursive DNS server entry, keyed by address.
func (e *Engine) AddDNSServer(s DNSServer) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addDNSServer(s)
}

func (e *Engine) addDNSServer(s DNSServer) bool {
	for i := range e.dnsServers {
		cur := &e.dnsServers[i]
		if cur.Address != s.Address {
			continue
		}
		if s.Lifetime == 0 {
			e.dnsServers = slices.Delete(e.dnsServers, i, i+1)
			return true
		}
		changed := cur.Timestamp != s.Timestamp || cur.Lifetime != s.Lifetime
		*cur = s
		return changed
	}
	if s.Lifetime == 0 {
		return false
	}
	e.dnsServers = append(e.dnsServers, s)
	return true
}

// AddDNSDomain merges a DNS search domain entry, keyed by the domain string.
func (e *Engine) AddDNSDomain(d DNSDomain) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addDNSDomain(d)
}

func (e *Engine) addDNSDomain(d DNSDomain) bool {
	for i := range e.dnsDomains {
		cur := &e.dnsDomains[i]
		if cur.Domain != d.Domain {
			continue
		}
		if d.Lifetime == 0 {
			e.dnsDomains = slices.Delete(e.dnsDomains, i, i+1)
			return true
		}
		changed := cur.Timestamp != d.Timestamp || cur.Lifetime != d.Lifetime
		*cur = d
		return changed
	}
	if d.Lifetime == 0 {
		return false
	}
	e.dnsDomains = append(e.dnsDomains, d)
	return true
}

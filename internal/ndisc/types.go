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
	"math"
	"net/netip"
	"strings"
	"time"

	"github.com/mdlayher/ndp"
)

// LifetimeInfinite is the sentinel lifetime value meaning "never expires".
const LifetimeInfinite = ^uint32(0)

// DHCPLevel is the level of DHCPv6 support a router advertised through the
// M/O flags. The engine only propagates the hint; it never runs DHCPv6.
type DHCPLevel uint8

const (
	// DHCPLevelUnknown means no Router Advertisement was seen yet.
	DHCPLevelUnknown DHCPLevel = iota
	DHCPLevelNone
	DHCPLevelOtherconf
	DHCPLevelManaged
)

// String implements fmt.Stringer.
func (l DHCPLevel) String() string {
	switch l {
	case DHCPLevelNone:
		return "none"
	case DHCPLevelOtherconf:
		return "otherconf"
	case DHCPLevelManaged:
		return "managed"
	default:
		return "unknown"
	}
}

// Gateway is a default router learned from a Router Advertisement.
type Gateway struct {
	// Address is the router's link-local address. It keys the entry.
	Address netip.Addr

	// Timestamp is when this entry was learned, in monotonic seconds.
	Timestamp int64

	// Lifetime is the router lifetime in seconds.
	Lifetime uint32

	// Preference is the RFC 4191 router preference.
	Preference ndp.Preference
}

// Address is a host address synthesised from an advertised prefix.
type Address struct {
	// Address carries the network bits of the advertised prefix with the
	// host bits filled in by the synthesiser. It keys the entry.
	Address netip.Addr

	// Timestamp is when this entry was learned, in monotonic seconds.
	Timestamp int64

	// Lifetime is the valid lifetime in seconds.
	Lifetime uint32

	// Preferred is the preferred lifetime in seconds, at most Lifetime.
	Preferred uint32

	// DADCounter is the stable-privacy retry counter. It holds the value
	// the next duplicate-address retry will derive with.
	DADCounter uint8
}

// Route is a more-specific route learned from a Route Information option or
// an on-link prefix.
type Route struct {
	// Network is the masked route destination. Together with PrefixLength
	// it keys the entry.
	Network netip.Addr

	// PrefixLength is the destination prefix length, 1 to 128.
	PrefixLength uint8

	// Gateway is the next hop, or the zero Addr for on-link routes.
	Gateway netip.Addr

	// Timestamp is when this entry was learned, in monotonic seconds.
	Timestamp int64

	// Lifetime is the route lifetime in seconds.
	Lifetime uint32

	// Preference is the RFC 4191 route preference.
	Preference ndp.Preference
}

// DNSServer is a recursive DNS server learned from an RDNSS option.
type DNSServer struct {
	Address   netip.Addr
	Timestamp int64
	Lifetime  uint32
}

// DNSDomain is a search domain learned from a DNSSL option.
type DNSDomain struct {
	Domain    string
	Timestamp int64
	Lifetime  uint32
}

// Change is a bitmap of configuration categories touched within one logical
// transaction: a single RA ingest, reaper sweep or DAD fix-up.
type Change uint32

const (
	ChangeDHCPLevel Change = 1 << iota
	ChangeGateways
	ChangeAddresses
	ChangeRoutes
	ChangeDNSServers
	ChangeDNSDomains
)

// String implements fmt.Stringer.
func (c Change) String() string {
	if c == 0 {
		return "none"
	}
	names := []struct {
		bit  Change
		name string
	}{
		{ChangeDHCPLevel, "dhcp-level"},
		{ChangeGateways, "gateways"},
		{ChangeAddresses, "addresses"},
		{ChangeRoutes, "routes"},
		{ChangeDNSServers, "dns-servers"},
		{ChangeDNSDomains, "dns-domains"},
	}
	var parts []string
	for _, n := range names {
		if c&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Snapshot is the read-only view of the engine state handed to the
// ConfigChanged consumer. The slices borrow the engine's backing arrays and
// are only valid for the duration of the signal dispatch.
type Snapshot struct {
	DHCPLevel DHCPLevel

	// HopLimit is the advertised current hop limit, 0 if unspecified.
	HopLimit uint8

	// MTU is the advertised link MTU, 0 if unspecified.
	MTU uint32

	// ReachableTime and RetransTimer are in milliseconds, 0 if unspecified.
	ReachableTime uint32
	RetransTimer  uint32

	Gateways   []Gateway
	Addresses  []Address
	Routes     []Route
	DNSServers []DNSServer
	DNSDomains []DNSDomain
}

// neverExpires is the expiry value of records with an infinite lifetime.
const neverExpires = int64(math.MaxInt64)

// expiry returns the absolute monotonic second at which a record expires.
// The arithmetic is 64-bit so a large timestamp plus a large lifetime cannot
// wrap during comparison.
func expiry(timestamp int64, lifetime uint32) int64 {
	if lifetime == LifetimeInfinite {
		return neverExpires
	}
	return timestamp + int64(lifetime)
}

// refresh returns the half-life refresh boundary of a DNS record.
func refresh(timestamp int64, lifetime uint32) int64 {
	if lifetime == LifetimeInfinite {
		return neverExpires
	}
	return timestamp + int64(lifetime/2)
}

// lifetimeSeconds converts an option lifetime to engine seconds, preserving
// the infinity sentinel.
func lifetimeSeconds(d time.Duration) uint32 {
	if d == ndp.Infinity {
		return LifetimeInfinite
	}
	return uint32(d / time.Second)
}

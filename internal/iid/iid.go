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

// Package iid derives IPv6 interface identifiers: Modified-EUI-64 from a
// link-layer address (RFC 4291) and stable-privacy host bits from secret
// key material (RFC 7217).
package iid

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/jr42/slaac-engine/internal/ndisc"
)

// FromMAC derives a Modified-EUI-64 interface identifier from a link-layer
// address: 6-byte MACs get FF:FE inserted in the middle, 8-byte EUI-64
// addresses pass through; the universal/local bit is flipped either way.
func FromMAC(hw net.HardwareAddr) (ndisc.IID, error) {
	var iid ndisc.IID
	switch len(hw) {
	case 6:
		copy(iid[0:3], hw[0:3])
		iid[3] = 0xff
		iid[4] = 0xfe
		copy(iid[5:8], hw[3:6])
	case 8:
		copy(iid[:], hw)
	default:
		return iid, fmt.Errorf("cannot derive an interface identifier from a %d-byte hardware address", len(hw))
	}
	iid[0] ^= 0x02
	return iid, nil
}

// Deriver produces RFC 7217 stable-privacy host bits from a secret. The
// zero Deriver is unusable; the secret must be non-empty and not all
// zeroes.
type Deriver struct {
	secret []byte
}

// NewDeriver validates the secret key material and returns a Deriver.
func NewDeriver(secret []byte) (*Deriver, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("stable-privacy secret is empty")
	}
	zero := true
	for _, b := range secret {
		if b != 0 {
			zero = false
			break
		}
	}
	if zero {
		return nil, fmt.Errorf("stable-privacy secret is all zeroes")
	}
	return &Deriver{secret: append([]byte(nil), secret...)}, nil
}

// DeriveStable fills the host 64 bits of addr from the advertised prefix,
// the interface name, the network identity and the duplicate-address retry
// counter. It satisfies the engine's derivation hook.
func (d *Deriver) DeriveStable(stableType ndisc.StableType, addr *netip.Addr, ifname, networkID string, dadCounter uint8) error {
	if !addr.Is6() || addr.Is4In6() {
		return fmt.Errorf("cannot derive stable host bits for %s", addr)
	}

	mac := hmac.New(sha256.New, d.secret)
	b := addr.As16()
	mac.Write(b[:8])
	mac.Write([]byte{byte(stableType)})
	mac.Write([]byte(ifname))
	mac.Write([]byte{0})
	mac.Write([]byte(networkID))
	mac.Write([]byte{0})
	mac.Write(binary.BigEndian.AppendUint16(nil, uint16(dadCounter)))
	sum := mac.Sum(nil)

	copy(b[8:], sum[:8])
	*addr = netip.AddrFrom16(b)
	return nil
}

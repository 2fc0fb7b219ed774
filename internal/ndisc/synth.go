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
	"errors"
	"net/netip"
	"slices"
)

var (
	errNoIID          = errors.New("no interface identifier installed")
	errEUI64Collision = errors.New("eui64 addresses have no duplicate-address retry")
	errRetryExhausted = errors.New("stable-privacy retry counter exhausted")
)

// completeAddress fills the host bits of a. The network bits are already set
// from the advertised prefix; non-zero host bits mean a previous attempt was
// rejected by duplicate address detection.
func (e *Engine) completeAddress(a *Address) error {
	if e.cfg.AddrGenMode == AddrGenModeStablePrivacy {
		if a.DADCounter >= stablePrivacyRetryLimit {
			return errRetryExhausted
		}
		if err := e.cfg.DeriveStable(e.cfg.StableType, &a.Address, e.cfg.IfName, e.cfg.NetworkID, a.DADCounter); err != nil {
			return err
		}
		// The next retry derives with a fresh counter value.
		a.DADCounter++
		return nil
	}

	if e.iid.IsZero() {
		return errNoIID
	}
	b := a.Address.As16()
	if !hostBitsZero(b) {
		return errEUI64Collision
	}
	copy(b[8:], e.iid[:])
	a.Address = netip.AddrFrom16(b)
	return nil
}

// hostBitsZero reports whether both 32-bit halves of the interface
// identifier are zero.
func hostBitsZero(b [16]byte) bool {
	for _, c := range b[8:] {
		if c != 0 {
			return false
		}
	}
	return true
}

// DADFailed handles a duplicate address detection failure reported by the
// platform. Stable-privacy addresses are regenerated with the next counter
// value; EUI-64 addresses and exhausted retries are dropped. A change signal
// is emitted when anything was touched.
func (e *Engine) DADFailed(addr netip.Addr) {
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := false
	for i := 0; i < len(e.addresses); i++ {
		cur := &e.addresses[i]
		if cur.Address != addr {
			continue
		}

		e.log.Info("duplicate address detection failed", "address", addr)
		e.metrics.dadFailure()

		retry := *cur
		if err := e.completeAddress(&retry); err != nil {
			e.log.Info("giving up on address after failed duplicate address detection",
				"address", addr, "error", err.Error())
			e.addresses = slices.Delete(e.addresses, i, i+1)
			i--
			changed = true
			continue
		}
		e.log.V(1).Info("regenerated address after duplicate address detection failure",
			"old", addr, "new", retry.Address, "attempt", retry.DADCounter)
		e.metrics.dadRetry()
		*cur = retry
		changed = true
	}

	if changed {
		e.emitLocked(ChangeAddresses)
	}
}

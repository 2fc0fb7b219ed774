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
	"slices"
	"time"
)

// RAReceived tells the engine a Router Advertisement was ingested: the
// caller already applied its contents through the merge operations and
// accumulated the returned change flags into mask. Pending solicitations
// and the RA timeout are cancelled, then a reaper sweep runs and emits the
// accumulated changes.
func (e *Engine) RAReceived(mask Change) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.raReceivedLocked(mask)
}

func (e *Engine) raReceivedLocked(mask Change) {
	e.metrics.raReceived()
	if e.sendRSTimer != nil {
		e.sendRSTimer.Stop()
		e.sendRSTimer = nil
	}
	if e.raTimeoutTimer != nil {
		e.raTimeoutTimer.Stop()
		e.raTimeoutTimer = nil
	}
	e.lastSendRSError = ""
	e.checkLocked(mask)
}

// checkLocked is the lifetime reaper: it deletes expired entries, triggers
// re-solicitation for half-expired DNS entries, emits the accumulated
// change mask and arms the single consolidated timer for the earliest
// upcoming boundary.
func (e *Engine) checkLocked(mask Change) {
	now := e.now()
	nextEvent := neverExpires

	e.gateways = slices.DeleteFunc(e.gateways, func(g Gateway) bool {
		exp := expiry(g.Timestamp, g.Lifetime)
		if exp == neverExpires {
			return false
		}
		if now >= exp {
			e.log.V(1).Info("gateway expired", "gateway", g.Address)
			mask |= ChangeGateways
			return true
		}
		nextEvent = min(nextEvent, exp)
		return false
	})

	e.addresses = slices.DeleteFunc(e.addresses, func(a Address) bool {
		exp := expiry(a.Timestamp, a.Lifetime)
		if exp == neverExpires {
			return false
		}
		if now >= exp {
			e.log.V(1).Info("address expired", "address", a.Address)
			mask |= ChangeAddresses
			return true
		}
		nextEvent = min(nextEvent, exp)
		return false
	})

	e.routes = slices.DeleteFunc(e.routes, func(r Route) bool {
		exp := expiry(r.Timestamp, r.Lifetime)
		if exp == neverExpires {
			return false
		}
		if now >= exp {
			e.log.V(1).Info("route expired", "network", r.Network, "plen", r.PrefixLength)
			mask |= ChangeRoutes
			return true
		}
		nextEvent = min(nextEvent, exp)
		return false
	})

	// DNS entries are additionally refreshed at their half-life: the
	// engine re-solicits so the information can be relearned before loss.
	resolicit := false
	e.dnsServers = slices.DeleteFunc(e.dnsServers, func(s DNSServer) bool {
		exp := expiry(s.Timestamp, s.Lifetime)
		if exp == neverExpires {
			return false
		}
		if now >= exp {
			e.log.V(1).Info("DNS server expired", "server", s.Address)
			mask |= ChangeDNSServers
			return true
		}
		nextEvent = min(nextEvent, exp)
		if ref := refresh(s.Timestamp, s.Lifetime); now >= ref {
			resolicit = true
		} else {
			nextEvent = min(nextEvent, ref)
		}
		return false
	})

	e.dnsDomains = slices.DeleteFunc(e.dnsDomains, func(d DNSDomain) bool {
		exp := expiry(d.Timestamp, d.Lifetime)
		if exp == neverExpires {
			return false
		}
		if now >= exp {
			e.log.V(1).Info("DNS domain expired", "domain", d.Domain)
			mask |= ChangeDNSDomains
			return true
		}
		nextEvent = min(nextEvent, exp)
		if ref := refresh(d.Timestamp, d.Lifetime); now >= ref {
			resolicit = true
		} else {
			nextEvent = min(nextEvent, ref)
		}
		return false
	})

	if resolicit {
		e.log.V(1).Info("DNS information is past its refresh boundary, re-soliciting")
		e.solicitLocked()
	}

	if e.reapTimer != nil {
		e.reapTimer.Stop()
		e.reapTimer = nil
	}

	if mask != 0 {
		e.emitLocked(mask)
	}

	if nextEvent != neverExpires {
		delay := nextEvent - now
		if delay < 0 {
			delay = 0
		}
		e.log.V(1).Info("arming lifetime timer", "delay", delay)
		e.reapTimer = e.clock.AfterFunc(time.Duration(delay)*time.Second, e.onReapTimer)
	}
}

func (e *Engine) onReapTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.reapTimer = nil
	e.checkLocked(0)
}

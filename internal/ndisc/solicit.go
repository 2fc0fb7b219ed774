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

import "time"

// Solicit starts a round of Router Solicitations unless one is already
// scheduled. The first send is spaced at least one interval after the
// previous send, so repeated triggers (DNS refresh boundaries, identifier
// rotation) cannot flood the link.
func (e *Engine) Solicit() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.solicitLocked()
}

func (e *Engine) solicitLocked() {
	if e.sendRSTimer != nil {
		return
	}
	e.solicitationsLeft = e.cfg.RouterSolicitations

	next := e.lastRS + int64(e.cfg.RouterSolicitationInterval) - e.now()
	if next < 0 {
		next = 0
	}
	e.log.V(1).Info("scheduling router solicitation", "delay", next)
	e.sendRSTimer = e.clock.AfterFunc(time.Duration(next)*time.Second, e.sendRS)
}

// sendRS is the solicitation timer callback. A failed send is logged once
// at warning level per distinct error and does not consume the retry
// budget; the RA-timeout clock keeps ticking independently.
func (e *Engine) sendRS() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}
	e.sendRSTimer = nil

	e.log.V(1).Info("sending router solicitation")
	err := e.cfg.Transport.SendRouterSolicitation()
	e.lastRS = e.now()

	if err == nil {
		e.solicitationsLeft--
		e.lastSendRSError = ""
		e.metrics.rsSent()
	} else {
		if err.Error() != e.lastSendRSError {
			e.log.Info("failure sending router solicitation", "error", err.Error())
		} else {
			e.log.V(1).Info("failure sending router solicitation", "error", err.Error())
		}
		e.lastSendRSError = err.Error()
		e.metrics.rsSendFailure()
	}

	if e.solicitationsLeft > 0 {
		e.sendRSTimer = e.clock.AfterFunc(
			time.Duration(e.cfg.RouterSolicitationInterval)*time.Second, e.sendRS)
	} else {
		e.log.V(1).Info("router solicitation budget exhausted")
	}
}

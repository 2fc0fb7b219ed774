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

package transport

import (
	"net/netip"
	"testing"

	"github.com/go-logr/logr"
	"github.com/mdlayher/ndp"
	"github.com/vishvananda/netns"
)

type nopHandler struct{}

func (nopHandler) HandleRA(netip.Addr, *ndp.RouterAdvertisement) {}

func TestSendBeforeStartFails(t *testing.T) {
	tr := New("net0", nopHandler{}, netns.None(), logr.Discard())
	if err := tr.SendRouterSolicitation(); err == nil {
		t.Error("expected a send on an unstarted transport to fail")
	}
}

func TestCloseBeforeStartIsNoOp(t *testing.T) {
	tr := New("net0", nopHandler{}, netns.None(), logr.Discard())
	if err := tr.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

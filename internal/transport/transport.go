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

// Package transport moves ICMPv6 Router Solicitations and Router
// Advertisements between the wire and the neighbor discovery engine.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/mdlayher/ndp"
	"github.com/vishvananda/netns"

	"github.com/jr42/slaac-engine/internal/netnsutil"
)

// readTimeout spaces the receive loop's stop-signal checks.
const readTimeout = time.Second

// RAHandler consumes decoded Router Advertisements. *ndisc.Engine satisfies
// it through HandleRA.
type RAHandler interface {
	HandleRA(from netip.Addr, ra *ndp.RouterAdvertisement)
}

// NDPTransport sends Router Solicitations and feeds received Router
// Advertisements to an engine. All socket work is bracketed by the
// configured network namespace.
type NDPTransport struct {
	mu      sync.Mutex
	ifname  string
	handler RAHandler
	ns      netns.NsHandle
	log     logr.Logger

	conn    *ndp.Conn
	hwAddr  net.HardwareAddr
	stopCh  chan struct{}
	started bool
}

// New creates a transport for the named interface. ns may be netns.None()
// to stay in the current namespace.
func New(ifname string, handler RAHandler, ns netns.NsHandle, log logr.Logger) *NDPTransport {
	return &NDPTransport{
		ifname:  ifname,
		handler: handler,
		ns:      ns,
		log:     log.WithName("ndp-transport").WithValues("interface", ifname),
		stopCh:  make(chan struct{}),
	}
}

// Start opens the NDP socket inside the transport's namespace and begins
// the receive loop.
func (t *NDPTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return nil
	}

	err := netnsutil.Do(t.ns, func() error {
		ifi, err := net.InterfaceByName(t.ifname)
		if err != nil {
			return fmt.Errorf("failed to get interface %s: %w", t.ifname, err)
		}
		t.hwAddr = ifi.HardwareAddr

		conn, addr, err := ndp.Listen(ifi, ndp.LinkLocal)
		if err != nil {
			return fmt.Errorf("failed to create NDP listener on %s: %w", t.ifname, err)
		}

		t.log.Info("NDP listener started", "localAddr", addr.String())
		t.conn = conn
		return nil
	})
	if err != nil {
		return err
	}

	t.started = true
	go t.receiveLoop(ctx)
	return nil
}

// Close stops the receive loop and closes the socket.
func (t *NDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return nil
	}
	t.started = false
	close(t.stopCh)
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

// SendRouterSolicitation sends exactly one Router Solicitation to the
// all-routers multicast group.
func (t *NDPTransport) SendRouterSolicitation() error {
	t.mu.Lock()
	conn := t.conn
	hwAddr := t.hwAddr
	t.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("transport is not started")
	}

	rs := &ndp.RouterSolicitation{}
	if len(hwAddr) > 0 {
		rs.Options = append(rs.Options, &ndp.LinkLayerAddress{
			Direction: ndp.Source,
			Addr:      hwAddr,
		})
	}

	return netnsutil.Do(t.ns, func() error {
		if err := conn.WriteTo(rs, nil, netip.IPv6LinkLocalAllRouters()); err != nil {
			return fmt.Errorf("failed to send router solicitation: %w", err)
		}
		return nil
	})
}

// receiveLoop continuously reads NDP messages from the interface and hands
// Router Advertisements to the engine.
func (t *NDPTransport) receiveLoop(ctx context.Context) {
	t.log.V(1).Info("receive loop started")

	for {
		select {
		case <-t.stopCh:
			t.log.V(1).Info("receive loop stopping")
			return
		case <-ctx.Done():
			t.log.V(1).Info("receive loop stopping (ctx done)")
			return
		default:
		}

		// The read deadline lets the loop check its stop signal.
		if err := t.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			t.log.Error(err, "failed to set read deadline")
			return
		}

		msg, _, from, err := t.conn.ReadFrom()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-t.stopCh:
				return
			default:
			}
			t.log.Error(err, "failed to read NDP message")
			continue
		}

		ra, ok := msg.(*ndp.RouterAdvertisement)
		if !ok {
			t.log.V(2).Info("ignoring non-RA message", "type", fmt.Sprintf("%T", msg))
			continue
		}

		t.log.V(1).Info("received router advertisement", "from", from, "optionCount", len(ra.Options))
		t.handler.HandleRA(from, ra)
	}
}

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

// Package platform installs learned IPv6 configuration into the kernel and
// reports duplicate address detection outcomes back to the engine.
package platform

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/go-logr/logr"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// Netlink is the rtnetlink-backed kernel interface. It satisfies
// ndisc.Platform.
type Netlink struct {
	handle *netlink.Handle
	ns     netns.NsHandle
	log    logr.Logger
}

// New opens an rtnetlink handle, scoped to ns when one is given.
func New(ns netns.NsHandle, log logr.Logger) (*Netlink, error) {
	var (
		handle *netlink.Handle
		err    error
	)
	if ns != netns.None() {
		handle, err = netlink.NewHandleAt(ns)
	} else {
		handle, err = netlink.NewHandle()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open rtnetlink handle: %w", err)
	}
	return &Netlink{
		handle: handle,
		ns:     ns,
		log:    log.WithName("platform"),
	}, nil
}

// Close releases the rtnetlink handle.
func (n *Netlink) Close() {
	n.handle.Close()
}

// AddAddress installs addr on the interface with kernel-side lifetimes. DAD
// stays enabled; failures come back through WatchDADFailures.
func (n *Netlink) AddAddress(_ context.Context, ifindex int, addr netip.Addr, prefixLen int, valid, preferred uint32) error {
	link, err := n.handle.LinkByIndex(ifindex)
	if err != nil {
		return fmt.Errorf("failed to find link %d: %w", ifindex, err)
	}
	nlAddr := &netlink.Addr{
		IPNet: &net.IPNet{
			IP:   addr.AsSlice(),
			Mask: net.CIDRMask(prefixLen, 128),
		},
		Flags:       unix.IFA_F_NOPREFIXROUTE,
		ValidLft:    int(valid),
		PreferedLft: int(preferred),
	}
	if err := n.handle.AddrReplace(link, nlAddr); err != nil {
		return fmt.Errorf("failed to install address %s: %w", addr, err)
	}
	n.log.V(1).Info("installed address", "address", addr, "valid", valid, "preferred", preferred)
	return nil
}

// DelAddress removes addr from the interface.
func (n *Netlink) DelAddress(_ context.Context, ifindex int, addr netip.Addr, prefixLen int) error {
	link, err := n.handle.LinkByIndex(ifindex)
	if err != nil {
		return fmt.Errorf("failed to find link %d: %w", ifindex, err)
	}
	nlAddr := &netlink.Addr{
		IPNet: &net.IPNet{
			IP:   addr.AsSlice(),
			Mask: net.CIDRMask(prefixLen, 128),
		},
	}
	if err := n.handle.AddrDel(link, nlAddr); err != nil {
		return fmt.Errorf("failed to remove address %s: %w", addr, err)
	}
	n.log.V(1).Info("removed address", "address", addr)
	return nil
}

// AddRoute installs a route towards network. A zero gateway installs an
// on-link route.
func (n *Netlink) AddRoute(_ context.Context, ifindex int, network netip.Prefix, gateway netip.Addr, metric int) error {
	route := &netlink.Route{
		LinkIndex: ifindex,
		Dst: &net.IPNet{
			IP:   network.Addr().AsSlice(),
			Mask: net.CIDRMask(network.Bits(), 128),
		},
		Priority: metric,
		Protocol: unix.RTPROT_RA,
	}
	if gateway.IsValid() && !gateway.IsUnspecified() {
		route.Gw = gateway.AsSlice()
	}
	if err := n.handle.RouteReplace(route); err != nil {
		return fmt.Errorf("failed to install route %s: %w", network, err)
	}
	n.log.V(1).Info("installed route", "network", network, "gateway", gateway, "metric", metric)
	return nil
}

// DelRoute removes a route previously installed with AddRoute.
func (n *Netlink) DelRoute(_ context.Context, ifindex int, network netip.Prefix, gateway netip.Addr) error {
	route := &netlink.Route{
		LinkIndex: ifindex,
		Dst: &net.IPNet{
			IP:   network.Addr().AsSlice(),
			Mask: net.CIDRMask(network.Bits(), 128),
		},
	}
	if gateway.IsValid() && !gateway.IsUnspecified() {
		route.Gw = gateway.AsSlice()
	}
	if err := n.handle.RouteDel(route); err != nil {
		return fmt.Errorf("failed to remove route %s: %w", network, err)
	}
	n.log.V(1).Info("removed route", "network", network)
	return nil
}

// WatchDADFailures subscribes to kernel address updates and yields every
// tentative address the kernel flagged as a duplicate.
func (n *Netlink) WatchDADFailures(ctx context.Context, ifindex int) (<-chan netip.Addr, error) {
	updates := make(chan netlink.AddrUpdate, 16)
	done := make(chan struct{})

	opts := netlink.AddrSubscribeOptions{
		ErrorCallback: func(err error) {
			n.log.Error(err, "address subscription error")
		},
	}
	if n.ns != netns.None() {
		opts.Namespace = &n.ns
	}
	if err := netlink.AddrSubscribeWithOptions(updates, done, opts); err != nil {
		return nil, fmt.Errorf("failed to subscribe to address updates: %w", err)
	}

	failures := make(chan netip.Addr, 16)
	go func() {
		defer close(done)
		defer close(failures)
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.LinkIndex != ifindex || update.Flags&unix.IFA_F_DADFAILED == 0 {
					continue
				}
				addr, ok := netip.AddrFromSlice(update.LinkAddress.IP)
				if !ok || !addr.Is6() {
					continue
				}
				n.log.Info("kernel reported a duplicate address", "address", addr)
				select {
				case failures <- addr:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return failures, nil
}

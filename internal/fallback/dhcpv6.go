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

// Package fallback fetches DNS configuration over stateless DHCPv6 when
// router discovery came up empty or a router asked for it through the M/O
// flags. It performs a single Information-Request exchange; address
// assignment is deliberately out of its reach.
package fallback

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/go-logr/logr"
	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/dhcpv6/nclient6"
	"github.com/insomniacslk/dhcp/iana"
)

// exchangeTimeout bounds one Information-Request round trip.
const exchangeTimeout = 30 * time.Second

// DNSInfo is the result of a stateless DHCPv6 exchange.
type DNSInfo struct {
	Servers []netip.Addr
	Domains []string
}

// InfoClient runs stateless DHCPv6 Information-Request exchanges on one
// interface.
type InfoClient struct {
	iface string
	log   logr.Logger
}

// NewInfoClient creates a client bound to the named interface.
func NewInfoClient(iface string, log logr.Logger) *InfoClient {
	return &InfoClient{
		iface: iface,
		log:   log.WithName("dhcpv6-fallback").WithValues("interface", iface),
	}
}

// Fetch performs one Information-Request / Reply exchange and returns the
// DNS servers and search domains the server handed out.
func (c *InfoClient) Fetch(ctx context.Context) (*DNSInfo, error) {
	ifi, err := net.InterfaceByName(c.iface)
	if err != nil {
		return nil, fmt.Errorf("failed to get interface %s: %w", c.iface, err)
	}

	client, err := nclient6.New(c.iface)
	if err != nil {
		return nil, fmt.Errorf("failed to create DHCPv6 client: %w", err)
	}
	defer func() { _ = client.Close() }()

	request, err := dhcpv6.NewMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to create Information-Request: %w", err)
	}
	request.MessageType = dhcpv6.MessageTypeInformationRequest
	request.AddOption(dhcpv6.OptClientID(&dhcpv6.DUIDLL{
		HWType:        iana.HWTypeEthernet,
		LinkLayerAddr: ifi.HardwareAddr,
	}))
	request.AddOption(dhcpv6.OptRequestedOption(
		dhcpv6.OptionDNSRecursiveNameServer,
		dhcpv6.OptionDomainSearchList,
	))

	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	reply, err := client.SendAndRead(ctx, nclient6.AllDHCPRelayAgentsAndServers, request,
		nclient6.IsMessageType(dhcpv6.MessageTypeReply))
	if err != nil {
		return nil, fmt.Errorf("failed to receive REPLY: %w", err)
	}

	info := &DNSInfo{}
	for _, ip := range reply.Options.DNS() {
		if addr, ok := netip.AddrFromSlice(ip); ok && addr.Is6() {
			info.Servers = append(info.Servers, addr)
		}
	}
	if labels := reply.Options.DomainSearchList(); labels != nil {
		info.Domains = append(info.Domains, labels.Labels...)
	}

	c.log.Info("stateless DHCPv6 exchange finished",
		"servers", len(info.Servers), "domains", len(info.Domains))
	return info, nil
}

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

// slaacd autoconfigures IPv6 on one interface from Router Advertisements.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/zapr"
	"github.com/mdlayher/ndp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/vishvananda/netns"
	"go.uber.org/zap"

	"github.com/jr42/slaac-engine/internal/fallback"
	"github.com/jr42/slaac-engine/internal/iid"
	"github.com/jr42/slaac-engine/internal/ndisc"
	"github.com/jr42/slaac-engine/internal/netnsutil"
	"github.com/jr42/slaac-engine/internal/platform"
	"github.com/jr42/slaac-engine/internal/transport"
)

type options struct {
	iface               string
	addrGenMode         string
	stableSecretFile    string
	networkID           string
	netnsPath           string
	maxAddresses        int
	routerSolicitations int
	rsInterval          int
	metricsAddr         string
	verbosity           int
}

func main() {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "slaacd",
		Short: "IPv6 stateless address autoconfiguration daemon",
		Long: `slaacd listens for IPv6 Router Advertisements on one interface,
derives addresses from advertised prefixes, installs addresses and routes
into the kernel and keeps everything fresh as lifetimes tick down.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.iface, "interface", "i", "", "interface to autoconfigure (required)")
	flags.StringVar(&opts.addrGenMode, "addr-gen-mode", "eui64", "address generation mode: eui64 or stable-privacy")
	flags.StringVar(&opts.stableSecretFile, "stable-secret-file", "", "file holding the stable-privacy secret")
	flags.StringVar(&opts.networkID, "network-id", "", "stable-privacy network identity")
	flags.StringVar(&opts.netnsPath, "netns", "", "path to a network namespace to operate in")
	flags.IntVar(&opts.maxAddresses, "max-addresses", 16, "maximum autoconfigured addresses, 0 disables the cap")
	flags.IntVar(&opts.routerSolicitations, "router-solicitations", 3, "router solicitation retry budget")
	flags.IntVar(&opts.rsInterval, "router-solicitation-interval", 4, "seconds between router solicitations")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "listen address for Prometheus metrics, empty disables")
	flags.IntVarP(&opts.verbosity, "verbosity", "v", 0, "log verbosity")
	_ = cmd.MarkFlagRequired("interface")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// raHandlerProxy breaks the construction cycle between the transport and
// the engine.
type raHandlerProxy struct {
	engine *ndisc.Engine
}

func (p *raHandlerProxy) HandleRA(from netip.Addr, ra *ndp.RouterAdvertisement) {
	if p.engine != nil {
		p.engine.HandleRA(from, ra)
	}
}

func run(ctx context.Context, opts *options) error {
	zapCfg := zap.NewProductionConfig()
	if opts.verbosity > 0 {
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zapLog, err := zapCfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = zapLog.Sync() }()
	log := zapr.NewLogger(zapLog)

	ns := netns.None()
	if opts.netnsPath != "" {
		ns, err = netns.GetFromPath(opts.netnsPath)
		if err != nil {
			return fmt.Errorf("failed to open network namespace %s: %w", opts.netnsPath, err)
		}
		defer func() { _ = ns.Close() }()
	}

	plat, err := platform.New(ns, log)
	if err != nil {
		return err
	}
	defer plat.Close()

	var ifindex int
	var hwAddr net.HardwareAddr
	err = netnsutil.Do(ns, func() error {
		ifi, err := net.InterfaceByName(opts.iface)
		if err != nil {
			return fmt.Errorf("failed to get interface %s: %w", opts.iface, err)
		}
		ifindex = ifi.Index
		hwAddr = ifi.HardwareAddr
		return nil
	})
	if err != nil {
		return err
	}

	var metrics *ndisc.Metrics
	if opts.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics = ndisc.NewMetrics(reg, opts.iface)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: opts.metricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error(err, "metrics server failed")
			}
		}()
		defer func() { _ = server.Close() }()
	}

	proxy := &raHandlerProxy{}
	trans := transport.New(opts.iface, proxy, ns, log)

	cfg := ndisc.Config{
		Platform:                   plat,
		Transport:                  trans,
		IfIndex:                    ifindex,
		IfName:                     opts.iface,
		NetworkID:                  opts.networkID,
		MaxAddresses:               &opts.maxAddresses,
		RouterSolicitations:        opts.routerSolicitations,
		RouterSolicitationInterval: opts.rsInterval,
		Logger:                     log,
		Metrics:                    metrics,
	}

	switch opts.addrGenMode {
	case "eui64":
		cfg.AddrGenMode = ndisc.AddrGenModeEUI64
	case "stable-privacy":
		cfg.AddrGenMode = ndisc.AddrGenModeStablePrivacy
		secret, err := os.ReadFile(opts.stableSecretFile)
		if err != nil {
			return fmt.Errorf("failed to read stable-privacy secret: %w", err)
		}
		deriver, err := iid.NewDeriver(secret)
		if err != nil {
			return err
		}
		cfg.DeriveStable = deriver.DeriveStable
	default:
		return fmt.Errorf("unknown address generation mode %q", opts.addrGenMode)
	}

	applier := platform.NewApplier(plat, ifindex, log)
	cfg.ConfigChanged = func(snap *ndisc.Snapshot, changed ndisc.Change) {
		log.Info("configuration changed",
			"changed", changed.String(),
			"dhcpLevel", snap.DHCPLevel.String(),
			"gateways", len(snap.Gateways),
			"addresses", len(snap.Addresses),
			"routes", len(snap.Routes),
			"dnsServers", len(snap.DNSServers),
			"dnsDomains", len(snap.DNSDomains))
		applier.Apply(ctx, snap, changed)
	}

	dhcp := fallback.NewInfoClient(opts.iface, log)
	cfg.RATimeout = func() {
		log.Info("router discovery timed out, trying stateless DHCPv6")
		go func() {
			info, err := dhcp.Fetch(ctx)
			if err != nil {
				log.Error(err, "stateless DHCPv6 fallback failed")
				return
			}
			for _, server := range info.Servers {
				log.Info("DHCPv6 DNS server", "server", server)
			}
			for _, domain := range info.Domains {
				log.Info("DHCPv6 DNS domain", "domain", domain)
			}
		}()
	}

	engine, err := ndisc.New(cfg)
	if err != nil {
		return err
	}
	defer engine.Stop()
	proxy.engine = engine

	if cfg.AddrGenMode == ndisc.AddrGenModeEUI64 {
		identifier, err := iid.FromMAC(hwAddr)
		if err != nil {
			return err
		}
		engine.SetIID(identifier)
	}

	failures, err := plat.WatchDADFailures(ctx, ifindex)
	if err != nil {
		return err
	}
	go func() {
		for addr := range failures {
			engine.DADFailed(addr)
		}
	}()

	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = trans.Close() }()

	log.Info("slaacd started", "interface", opts.iface, "ifindex", ifindex, "mode", opts.addrGenMode)
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

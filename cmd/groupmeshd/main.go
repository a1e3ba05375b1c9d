// Copyright 2020 Acnodal Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// groupmeshd runs the IGMP/MLD group-membership engine against the
// host's live interfaces.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"groupmesh.io/internal/collab"
	"groupmesh.io/internal/logging"
	"groupmesh.io/internal/membership"
	"groupmesh.io/internal/netutil"
	"groupmesh.io/internal/timerwheel"
)

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func main() {
	logger := logging.Init()

	var (
		host   = flag.String("host", envOr("GROUPMESH_HOST", ""), "HTTP host address for Prometheus metrics")
		port   = flag.Int("port", 7473, "HTTP listening port for Prometheus metrics")
		family = flag.String("family", envOr("GROUPMESH_FAMILY", "ipv4"), "address family to run over: ipv4 or ipv6")
	)
	flag.Parse()

	var fam netutil.Family
	var version membership.Version
	var packetIO interface {
		collab.PacketBus
		collab.MulticastGroupMembership
		Close() error
		Serve(ctx context.Context, ifIndexToName map[int]string, handler func(collab.PacketMeta, []byte)) error
	}
	var err error
	switch *family {
	case "ipv4":
		fam, version = netutil.IPv4, membership.IGMPv3
		packetIO, err = collab.NewIPv4PacketIO(logger)
	case "ipv6":
		fam, version = netutil.IPv6, membership.MLDv2
		packetIO, err = collab.NewIPv6PacketIO(logger)
	default:
		logging.Info(logger, "op", "startup", "error", "family must be ipv4 or ipv6", "msg", "bad configuration")
		os.Exit(1)
	}
	if err != nil {
		logging.Info(logger, "op", "startup", "error", err, "msg", "failed to open packet I/O")
		os.Exit(1)
	}
	defer packetIO.Close()

	ifaces, err := collab.NewNetlinkInterfaceManager(logger, fam)
	if err != nil {
		logging.Info(logger, "op", "startup", "error", err, "msg", "failed to open netlink interface manager")
		os.Exit(1)
	}
	defer ifaces.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		c1 := make(chan os.Signal, 1)
		signal.Notify(c1, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
		<-c1
		logging.Info(logger, "op", "shutdown", "msg", "signal received, initiating shutdown")
		signal.Stop(c1)
		cancel()
	}()

	sched := timerwheel.New()
	defer sched.Stop()

	node := membership.NewMembershipNode(logger, sched, packetIO, packetIO, ifaces)
	go node.ServeInterfaceEvents(ctx, version)

	startupIfaces, err := ifaces.Interfaces(ctx)
	if err != nil {
		logging.Info(logger, "op", "startup", "error", err, "msg", "failed to enumerate interfaces")
		os.Exit(1)
	}
	ifIndexToName := map[int]string{}
	for _, info := range startupIfaces {
		ifIndexToName[info.Index] = info.Name
		if info.AdminUp && !info.PrimaryAddr.IsZero() {
			node.AddVif(ctx, info, version)
		}
	}

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		http.ListenAndServe(fmt.Sprintf("%s:%d", *host, *port), nil)
	}()

	if err := packetIO.Serve(ctx, ifIndexToName, node.Recv); err != nil {
		logging.Info(logger, "op", "run", "error", err, "msg", "packet I/O exited with error")
	}

	logging.Info(logger, "op", "shutdown", "msg", "shutdown complete")
}

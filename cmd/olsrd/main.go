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

// olsrd runs the OLSR mesh routing engine against the host's live
// interfaces. Route installation is left to an external route manager
// (out of scope per spec §1); without one configured, the edges this
// node discovers are only logged.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	gokitlog "github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"groupmesh.io/internal/collab"
	"groupmesh.io/internal/logging"
	"groupmesh.io/internal/netutil"
	"groupmesh.io/internal/olsr"
	"groupmesh.io/internal/timerwheel"
)

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// loggingRouteManager stands in for a real route manager collaborator:
// it logs every edge set this node pushes instead of installing
// routes, so the engine still runs end to end without one configured.
type loggingRouteManager struct {
	logger gokitlog.Logger
}

func (r loggingRouteManager) UpdateEdges(ctx context.Context, edges []collab.Edge) error {
	r.logger.Log("op", "UpdateEdges", "edges", len(edges))
	return nil
}

func main() {
	logger := logging.Init()

	var (
		host = flag.String("host", envOr("OLSR_HOST", ""), "HTTP host address for Prometheus metrics")
		port = flag.Int("port", 7474, "HTTP listening port for Prometheus metrics")
	)
	flag.Parse()

	packetIO, err := collab.NewIPv4PacketIO(logger)
	if err != nil {
		logging.Info(logger, "op", "startup", "error", err, "msg", "failed to open packet I/O")
		os.Exit(1)
	}
	defer packetIO.Close()

	ifaces, err := collab.NewNetlinkInterfaceManager(logger, netutil.IPv4)
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

	node := olsr.NewNode(logger, sched, packetIO, ifaces, loggingRouteManager{logger: logger})
	go node.ServeInterfaceEvents(ctx)

	startupIfaces, err := ifaces.Interfaces(ctx)
	if err != nil {
		logging.Info(logger, "op", "startup", "error", err, "msg", "failed to enumerate interfaces")
		os.Exit(1)
	}
	ifIndexToName := map[int]string{}
	for _, info := range startupIfaces {
		ifIndexToName[info.Index] = info.Name
		if info.AdminUp && !info.PrimaryAddr.IsZero() {
			node.AddFace(ctx, info)
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

// Command coordinator runs the chunkstore control plane and data plane:
// leader election, replicated upload/download, and the rebalancer and
// predictive pre-cache background loops.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orbitalfs/chunkstore/internal/chunkwriter"
	"github.com/orbitalfs/chunkstore/internal/config"
	"github.com/orbitalfs/chunkstore/internal/coordlog"
	"github.com/orbitalfs/chunkstore/internal/filecache"
	"github.com/orbitalfs/chunkstore/internal/filereader"
	"github.com/orbitalfs/chunkstore/internal/httpapi"
	"github.com/orbitalfs/chunkstore/internal/kvstore"
	"github.com/orbitalfs/chunkstore/internal/leaselock"
	"github.com/orbitalfs/chunkstore/internal/masterid"
	"github.com/orbitalfs/chunkstore/internal/noderegistry"
	"github.com/orbitalfs/chunkstore/internal/nodeclient"
	"github.com/orbitalfs/chunkstore/internal/precache"
	"github.com/orbitalfs/chunkstore/internal/rebalancer"
)

func main() {
	cmd := config.Load(run)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	masterID := masterid.New()
	log := coordlog.New(os.Stderr, masterID)

	kv, err := kvstore.New(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect to KV: %w", err)
	}
	defer kv.Close()

	registry := noderegistry.New(kv, cfg.Nodes, time.Duration(cfg.HeartbeatDeadMS)*time.Millisecond)
	nodes := nodeclient.New(cfg.NodeRequestTimeout)
	cache := filecache.New(cfg.CacheCount, cfg.CacheBytes)

	lease := leaselock.New(kv, log, config.LockKey, masterID, cfg.LeaseTick, cfg.LeaseTTL)
	writer := chunkwriter.New(registry, nodes, kv, log, cfg.ChunkSize)
	reader := filereader.New(kv, nodes, cache, log, cfg.ChunkFetchTimeout)
	rb := rebalancer.New(kv, registry, nodes, lease, log, cfg.RebalancePeriod)
	pc := precache.New(kv, registry, nodes, reader, cache, lease, log, cfg.PredictPeriod, cfg.PredictThresholdMS)

	server := httpapi.New(writer, reader, lease, masterID, registry, nodes, kv, cache, log, cfg.RequestLimitBytes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go lease.Start(ctx)
	go rb.Run(ctx)
	go pc.Run(ctx)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router(),
	}

	go func() {
		log.Info("coordinator listening", coordlog.Fields{"port": cfg.Port, "masterId": masterID})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", coordlog.Fields{"error": err.Error()})
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down", coordlog.Fields{"masterId": masterID})
	cancel()
	return httpServer.Shutdown(context.Background())
}

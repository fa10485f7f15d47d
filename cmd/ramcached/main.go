// Command ramcached runs the in-memory object cache as an external
// cvmfs cache plugin: it resolves configuration from the environment,
// builds the cache manager and its façade, opens the transport
// endpoint named by the locator, and serves the stdin control loop
// until the client disconnects.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/ramcached/ramcache/cachemgr"
	"github.com/ramcached/ramcache/config"
	"github.com/ramcached/ramcache/plugin"
	"github.com/ramcached/ramcache/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	var statsInterval time.Duration
	flag.DurationVar(&statsInterval, "stats-interval", 30*time.Second, "how often to log cache activity counters")
	flag.Parse()

	cfg, err := config.Load(os.LookupEnv)
	if err != nil {
		log.Printf("ramcached: startup failed: %v", err)
		return 1
	}

	cache := cachemgr.New(cfg.MaxSize, partitionOptions(cfg)...)
	facade := plugin.New(cache)

	listener, err := transport.Listen(cfg.Locator)
	if err != nil {
		log.Printf("ramcached: startup failed: %v", err)
		return 1
	}
	defer listener.Close() //nolint:errcheck

	log.Printf("ramcached: listening on %s, max_size=%d", cfg.Locator, cfg.MaxSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan struct{})
	go logStats(ctx, cache, statsInterval, stop)

	onRelease := func() {
		log.Printf("ramcached: received nested-catalog release signal")
	}

	serveFacade(facade)

	err = transport.RunControlLoop(ctx, os.Stdin, onRelease)
	close(stop)
	if err != nil {
		log.Printf("ramcached: control loop error: %v", err)
		return 1
	}

	log.Printf("ramcached: shutting down cleanly, %s", cache.Stats().Snapshot())
	return 0
}

func partitionOptions(cfg *config.Config) []cachemgr.Option {
	if cfg.PinnedHint == 0 && cfg.RegularHint == 0 && cfg.VolatileHint == 0 {
		return nil
	}
	pinned, regular, volatile := cfg.PinnedHint, cfg.RegularHint, cfg.VolatileHint
	if pinned == 0 {
		pinned = cfg.MaxSize
	}
	if regular == 0 {
		regular = cfg.MaxSize
	}
	if volatile == 0 {
		volatile = cfg.MaxSize
	}
	return []cachemgr.Option{cachemgr.WithPartitionCapacities(pinned, regular, volatile)}
}

// serveFacade is the seam where a concrete RPC framing would dispatch
// connections into facade's methods. The wire framing of the
// external-plugin RPC is out of scope (the specification names this a
// non-goal), so this intentionally does not accept or read from any
// connection — there is no dispatch loop here at all.
func serveFacade(facade *plugin.Facade) {
	_ = facade
}

func logStats(ctx context.Context, cache *cachemgr.Cache, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			log.Printf("ramcached: %s", cache.Stats().Snapshot())
		}
	}
}

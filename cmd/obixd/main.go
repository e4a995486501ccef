// Command obixd is the oBIX server daemon: it bootstraps the object
// tree, the Device/Watch/History subsystems, and the HTTP transport
// adaptor, then serves until an OS signal asks it to drain and exit.
// Grounded on ap.configd/configd.go's main(): flag-parsed configuration,
// a Prometheus listener separate from the primary service port, and a
// graceful-shutdown path in place of mcp/broker, which have no
// equivalent in this server.
package main

import (
	"context"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"obixd/internal/batch"
	"obixd/internal/config"
	"obixd/internal/device"
	"obixd/internal/dispatch"
	"obixd/internal/history"
	"obixd/internal/metrics"
	"obixd/internal/model"
	"obixd/internal/obixutil"
	"obixd/internal/objtree"
	"obixd/internal/ptask"
	obixhttp "obixd/internal/transport/http"
	"obixd/internal/watch"
)

var (
	listenAddr    = flag.String("listen", ":8080", "oBIX REST listen address")
	metricsAddr   = flag.String("metrics-listen", ":9091", "Prometheus metrics listen address")
	logLevel      = flag.String("log-level", "info", "initial log level")
	resourceRoot  = flag.String("res", "/var/obixd", "resource root directory (core/, sys/, devices/, histories/)")
	devCacheSize  = flag.Int("dev-cache-size", 256, "device lookup LRU cache size")
	backupPeriod  = flag.Duration("dev-backup-period", 30*time.Second, "minimum interval between device.xml rewrites")
	pollWorkers   = flag.Int("poll-workers", 10, "long-poll backlog worker count")
	watchResource = flag.Bool("watch-resources", false, "reload core/sys fragments when the resource directory changes")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	sugar := obixutil.NewLogger("obixd")
	defer sugar.Sync()

	if err := obixutil.SetLevel(*logLevel); err != nil {
		sugar.Fatalw("invalid log level", "level", *logLevel, "err", err)
	}

	cfg := config.Config{
		LogLevel:        *logLevel,
		ResourceRoot:    *resourceRoot,
		DevCacheSize:    *devCacheSize,
		DevBackupPeriod: *backupPeriod,
		PollThreads:     *pollWorkers,
	}.WithDefaults()

	tree := objtree.New()
	tree.InstallDefaultTemplates()
	deviceRootNode, watchServiceNode, _ := tree.InstallLobby()

	if err := tree.LoadDir(cfg.CoreDir, tree.Root()); err != nil {
		sugar.Fatalw("failed loading core fragments", "dir", cfg.CoreDir, "err", err)
	}
	if err := tree.LoadDir(cfg.SysDir, tree.Root()); err != nil {
		sugar.Fatalw("failed loading sys fragments", "dir", cfg.SysDir, "err", err)
	}

	devices := device.New(tree, deviceRootNode, device.Config{
		ResourceDir:  cfg.DevicesDir,
		BackupPeriod: cfg.DevBackupPeriod,
		CacheSize:    cfg.DevCacheSize,
	}, sugar.Named("device"))
	if err := devices.LoadAll(); err != nil {
		sugar.Fatalw("failed loading persisted devices", "dir", cfg.DevicesDir, "err", err)
	}

	sched := ptask.New()
	defer sched.Stop()

	watches := watch.New(tree, sched, watch.Config{
		ServiceNode:    watchServiceNode,
		BacklogWorkers: cfg.PollThreads,
	}, sugar.Named("watch"))

	hist := history.New(cfg.HistoriesDir, sugar.Named("history"))

	sched.Schedule(0, 10*time.Second, ptask.Indefinite, func() {
		metrics.TreeNodes.Set(float64(tree.NodeCount()))
	})
	sched.Schedule(5*time.Second, 30*time.Second, ptask.Indefinite, func() {
		if n, err := dirSize(cfg.HistoriesDir); err == nil {
			metrics.HistoryBytesOnDisk.Set(float64(n))
		}
	})

	d := dispatch.New(tree, devices, watches, hist, sugar.Named("dispatch"))
	d.BatchFunc = func(d *dispatch.Dispatcher, in *model.Node, requesterID string) *model.Node {
		return batch.Execute(d, tree, in, requesterID)
	}

	transport := obixhttp.New(d, obixhttp.Config{Prefix: "/obix"}, sugar.Named("http"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var g errgroup.Group

	primary := &http.Server{Addr: *listenAddr, Handler: transport.Handler()}
	g.Go(func() error {
		sugar.Infow("listening", "addr", *listenAddr)
		if err := primary.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: metricsMux}
	g.Go(func() error {
		sugar.Infow("metrics listening", "addr", *metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if *watchResource {
		g.Go(func() error { return watchResourceDirs(ctx, tree, cfg, sugar) })
	}

	<-ctx.Done()
	sugar.Infow("shutdown requested, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = primary.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	if err := g.Wait(); err != nil {
		sugar.Errorw("server exited with error", "err", err)
	}
}

// dirSize sums the size of every regular file under root, for the
// history-bytes-on-disk gauge.
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// watchResourceDirs reloads core/sys fragments whenever the resource
// directory changes, for development use only (the server otherwise
// never re-reads its bootstrap fragments after startup).
func watchResourceDirs(ctx context.Context, tree *objtree.Tree, cfg config.Config, log interface {
	Infow(string, ...interface{})
	Errorw(string, ...interface{})
}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, dir := range []string{cfg.CoreDir, cfg.SysDir} {
		if err := w.Add(dir); err != nil {
			log.Errorw("watch-resources: cannot watch dir", "dir", dir, "err", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := tree.LoadDir(cfg.CoreDir, tree.Root()); err != nil {
				log.Errorw("watch-resources: reload core failed", "err", err)
			}
			if err := tree.LoadDir(cfg.SysDir, tree.Root()); err != nil {
				log.Errorw("watch-resources: reload sys failed", "err", err)
			}
			log.Infow("watch-resources: reloaded fragments", "event", ev.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Errorw("watch-resources: fsnotify error", "err", err)
		}
	}
}

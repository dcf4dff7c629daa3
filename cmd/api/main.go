// Command api runs the query API: task upload, listing and lookup, backed
// by Postgres and an S3-compatible object store.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/livepeer/transcode-pipeline/api"
	"github.com/livepeer/transcode-pipeline/broker"
	"github.com/livepeer/transcode-pipeline/clients"
	"github.com/livepeer/transcode-pipeline/config"
	"github.com/livepeer/transcode-pipeline/log"
	"github.com/livepeer/transcode-pipeline/middleware"
	"github.com/livepeer/transcode-pipeline/pprof"
	"github.com/livepeer/transcode-pipeline/task"
)

func main() {
	_ = flag.Set("logtostderr", "true")
	fs := flag.NewFlagSet("api", flag.ExitOnError)
	portFlag := config.RegisterFlags(fs)
	pprofPort := fs.Int("pprof-port", 6061, "pprof listen port")
	if err := fs.Parse(os.Args[1:]); err != nil {
		glog.Fatalf("error parsing flags: %s", err)
	}

	cli := config.FromEnv()
	cli.Port = *portFlag
	if err := cli.Validate(); err != nil {
		glog.Fatalf("invalid configuration: %s", err)
	}

	db, err := sql.Open("postgres", cli.DatabaseURL)
	if err != nil {
		glog.Fatalf("failed to open database: %s", err)
	}
	defer db.Close()

	tasks := task.NewPostgres(db)
	if err := tasks.EnsureSchema(context.Background()); err != nil {
		glog.Fatalf("failed to ensure task schema: %s", err)
	}

	store, err := clients.NewObjectStore(cli)
	if err != nil {
		glog.Fatalf("failed to create object store client: %s", err)
	}

	b, err := broker.Dial(cli.BrokerURL)
	if err != nil {
		glog.Fatalf("failed to connect to broker: %s", err)
	}
	defer b.Close()

	handlers := &api.TaskHandlers{
		Tasks:       tasks,
		ObjectStore: store,
		Enqueuer:    b,
		Expiry:      time.Duration(cli.PresignedExpiry) * time.Second,
	}
	router := api.NewRouter(handlers, middleware.LogRequest(), middleware.AllowCORS())

	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		log.LogNoRequestID("pprof listening", "port", *pprofPort)
		return pprof.ListenAndServe(*pprofPort)
	})

	group.Go(func() error {
		return handleSignals(ctx)
	})

	group.Go(func() error {
		return listenAndServe(ctx, cli.Port, router)
	})

	if err := group.Wait(); err != nil {
		glog.Infof("shutdown complete, reason: %s", err)
	}
}

func listenAndServe(ctx context.Context, port int, handler http.Handler) error {
	server := &http.Server{Addr: fmt.Sprintf("0.0.0.0:%d", port), Handler: handler}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoRequestID("starting query API", "version", config.Version, "port", port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	select {
	case s := <-c:
		glog.Errorf("caught signal=%v, attempting clean shutdown", s)
		return fmt.Errorf("caught signal=%v", s)
	case <-ctx.Done():
		return nil
	}
}

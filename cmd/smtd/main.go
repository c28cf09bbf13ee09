// Command smtd runs the multi-tree persistent SMT engine as a single
// self-contained binary: an embedded single-node etcd server rooted at
// --db-path backs a storage/etcdstore.Store, which backs a
// service.Service served over JSON-RPC 2.0 at --listen-addr.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"

	"github.com/opensmt/smtd/rpcapi"
	"github.com/opensmt/smtd/service"
	"github.com/opensmt/smtd/storage/etcdstore"
)

const etcdStartTimeout = 60 * time.Second

func main() {
	var listenAddr string
	var dbPath string

	root := &cobra.Command{
		Use:   "smtd",
		Short: "Multi-tree persistent sparse Merkle tree engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), listenAddr, dbPath)
		},
	}
	root.Flags().StringVar(&listenAddr, "listen-addr", "127.0.0.1:10000", "address the JSON-RPC server listens on")
	root.Flags().StringVar(&dbPath, "db-path", "./smtd-data", "directory for the embedded backing store")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		glog.Errorf("smtd: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, listenAddr, dbPath string) error {
	etcd, client, err := startEmbeddedEtcd(dbPath)
	if err != nil {
		return fmt.Errorf("starting embedded backing store: %w", err)
	}
	defer etcd.Close()
	defer client.Close()

	store := etcdstore.New(client)
	defer store.Close()

	svc := service.New(store, service.DefaultConfig(), prometheus.DefaultRegisterer)
	apiServer := rpcapi.NewServer(svc)

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", listenAddr, err)
	}

	httpServer := &http.Server{Handler: apiServer}
	serveErr := make(chan error, 1)
	go func() {
		glog.Infof("smtd: serving JSON-RPC on %s, backing store at %s", listenAddr, dbPath)
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		glog.Infof("smtd: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down HTTP server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	}
}

func startEmbeddedEtcd(dbPath string) (*embed.Etcd, *clientv3.Client, error) {
	cfg := embed.NewConfig()
	cfg.Dir = dbPath
	cfg.LogLevel = "error"

	e, err := embed.StartEtcd(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("starting embedded etcd at %s: %w", dbPath, err)
	}

	select {
	case <-e.Server.ReadyNotify():
	case <-time.After(etcdStartTimeout):
		e.Server.Stop()
		return nil, nil, fmt.Errorf("embedded etcd did not become ready within %s", etcdStartTimeout)
	}

	endpoints := make([]string, 0, len(cfg.ListenClientUrls))
	for _, u := range cfg.ListenClientUrls {
		endpoints = append(endpoints, u.String())
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		e.Close()
		return nil, nil, fmt.Errorf("connecting to embedded etcd: %w", err)
	}
	return e, client, nil
}

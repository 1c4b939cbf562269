// Command pact-protobuf-plugin is the entrypoint for the Protobuf/gRPC
// contract-testing plugin: it loads the plugin manifest, binds the
// control gRPC server, and serves until the host signals shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/control"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/descriptor"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/manifest"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/protocompiler"
)

const descriptorCacheTTL = 30 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	var (
		manifestPath = flag.String("manifest", "pact-plugin.json", "path to the plugin manifest JSON file")
		protocPath   = flag.String("protoc-path", "protoc", "path to the protoc binary")
		logLevel     = flag.String("log-level", envOr("PACT_PLUGIN_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	)
	flag.Parse()

	log, err := buildLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pact-protobuf-plugin: logger setup failed: %v\n", err)
		return 1
	}
	defer log.Sync()

	m, err := manifest.Load(*manifestPath)
	if err != nil {
		log.Error("malformed manifest", zap.Error(err))
		return 1
	}

	compilerTool := protocompiler.New(log, *protocPath, m.AdditionalIncludes)
	descLoader := descriptor.NewLoader(log, descriptorCacheTTL)
	svc := control.New(log, m, compilerTool, descLoader)

	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", fmt.Sprintf("%s:0", m.HostToBindTo))
	if err != nil {
		log.Error("port bind failed", zap.Error(err))
		return 1
	}

	grpcServer := grpc.NewServer(control.Codec())
	control.Register(grpcServer, svc)

	port := ln.Addr().(*net.TCPAddr).Port
	// Printed to stdout, not logged: this is the line the host framework
	// reads to learn which port the plugin bound to (spec.md §6).
	fmt.Printf("%d\n", port)
	log.Info("control server listening", zap.String("addr", ln.Addr().String()))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(ln)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		log.Info("shutdown signal received")
		grpcServer.GracefulStop()
	case err := <-serveErr:
		if err != nil {
			log.Error("control server stopped unexpectedly", zap.Error(err))
			return 1
		}
	}

	return 0
}

func buildLogger(level string) (*zap.Logger, error) {
	switch level {
	case "debug":
		cfg := zap.NewDevelopmentConfig()
		return cfg.Build()
	default:
		cfg := zap.NewProductionConfig()
		if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
			cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		}
		return cfg.Build()
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// fedanchor-storaged serves a registry backend over the ArtifactStore gRPC
// service, so submitters and the aggregator can share one blob store.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"

	"google.golang.org/grpc"

	"pflnet.dev/fedanchor/storage"
	"pflnet.dev/fedanchor/storage/casconfig"
	"pflnet.dev/fedanchor/storage/casregistry"
	"pflnet.dev/fedanchor/storage/grpccas"

	_ "pflnet.dev/fedanchor/storage/ipfs"
	_ "pflnet.dev/fedanchor/storage/localfs"
)

func main() {
	fs := flag.NewFlagSet("fedanchor-storaged", flag.ExitOnError)
	listen := fs.String("listen", "127.0.0.1:9470", "listen address")
	backend := fs.String("backend", "", "CAS backend name (default localfs; with --cas-config, the preferred write backend)")
	configPath := fs.String("cas-config", "", "JSON CAS config file (overrides --backend flags)")
	listBackends := fs.Bool("list-backends", false, "List supported backends and exit")

	casregistry.RegisterFlags(fs, casregistry.UsageDaemon)

	_ = fs.Parse(os.Args[1:])
	if *listBackends {
		for _, b := range casregistry.List(casregistry.UsageDaemon) {
			if b.Description == "" {
				fmt.Fprintf(os.Stdout, "%s\n", b.Name)
				continue
			}
			fmt.Fprintf(os.Stdout, "%s\t%s\n", b.Name, b.Description)
		}
		return
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store, closeFn, err := openStore(*backend, *configPath)
	if err != nil {
		log.Error("open store", "err", err)
		os.Exit(2)
	}
	if closeFn != nil {
		defer closeFn()
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Error("listen", "addr", *listen, "err", err)
		os.Exit(1)
	}
	defer lis.Close()

	s := grpc.NewServer()
	grpccas.RegisterArtifactStoreServer(s, &grpccas.Server{CAS: store})

	log.Info("fedanchor-storaged listening", "addr", lis.Addr().String(), "backend", *backend)
	if err := s.Serve(lis); err != nil {
		log.Error("serve", "err", err)
		os.Exit(1)
	}
}

func openStore(backend, configPath string) (storage.CAS, func() error, error) {
	if configPath != "" {
		cfg, err := casconfig.LoadFile(configPath)
		if err != nil {
			return nil, nil, err
		}
		return cfg.Open(casregistry.UsageDaemon, backend)
	}
	if backend == "" {
		backend = "localfs"
	}
	return casregistry.Open(backend, casregistry.UsageDaemon)
}

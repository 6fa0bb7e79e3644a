package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pflnet.dev/fedanchor/aggregate"
	"pflnet.dev/fedanchor/client"
	"pflnet.dev/fedanchor/contentid"
	"pflnet.dev/fedanchor/keys"
	"pflnet.dev/fedanchor/merkle"
	"pflnet.dev/fedanchor/storage"
	"pflnet.dev/fedanchor/storage/casconfig"
	"pflnet.dev/fedanchor/storage/casregistry"
	"pflnet.dev/fedanchor/tensor"

	_ "pflnet.dev/fedanchor/storage/grpccas"
	_ "pflnet.dev/fedanchor/storage/ipfs"
	_ "pflnet.dev/fedanchor/storage/localfs"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "aggregate":
		return cmdAggregate(args[1:], out, errOut)
	case "submit":
		return cmdSubmit(args[1:], out, errOut)
	case "key":
		return cmdKey(args[1:], out, errOut)
	case "cas":
		return cmdCAS(args[1:], out, errOut)
	case "merkle-root":
		return cmdMerkleRoot(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "fedanchor: submission verification and weighted aggregation")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  fedanchor aggregate --round <n> --records-dir <dir> [--backend <name>|--cas-config <file>] [--no-verify] [--no-manifest] [--workers <n>] [-v]")
	fmt.Fprintln(w, "  fedanchor submit --round <n> --examples <n> --delta <file> (--key <name> [--key-dir <dir>] | --key-file <path>) [--quality <n>] [--clip-norm <f> [--noise-sigma <f>]] [--backend <name>|--cas-config <file>] [--out <file>]")
	fmt.Fprintln(w, "  fedanchor key init --name <name> [--dir <dir>] [--force]")
	fmt.Fprintln(w, "  fedanchor key list [--dir <dir>]")
	fmt.Fprintln(w, "  fedanchor cas put [--backend <name>|--cas-config <file>] <file>")
	fmt.Fprintln(w, "  fedanchor cas get [--backend <name>|--cas-config <file>] [--out <file>] <cid>")
	fmt.Fprintln(w, "  fedanchor merkle-root --round <n> --records-dir <dir>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - a records dir holds one JSON submission record per file, processed in name order")
	fmt.Fprintln(w, "  - --delta takes a file in the canonical tensor-collection encoding (fedanchor cas get of a prior aggregate works)")
	fmt.Fprintln(w, "  - --cas-config takes a JSON file selecting one or more backends with a first/all write policy")
	fmt.Fprintln(w, "  - keys are hex secp256k1 files under ~/.fedanchor/keys (0600)")
	fmt.Fprintln(w, "  - merkle-root validates signatures with the same rules as aggregate and prints the anchor for the accepted set")
}

// casFlags is the backend selection shared by every store-touching command.
type casFlags struct {
	backend    string
	configPath string
}

func (c *casFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.backend, "backend", "", "CAS backend name (default localfs; with --cas-config, the preferred write backend)")
	fs.StringVar(&c.configPath, "cas-config", "", "JSON CAS config file (overrides --backend flags)")
	casregistry.RegisterFlags(fs, casregistry.UsageCLI)
}

func (c *casFlags) open() (storage.CAS, func() error, error) {
	if c.configPath != "" {
		cfg, err := casconfig.LoadFile(c.configPath)
		if err != nil {
			return nil, nil, err
		}
		return cfg.Open(casregistry.UsageCLI, c.backend)
	}
	name := c.backend
	if name == "" {
		name = "localfs"
	}
	return casregistry.Open(name, casregistry.UsageCLI)
}

// readRecords loads every regular file in dir as one raw record, in file-name
// order so batches are reproducible.
func readRecords(dir string) ([][]byte, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(des))
	for _, de := range des {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		names = append(names, de.Name())
	}
	sort.Strings(names)

	records := make([][]byte, 0, len(names))
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		records = append(records, b)
	}
	return records, nil
}

func newLogger(errOut io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))
}

func cmdAggregate(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("aggregate", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var (
		round      uint64
		recordsDir string
		noVerify   bool
		noManifest bool
		workers    int
		verbose    bool
		cas        casFlags
	)
	fs.Uint64Var(&round, "round", 0, "Round number to aggregate")
	fs.StringVar(&recordsDir, "records-dir", "", "Directory of JSON submission records")
	fs.BoolVar(&noVerify, "no-verify", false, "Skip signature verification (test networks only)")
	fs.BoolVar(&noManifest, "no-manifest", false, "Do not upload the accepted-set manifest")
	fs.IntVar(&workers, "workers", aggregate.DefaultFetchWorkers, "Concurrent artifact fetches")
	fs.BoolVar(&verbose, "v", false, "Debug logging")
	cas.register(fs)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if recordsDir == "" {
		fmt.Fprintln(errOut, "missing --records-dir")
		return 2
	}

	records, err := readRecords(recordsDir)
	if err != nil {
		fmt.Fprintf(errOut, "read records: %v\n", err)
		return 1
	}

	store, closeFn, err := cas.open()
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return 2
	}
	if closeFn != nil {
		defer closeFn()
	}

	cfg := aggregate.DefaultConfig(round)
	cfg.RequireSignatures = !noVerify
	cfg.UploadManifest = !noManifest
	cfg.FetchWorkers = workers
	cfg.Logger = newLogger(errOut, verbose)

	res, err := aggregate.Run(context.Background(), cfg, store, records)
	if err != nil {
		fmt.Fprintf(errOut, "aggregate: %v\n", err)
		return 1
	}

	// The model itself lives in the store; stdout carries the round summary.
	summary := struct {
		Round             uint64              `json:"round"`
		AcceptedCount     int                 `json:"acceptedCount"`
		MerkleRoot        string              `json:"merkleRoot"`
		ModelContentID    string              `json:"modelContentId,omitempty"`
		ModelDigest       string              `json:"modelIntegrityDigest,omitempty"`
		ManifestContentID string              `json:"manifestContentId,omitempty"`
		Report            []aggregate.Outcome `json:"report"`
	}{
		Round:             res.RoundNumber,
		AcceptedCount:     res.AcceptedCount,
		MerkleRoot:        res.MerkleRoot,
		ModelContentID:    res.ModelContentID,
		ModelDigest:       res.ModelIntegrityDigest,
		ManifestContentID: res.ManifestContentID,
		Report:            res.Report,
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fmt.Fprintf(errOut, "encode summary: %v\n", err)
		return 1
	}
	return 0
}

func cmdSubmit(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var (
		round      uint64
		examples   uint64
		quality    int64
		deltaPath  string
		keyName    string
		keyDir     string
		keyFile    string
		clipNorm   float64
		noiseSigma float64
		outPath    string
		cas        casFlags
	)
	fs.Uint64Var(&round, "round", 0, "Round number to submit for")
	fs.Uint64Var(&examples, "examples", 0, "Training example count (aggregation weight)")
	fs.Int64Var(&quality, "quality", 0, "Self-reported quality score")
	fs.StringVar(&deltaPath, "delta", "", "Model delta file (canonical tensor-collection encoding)")
	fs.StringVar(&keyName, "key", "", "Stored key name (from 'fedanchor key init')")
	fs.StringVar(&keyDir, "key-dir", "", "Key store directory (default ~/.fedanchor/keys)")
	fs.StringVar(&keyFile, "key-file", "", "Path to a hex private key file (alternative to --key)")
	fs.Float64Var(&clipNorm, "clip-norm", 0, "L2 clip bound; 0 disables the privacy transform")
	fs.Float64Var(&noiseSigma, "noise-sigma", 0, "Gaussian noise multiplier (with --clip-norm)")
	fs.StringVar(&outPath, "out", "", "Write the submission record here instead of stdout")
	cas.register(fs)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if deltaPath == "" {
		fmt.Fprintln(errOut, "missing --delta")
		return 2
	}
	if keyName == "" && keyFile == "" {
		fmt.Fprintln(errOut, "missing signer: use --key or --key-file")
		return 2
	}
	if keyName != "" && keyFile != "" {
		fmt.Fprintln(errOut, "conflicting signer flags: --key cannot be combined with --key-file")
		return 2
	}

	priv, err := loadSigner(keyName, keyDir, keyFile)
	if err != nil {
		fmt.Fprintf(errOut, "load key: %v\n", err)
		return 2
	}

	raw, err := os.ReadFile(deltaPath)
	if err != nil {
		fmt.Fprintf(errOut, "read delta: %v\n", err)
		return 1
	}
	delta, err := tensor.Decode(raw)
	if err != nil {
		fmt.Fprintf(errOut, "invalid delta: %v\n", err)
		return 1
	}

	store, closeFn, err := cas.open()
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return 2
	}
	if closeFn != nil {
		defer closeFn()
	}

	sub, err := client.Submit(store, priv, delta, client.Options{
		Round:       round,
		NumExamples: examples,
		Quality:     quality,
		ClipNorm:    clipNorm,
		NoiseSigma:  noiseSigma,
	})
	if err != nil {
		fmt.Fprintf(errOut, "submit: %v\n", err)
		return 1
	}

	record, err := sub.Marshal()
	if err != nil {
		fmt.Fprintf(errOut, "encode record: %v\n", err)
		return 1
	}
	fmt.Fprintf(errOut, "Content-ID: %s\n", sub.ContentID)
	if outPath != "" {
		if err := os.WriteFile(outPath, record, 0o644); err != nil {
			fmt.Fprintf(errOut, "write record: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = out.Write(append(record, '\n'))
	return 0
}

func loadSigner(keyName, keyDir, keyFile string) (*ecdsa.PrivateKey, error) {
	if keyFile != "" {
		b, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, err
		}
		return keys.ParsePrivateKey(strings.TrimSpace(string(b)))
	}
	ks, err := keys.OpenStore(keyDir)
	if err != nil {
		return nil, err
	}
	return ks.Load(keyName)
}

func cmdKey(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: fedanchor key <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: init, list")
		return 2
	}
	switch args[0] {
	case "init":
		return cmdKeyInit(args[1:], out, errOut)
	case "list":
		return cmdKeyList(args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown key subcommand: %s\n", args[0])
		return 2
	}
}

func cmdKeyInit(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key init", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var name, dir string
	var force bool
	fs.StringVar(&name, "name", "", "Key name")
	fs.StringVar(&dir, "dir", "", "Key store directory (default ~/.fedanchor/keys)")
	fs.BoolVar(&force, "force", false, "Overwrite an existing key")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if name == "" {
		fmt.Fprintln(errOut, "missing --name")
		return 2
	}
	ks, err := keys.OpenStore(dir)
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}
	priv, err := ks.Generate(name, force)
	if err != nil {
		fmt.Fprintf(errOut, "generate: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Created key %s: %s\n", name, keys.Address(priv))
	return 0
}

func cmdKeyList(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key list", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var dir string
	fs.StringVar(&dir, "dir", "", "Key store directory (default ~/.fedanchor/keys)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ks, err := keys.OpenStore(dir)
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}
	entries, err := ks.List()
	if err != nil {
		fmt.Fprintf(errOut, "list keys: %v\n", err)
		return 1
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s\t%s\n", e.Name, e.Address)
	}
	return 0
}

func cmdCAS(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: fedanchor cas <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: put, get")
		return 2
	}
	switch args[0] {
	case "put":
		return cmdCASPut(args[1:], out, errOut)
	case "get":
		return cmdCASGet(args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown cas subcommand: %s\n", args[0])
		return 2
	}
}

func cmdCASPut(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("cas put", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var cas casFlags
	cas.register(fs)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: fedanchor cas put [flags] <file>")
		return 2
	}
	b, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read %s: %v\n", filepath.Base(fs.Arg(0)), err)
		return 1
	}

	store, closeFn, err := cas.open()
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return 2
	}
	if closeFn != nil {
		defer closeFn()
	}

	id, err := store.Put(b)
	if err != nil {
		fmt.Fprintf(errOut, "put: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(out, id.String())
	return 0
}

func cmdCASGet(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("cas get", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var outPath string
	var cas casFlags
	fs.StringVar(&outPath, "out", "", "Write the blob here instead of stdout")
	cas.register(fs)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: fedanchor cas get [flags] <cid>")
		return 2
	}
	id, err := contentid.Parse(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "invalid cid: %v\n", err)
		return 2
	}

	store, closeFn, err := cas.open()
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return 2
	}
	if closeFn != nil {
		defer closeFn()
	}

	b, err := store.Get(id)
	if err != nil {
		fmt.Fprintf(errOut, "get: %v\n", err)
		return 1
	}
	if outPath != "" {
		if err := os.WriteFile(outPath, b, 0o644); err != nil {
			fmt.Fprintf(errOut, "write %s: %v\n", outPath, err)
			return 1
		}
		return 0
	}
	_, _ = out.Write(b)
	return 0
}

func cmdMerkleRoot(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("merkle-root", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var round uint64
	var recordsDir string
	var noVerify bool
	fs.Uint64Var(&round, "round", 0, "Round number")
	fs.StringVar(&recordsDir, "records-dir", "", "Directory of JSON submission records")
	fs.BoolVar(&noVerify, "no-verify", false, "Skip signature verification")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if recordsDir == "" {
		fmt.Fprintln(errOut, "missing --records-dir")
		return 2
	}
	records, err := readRecords(recordsDir)
	if err != nil {
		fmt.Fprintf(errOut, "read records: %v\n", err)
		return 1
	}

	cfg := aggregate.DefaultConfig(round)
	cfg.RequireSignatures = !noVerify
	cfg.Logger = newLogger(errOut, false)

	accepted, _, err := aggregate.ValidateBatch(cfg, records)
	if err != nil {
		fmt.Fprintf(errOut, "validate: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(out, merkle.RootHex(accepted))
	return 0
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/a-h/nixcache/accesslog"
	"github.com/a-h/nixcache/cmd/globals"
	"github.com/a-h/nixcache/downloadcounter"
	"github.com/a-h/nixcache/fetch"
	"github.com/a-h/nixcache/gateway"
	"github.com/a-h/nixcache/loggedstorage"
	nixcachemetrics "github.com/a-h/nixcache/metrics"
	"github.com/a-h/nixcache/routes"
	"github.com/a-h/nixcache/signer"
	"github.com/a-h/nixcache/storage"
	"github.com/a-h/nixcache/store"
	"github.com/a-h/nixcache/upstream"

	"github.com/alecthomas/kong"
)

type CLI struct {
	globals.Globals
	Version VersionCmd `cmd:"" help:"Show version information"`
	Serve   ServeCmd   `cmd:"" help:"Start the pull-through cache server"`
}

var Version = "dev"

type VersionCmd struct{}

func (cmd *VersionCmd) Run(globals *globals.Globals) error {
	fmt.Printf("%s", Version)
	return nil
}

type S3Flags struct {
	Bucket          string `help:"S3 bucket name (required when storage-type=s3)" env:"NIX_S3_BUCKET"`
	Region          string `help:"S3 region" default:"us-east-1" env:"NIX_S3_REGION"`
	Endpoint        string `help:"S3 endpoint URL (for MinIO/custom endpoints)" env:"NIX_S3_ENDPOINT"`
	AccessKeyID     string `help:"S3 access key ID (uses IAM role if not set)" env:"NIX_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `help:"S3 secret access key (uses IAM role if not set)" env:"NIX_S3_SECRET_ACCESS_KEY"`
	ForcePathStyle  bool   `help:"Use path-style S3 URLs (required for MinIO)" env:"NIX_S3_FORCE_PATH_STYLE"`
}

type ServeCmd struct {
	DatabaseType      string  `help:"Choice of database (sqlite, rqlite or postgres)" default:"sqlite" enum:"sqlite,rqlite,postgres" env:"NIX_DATABASE_TYPE"`
	DatabaseURL       string  `help:"Database connection URL" default:"" env:"NIX_DATABASE_URL"`
	ListenAddr        string  `help:"Address to listen on" default:":8080" env:"NIX_LISTEN_ADDR"`
	MetricsListenAddr string  `help:"Address for metrics endpoint" default:":9090" env:"NIX_METRICS_LISTEN_ADDR"`
	StorePath         string  `help:"Path to file store" default:"" env:"NIX_STORE_PATH"`
	StoreDir          string  `help:"Nix store directory advertised in nix-cache-info" default:"/nix/store" env:"NIX_STORE_DIR"`
	SecretKeyFile     string  `help:"Path to a file whose contents are the narinfo signing key" env:"NIX_SECRET_KEY_FILE"`
	UpstreamCaches    string  `help:"Comma-separated list of upstream cache base URLs" default:"https://cache.nixos.org" env:"NIX_UPSTREAM_CACHES"`
	StorageType       string  `help:"Storage backend type (fs or s3)" default:"fs" enum:"fs,s3" env:"NIX_STORAGE_TYPE"`
	S3                S3Flags `embed:"" prefix:"s3-"`
}

func (cmd *ServeCmd) Run(globals *globals.Globals) error {
	opts := &slog.HandlerOptions{}
	if globals.Verbose {
		opts.Level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, opts))

	switch cmd.StorageType {
	case "s3":
		if cmd.S3.Bucket == "" {
			return fmt.Errorf("--s3-bucket must also be set when --storage-type=s3")
		}
	case "fs":
		if cmd.StorePath == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("failed to get user home directory: %w", err)
			}
			cmd.StorePath = fmt.Sprintf("%s/nixcache-store", home)
		}
		if err := os.MkdirAll(cmd.StorePath, 0755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	default:
		return fmt.Errorf("unknown storage type: %q - expected 'fs' or 's3'", cmd.StorageType)
	}

	if cmd.DatabaseURL == "" {
		cmd.DatabaseURL = fmt.Sprintf("file:%s?cache=shared&mode=rwc&_busy_timeout=5000&_txlock=immediate&_journal_mode=DELETE", filepath.Join(cmd.StorePath, "nixcache.db"))
	}

	ctx := context.Background()

	kvStore, closer, err := store.New(ctx, cmd.DatabaseType, cmd.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", slog.String("error", err.Error()))
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer closer()

	var s *signer.Signer
	if cmd.SecretKeyFile != "" {
		keyData, err := os.ReadFile(cmd.SecretKeyFile)
		if err != nil {
			return fmt.Errorf("failed to read secret key file: %w", err)
		}
		s, err = signer.New(strings.TrimSpace(string(keyData)))
		if err != nil {
			return err
		}
		log.Info("loaded secret key for signing", slog.String("publicKey", s.PublicKey()))
	} else {
		s, err = signer.New("")
		if err != nil {
			return err
		}
	}

	m, err := nixcachemetrics.New()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	go func() {
		if err := nixcachemetrics.ListenAndServe(cmd.MetricsListenAddr); err != nil {
			log.Error("metrics server exited", slog.String("addr", cmd.MetricsListenAddr), slog.String("error", err.Error()))
		}
	}()

	al := accesslog.New(kvStore)

	var baseStorage storage.Storage
	switch cmd.StorageType {
	case "s3":
		baseStorage, err = storage.NewS3(ctx, storage.S3Config{
			Bucket:          cmd.S3.Bucket,
			Prefix:          "nar/",
			Region:          cmd.S3.Region,
			Endpoint:        cmd.S3.Endpoint,
			AccessKeyID:     cmd.S3.AccessKeyID,
			SecretAccessKey: cmd.S3.SecretAccessKey,
			ForcePathStyle:  cmd.S3.ForcePathStyle,
		})
		if err != nil {
			return fmt.Errorf("failed to create s3 storage: %w", err)
		}
	case "fs":
		baseStorage = storage.NewFileSystem(filepath.Join(cmd.StorePath, "nar"))
	}

	loggedBlobs, blobsShutdown := loggedstorage.New(ctx, log, baseStorage, al, m)

	gw := gateway.New(kvStore, loggedBlobs, cmd.StoreDir)

	upstreams := parseUpstreamCaches(cmd.UpstreamCaches)

	tmpDir := filepath.Join(cmd.StorePath, "tmp")
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return fmt.Errorf("failed to create tmp directory: %w", err)
	}

	var fetcher *fetch.Fetcher
	if len(upstreams) > 0 {
		fetcher = fetch.New(log, gw, upstream.New(), upstreams, tmpDir)
	}

	counter, counterShutdown := downloadcounter.NewBufferedCounter(ctx, log, kvStore, m, 2048)

	server := http.Server{
		Addr:    cmd.ListenAddr,
		Handler: routes.New(log, gw, fetcher, s, m, counter),
	}

	log.Info("starting server", slog.String("addr", cmd.ListenAddr), slog.String("metricsAddr", cmd.MetricsListenAddr), slog.String("storePath", cmd.StorePath), slog.Any("upstreams", upstreams))
	err = server.ListenAndServe()
	log.Debug("server exited", slog.Any("error", err))
	log.Debug("waiting 30s for storage to finish processing events")
	blobsShutdown(30 * time.Second)
	counterShutdown()
	log.Info("server shutdown complete")
	return err
}

// parseUpstreamCaches splits a comma-separated list of upstream base
// URLs, trimming whitespace around each entry and dropping empties.
func parseUpstreamCaches(raw string) []string {
	var upstreams []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		upstreams = append(upstreams, entry)
	}
	return upstreams
}

func main() {
	cli := CLI{
		Globals: globals.Globals{},
	}

	ctx := kong.Parse(&cli,
		kong.Name("nixcached"),
		kong.Description("Pull-through Nix binary cache server"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}

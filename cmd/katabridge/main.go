package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/guseggert/katabridge/asset"
	"github.com/guseggert/katabridge/bridge"
	"github.com/guseggert/katabridge/engine"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const maxChoiceAttempts = 5

func envVar(name string) []string {
	return []string{"KATABRIDGE_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))}
}

func main() {
	defaults := engine.DefaultRelease()
	app := &cli.App{
		Name:      "katabridge",
		Usage:     "relays a local KataGo analysis engine to a remote WebSocket client",
		ArgsUsage: "<url>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "variant",
				Usage:   "The engine build to download if it is missing. One of [gpu,cpu]. Prompts if unset.",
				EnvVars: envVar("variant"),
			},
			&cli.StringFlag{
				Name:    "binary-dir",
				Usage:   "The directory the engine is unpacked into.",
				Value:   defaults.BinaryDir,
				EnvVars: envVar("binary-dir"),
			},
			&cli.StringFlag{
				Name:    "binaries-url",
				Usage:   "The base URL of engine release archives (http, https, or s3).",
				Value:   defaults.BinariesURL,
				EnvVars: envVar("binaries-url"),
			},
			&cli.StringFlag{
				Name:    "models-url",
				Usage:   "The base URL of model files (http, https, or s3).",
				Value:   defaults.ModelsURL,
				EnvVars: envVar("models-url"),
			},
			&cli.StringFlag{
				Name:    "model",
				Usage:   "The model file name.",
				Value:   defaults.Model,
				EnvVars: envVar("model"),
			},
			&cli.StringFlag{
				Name:    "analysis-config",
				Usage:   "The analysis config file name, relative to the binary dir. It must ship with the engine archive.",
				Value:   defaults.AnalysisConfig,
				EnvVars: envVar("analysis-config"),
			},
			&cli.StringFlag{
				Name:    "staging-dir",
				Usage:   "The directory downloaded archives are staged in before unpacking.",
				Value:   ".",
				EnvVars: envVar("staging-dir"),
			},
			&cli.IntFlag{
				Name:    "download-retries",
				Usage:   "The number of times to retry a failed HTTP download.",
				Value:   0,
				EnvVars: envVar("download-retries"),
			},
			&cli.DurationFlag{
				Name:    "download-timeout",
				Usage:   "Timeout for each download. Zero means no timeout.",
				EnvVars: envVar("download-timeout"),
			},
			&cli.DurationFlag{
				Name:    "connect-timeout",
				Usage:   "Timeout for establishing the WebSocket connection. Zero means no timeout.",
				EnvVars: envVar("connect-timeout"),
			},
			&cli.IntFlag{
				Name:    "read-buffer-size",
				Usage:   "The maximum number of bytes of engine output per message.",
				Value:   1024,
				EnvVars: envVar("read-buffer-size"),
			},
			&cli.Int64Flag{
				Name:    "read-limit",
				Usage:   "The maximum size of a message received from the client.",
				Value:   1 << 20,
				EnvVars: envVar("read-limit"),
			},
			&cli.StringFlag{
				Name:    "ca-cert",
				Usage:   "Path to a PEM file of extra CA certificates to trust for wss:// URLs.",
				EnvVars: envVar("ca-cert"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "The minimum log level. One of [debug,info,warn,error].",
				Value:   "info",
				EnvVars: envVar("log-level"),
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cctx *cli.Context) error {
	rawURL := cctx.Args().First()
	if rawURL == "" {
		return errors.New("this program requires url to connect as argument")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("provided url doesn't parse: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	level, err := zapcore.ParseLevel(cctx.String("log-level"))
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()
	logger = logger.WithOptions(zap.IncreaseLevel(level))
	log := logger.Named("katabridge").Sugar()

	ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	platform, err := engine.LookupPlatform(runtime.GOOS)
	if err != nil {
		return err
	}
	release := engine.Release{
		BinariesURL:    cctx.String("binaries-url"),
		BinaryDir:      cctx.String("binary-dir"),
		ModelsURL:      cctx.String("models-url"),
		Model:          cctx.String("model"),
		AnalysisConfig: cctx.String("analysis-config"),
	}
	layout := release.Layout(platform)

	chooseVariant := func() (engine.Variant, error) {
		if v := cctx.String("variant"); v != "" {
			return engine.ParseVariant(v)
		}
		return engine.ChooseVariant(os.Stdin, os.Stdout, maxChoiceAttempts)
	}

	downloader := newDownloader(log, cctx.Int("download-retries"), cctx.Duration("download-timeout"))
	stagingDir := cctx.String("staging-dir")

	binaryFetcher := asset.FetchFunc(func(ctx context.Context, path string) error {
		variant, err := chooseVariant()
		if err != nil {
			return fmt.Errorf("choosing engine variant: %w", err)
		}
		archiveURL, err := release.ArchiveURL(platform, variant)
		if err != nil {
			return err
		}
		archive, err := platform.Archive(variant)
		if err != nil {
			return err
		}
		staging := filepath.Join(stagingDir, archive)
		p := &asset.Pipeline{
			Log: log.Named("binary_fetch"),
			Steps: []asset.Step{
				asset.DownloadStep(downloader, archiveURL, staging),
				asset.UnzipStep(staging, layout.BinaryDir),
				asset.RemoveStep(staging),
				asset.ExecutableStep(log),
			},
		}
		return p.Fetch(ctx, path)
	})
	modelFetcher := &asset.Pipeline{
		Log:   log.Named("model_fetch"),
		Steps: []asset.Step{asset.DownloadToPathStep(downloader, release.ModelURL())},
	}

	outcomes := asset.NewProvisioner(log).EnsureAll(ctx,
		asset.Requirement{Asset: asset.Asset{Name: "KataGo binary", Path: layout.BinaryPath}, Fetcher: binaryFetcher},
		asset.Requirement{Asset: asset.Asset{Name: fmt.Sprintf("Model %s", release.Model), Path: layout.ModelPath}, Fetcher: modelFetcher},
	)
	missing := asset.Missing(outcomes)

	if _, err := os.Stat(layout.ConfigPath); err != nil {
		return withMissing(missing, fmt.Errorf("engine config %s is required: %w", layout.ConfigPath, err))
	}

	handle, err := engine.NewSupervisor(log).Launch(ctx, engine.Command{
		Path: layout.BinaryPath,
		Args: engine.AnalysisArgs(layout),
	})
	if err != nil {
		return withMissing(missing, fmt.Errorf("failed to start binary: %w", err))
	}
	defer handle.Stop()
	log.Infof("running binary %s", layout.BinaryPath)

	dialOpts := bridge.DialOptions{ReadLimit: cctx.Int64("read-limit")}
	if caPath := cctx.String("ca-cert"); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return fmt.Errorf("reading CA cert: %w", err)
		}
		tlsConfig, err := bridge.ClientTLSConfig(caPEM)
		if err != nil {
			return fmt.Errorf("building client TLS config: %w", err)
		}
		dialOpts.HTTPClient = bridge.HTTPClient(tlsConfig)
	}

	dialCtx := ctx
	if d := cctx.Duration("connect-timeout"); d > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	conn, err := bridge.Dial(dialCtx, log, u.String(), dialOpts)
	if err != nil {
		return fmt.Errorf("can't connect: %w", err)
	}
	log.Infof("connection with %s established", u)

	send, recv := bridge.Split(log, conn)
	session := bridge.New(handle.Stdout(), handle.Stdin(), send, recv,
		bridge.WithLogger(log),
		bridge.WithReadBufferSize(cctx.Int("read-buffer-size")),
	)
	err = session.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			log.Info("interrupted, shutting down")
			return nil
		}
		return fmt.Errorf("running session: %w", err)
	}
	return nil
}

func newDownloader(log *zap.SugaredLogger, retries int, timeout time.Duration) asset.Downloader {
	httpDownloader := asset.NewHTTPDownloader(log, asset.WithRetryMax(retries))
	d := asset.SchemeDownloader{
		"http":  httpDownloader,
		"https": httpDownloader,
		"s3":    asset.NewS3Downloader(log),
	}
	if timeout <= 0 {
		return d
	}
	return asset.DownloaderFunc(func(ctx context.Context, rawURL, dest string) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return d.Download(ctx, rawURL, dest)
	})
}

// withMissing adds the names of missing assets to err, since they are the likely cause.
func withMissing(missing []asset.Outcome, err error) error {
	if len(missing) == 0 {
		return err
	}
	names := make([]string, 0, len(missing))
	for _, o := range missing {
		names = append(names, fmt.Sprintf("%s (%s failure)", o.Asset.Name, o.Failure))
	}
	return fmt.Errorf("%w; missing assets: %s", err, strings.Join(names, ", "))
}

// CLAUDE:SUMMARY CLI entry point for html2png: one-shot capture to a file or stdout, HTTP service, MCP stdio, batch worker.
// Command html2png renders a web page into an image of any size.
//
// Usage:
//
//	html2png [flags] <url> <outfile>          # capture to outfile ("-" = stdout)
//	html2png -auto content https://x.org x.png # capture the element with id "content"
//	html2png -serve -config html2png.yaml      # HTTP service
//	html2png -mcp                              # MCP tools over stdio
//	html2png -batch -config html2png.yaml      # job queue worker
//
// Exit codes: 0 success, 1 usage or configuration error, 2 detection
// failure, 3 capture failure, 4 encode failure, 5 browser failure.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/html2png/capture"
	"github.com/hazyhaar/html2png/encode"
	"github.com/hazyhaar/html2png/snapshot"
)

const version = "0.4.0"

// Exit codes.
const (
	exitOK = iota
	exitUsage
	exitDetection
	exitCapture
	exitEncode
	exitRenderer
)

type options struct {
	configPath string
	logLevel   string

	width, height int
	marker        string
	body          bool
	timeout       int

	scaledWidth, scaledHeight int
	scaleMode                 string
	format                    string
	quality                   int

	disableJS, disablePlugins, disableRedirect, disableImages bool
	killPopups, show, lenient                                 bool
	pluginDelay                                               int

	serve, mcp, batch bool
	addr, storePath   string
}

// usageError is a command line or configuration mistake.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to html2png.yaml config file")
	flag.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	flag.IntVar(&o.width, "width", 800, "width of the capture (and of the layout for -auto/-body)")
	flag.IntVar(&o.height, "height", 1000, "height of the capture")
	flag.StringVar(&o.marker, "auto", "", "capture the element with this id (or name)")
	flag.BoolVar(&o.body, "body", false, "capture the whole document")
	flag.IntVar(&o.timeout, "time", 0, "seconds to wait for the page to load (default from config, 30)")

	flag.IntVar(&o.scaledWidth, "scaled-width", 0, "scale the output into this width")
	flag.IntVar(&o.scaledHeight, "scaled-height", 0, "scale the output into this height")
	flag.StringVar(&o.scaleMode, "scale-mode", "", "scaling: none, inside, outside, stretch")
	flag.StringVar(&o.format, "format", "", "output format (default from the outfile extension)")
	flag.IntVar(&o.quality, "quality", 0, "JPEG quality 1-100")

	flag.BoolVar(&o.disableJS, "disable-js", false, "disable JavaScript")
	flag.BoolVar(&o.disablePlugins, "disable-plugins", false, "disable plugins and embedded objects")
	flag.BoolVar(&o.disableRedirect, "disable-redirect", false, "refuse redirects and meta refresh")
	flag.BoolVar(&o.disableImages, "disable-images", false, "do not load images")
	flag.BoolVar(&o.killPopups, "kill-popup", false, "dismiss dialogs and block window.open")
	flag.BoolVar(&o.show, "show", false, "run a visible browser (Xvfb or DISPLAY)")
	flag.IntVar(&o.pluginDelay, "plugin-delay", 0, "seconds to wait when the page embeds objects")
	flag.BoolVar(&o.lenient, "lenient", false, "leave failed tiles blank instead of failing")

	flag.BoolVar(&o.serve, "serve", false, "run the HTTP service")
	flag.BoolVar(&o.mcp, "mcp", false, "serve MCP tools over stdio")
	flag.BoolVar(&o.batch, "batch", false, "run the job queue worker")
	flag.StringVar(&o.addr, "addr", "", "HTTP listen address (overrides server.addr)")
	flag.StringVar(&o.storePath, "store", "", "job database path (overrides store.path)")
	flag.Parse()

	var level slog.Level
	switch o.logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, logger, o, flag.Args())
	code := exitCode(err)
	if code == exitUsage {
		var ue *usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(os.Stderr, "html2png:", ue.msg)
			fmt.Fprintln(os.Stderr, "usage: html2png [flags] <url> <outfile> | -serve | -mcp | -batch")
			os.Exit(code)
		}
	}
	if err != nil {
		logger.Error("html2png: fatal", "error", err)
	}
	os.Exit(code)
}

// exitCode maps the error taxonomy onto process exit codes.
func exitCode(err error) int {
	var ue *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ue),
		errors.Is(err, capture.ErrConfig),
		errors.Is(err, snapshot.ErrInvalidRequest),
		errors.Is(err, encode.ErrUnsupportedFormat):
		return exitUsage
	case capture.IsDetection(err):
		return exitDetection
	case errors.Is(err, capture.ErrCaptureFailed):
		return exitCapture
	case encode.IsEncode(err):
		return exitEncode
	case errors.Is(err, snapshot.ErrRenderer):
		return exitRenderer
	}
	return exitCapture
}

func run(ctx context.Context, logger *slog.Logger, o options, args []string) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	switch {
	case o.serve:
		return runServe(ctx, logger, cfg)
	case o.mcp:
		return runMCP(ctx, logger, cfg)
	case o.batch:
		return runBatch(ctx, logger, cfg)
	}

	if len(args) != 2 {
		return &usageError{msg: "expected <url> and <outfile>"}
	}
	return runCapture(ctx, logger, cfg, o, args[0], args[1])
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(o options) (*snapshot.Config, error) {
	cfg := snapshot.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = snapshot.LoadConfigFile(o.configPath); err != nil {
			return nil, &usageError{msg: fmt.Sprintf("load config: %v", err)}
		}
	}

	b := &cfg.Browser
	b.DisableJS = b.DisableJS || o.disableJS
	b.DisablePlugins = b.DisablePlugins || o.disablePlugins
	b.DisableRedirect = b.DisableRedirect || o.disableRedirect
	b.DisableImages = b.DisableImages || o.disableImages
	b.KillPopups = b.KillPopups || o.killPopups
	b.Show = b.Show || o.show
	if (o.marker != "" || o.body) && isSet("width") {
		b.ViewportWidth = o.width
	}

	c := &cfg.Capture
	c.Lenient = c.Lenient || o.lenient
	if o.timeout > 0 {
		c.Timeout = time.Duration(o.timeout) * time.Second
	}
	if o.pluginDelay > 0 {
		c.PluginDelay = time.Duration(o.pluginDelay) * time.Second
	}

	if o.addr != "" {
		cfg.Server.Addr = o.addr
	}
	if o.storePath != "" {
		cfg.Store.Path = o.storePath
	}
	if err := cfg.Validate(); err != nil {
		return nil, &usageError{msg: err.Error()}
	}
	return cfg, nil
}

func isSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func runCapture(ctx context.Context, logger *slog.Logger, cfg *snapshot.Config, o options, target, outfile string) error {
	url, err := snapshot.NormalizeURL(target)
	if err != nil {
		return &usageError{msg: err.Error()}
	}

	req := snapshot.Request{
		URL:          url,
		Marker:       o.marker,
		Body:         o.body,
		Format:       o.format,
		Quality:      o.quality,
		ScaledWidth:  o.scaledWidth,
		ScaledHeight: o.scaledHeight,
		ScaleMode:    o.scaleMode,
	}
	if o.marker == "" && !o.body {
		req.Width, req.Height = o.width, o.height
	}

	var out snapshot.Sink
	if outfile == "-" {
		out = snapshot.NewStreamSink(os.Stdout)
	} else {
		out = snapshot.NewPathSink(outfile)
		req.Name = outfile
	}

	sinks, err := snapshot.SinksFromConfig(cfg, logger)
	if err != nil {
		return &usageError{msg: err.Error()}
	}
	s := snapshot.New(cfg, logger, snapshot.WithSinks(append([]snapshot.Sink{out}, sinks...)...))
	defer s.Stop()

	if err := s.Start(ctx); err != nil {
		return err
	}
	res, err := s.Capture(ctx, req)
	if err != nil {
		var ee *encode.EncodeError
		if res != nil && !errors.As(err, &ee) {
			// The outfile sink runs first; later sinks failing is not fatal.
			logger.Warn("html2png: delivery incomplete", "error", err)
			return nil
		}
		return err
	}
	logger.Info("html2png: wrote capture",
		"outfile", outfile, "width", res.Artifact.Size.X, "height", res.Artifact.Size.Y,
		"tiles", res.Capture.Tiles, "elapsed", res.Capture.Elapsed)
	return nil
}

func runServe(ctx context.Context, logger *slog.Logger, cfg *snapshot.Config) error {
	opts, err := serviceOptions(cfg, logger)
	if err != nil {
		return err
	}
	s := snapshot.New(cfg, logger, opts...)
	defer s.Stop()

	if err := s.Start(ctx); err != nil {
		return err
	}
	if cfg.Store.Path != "" {
		go func() {
			if err := s.StartWorker(ctx); err != nil {
				logger.Error("html2png: worker stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("html2png: listening", "addr", cfg.Server.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("html2png: serve: %w", err)
	}
	return nil
}

func runMCP(ctx context.Context, logger *slog.Logger, cfg *snapshot.Config) error {
	opts, err := serviceOptions(cfg, logger)
	if err != nil {
		return err
	}
	s := snapshot.New(cfg, logger, opts...)
	defer s.Stop()

	srv := mcp.NewServer(&mcp.Implementation{Name: "html2png", Version: version}, nil)
	s.RegisterMCP(srv)

	logger.Info("html2png: MCP over stdio")
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("html2png: mcp: %w", err)
	}
	return nil
}

func runBatch(ctx context.Context, logger *slog.Logger, cfg *snapshot.Config) error {
	if cfg.Store.Path == "" {
		return &usageError{msg: "-batch needs store.path or -store"}
	}
	opts, err := serviceOptions(cfg, logger)
	if err != nil {
		return err
	}
	s := snapshot.New(cfg, logger, opts...)
	defer s.Stop()

	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.StartWorker(ctx)
}

// serviceOptions opens the job store and the configured sinks.
func serviceOptions(cfg *snapshot.Config, logger *slog.Logger) ([]snapshot.Option, error) {
	sinks, err := snapshot.SinksFromConfig(cfg, logger)
	if err != nil {
		return nil, &usageError{msg: err.Error()}
	}
	opts := []snapshot.Option{snapshot.WithSinks(sinks...)}
	if cfg.Store.Path != "" {
		st, err := snapshot.OpenStore(cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("html2png: open store: %w", err)
		}
		opts = append(opts, snapshot.WithStore(st))
	}
	return opts, nil
}

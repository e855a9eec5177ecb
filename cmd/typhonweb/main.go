// Command typhonweb serves the Typhon web console and drives the engine
// from the command line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/deixis/typhonweb"
	"github.com/deixis/typhonweb/internal/config"
	"github.com/deixis/typhonweb/internal/engine"
	"github.com/deixis/typhonweb/internal/httpapi"
	"github.com/deixis/typhonweb/internal/logging"
	typhonmcp "github.com/deixis/typhonweb/internal/mcp"
	"github.com/deixis/typhonweb/internal/metrics"
	"github.com/deixis/typhonweb/internal/report"
	"github.com/deixis/typhonweb/internal/request"
	"github.com/deixis/typhonweb/internal/runner"
	"github.com/deixis/typhonweb/internal/scope"
	"github.com/deixis/typhonweb/internal/transcript"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("typhonweb: ")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "serve":
		err = serveMain(args)
	case "run":
		err = runMain(args)
	case "normalize":
		err = normalizeMain(args)
	case "mcp":
		err = mcpMain(args)
	case "tokens":
		err = tokensMain(args)
	case "version":
		fmt.Println(typhonweb.Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "typhonweb: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		if !errors.Is(err, errRunFailed) {
			log.Print(err)
		}
		os.Exit(1)
	}
}

// errRunFailed makes the process exit non-zero once a run without a
// bypass has printed its result.
var errRunFailed = errors.New("run did not find a bypass")

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: typhonweb <command> [flags]

Commands:
  serve       Start the web console
  run         Run one bypass search and print the normalized transcript
  normalize   Normalize engine output read from stdin
  mcp         Start the MCP server
  tokens      List the symbolic local_scope tokens
  version     Print the version
  help        Show this help

Use "typhonweb <command> -h" for command-specific flags.`)
}

// --- serve ---

func serveMain(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "listen address (default from config, 127.0.0.1:5000)")
	debug := fs.Bool("debug", false, "enable debug mode")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = app.logger.Sync() }()

	cfg := app.cfg
	if *debug {
		cfg.Server.Debug = true
	}
	listen := cfg.Addr()
	if *addr != "" {
		listen = *addr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.engine.Metrics = metrics.New(reg)

	var mcpHandler http.Handler
	if cfg.Server.MCP {
		mcpHandler = typhonmcp.NewHTTPHandler(typhonmcp.NewServer(app.engine, app.store))
	}

	rps, burst := cfg.RateLimit()
	srv := httpapi.New(httpapi.Options{
		Engine:       app.engine,
		Store:        app.store,
		Logger:       app.logger,
		Metrics:      app.engine.Metrics,
		Gatherer:     reg,
		MCP:          mcpHandler,
		AllowOrigins: cfg.AllowOrigins(),
		RateLimit:    rps,
		RateBurst:    burst,
		Debug:        cfg.Server.Debug,
	})

	app.logger.Info("console ready",
		zap.String("version", typhonweb.Version),
		zap.Strings("engine", app.engine.Command),
		zap.Bool("mcp", mcpHandler != nil),
	)
	return srv.Run(ctx, listen)
}

// --- run ---

func runMain(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	mode := fs.String("mode", "rce", "rce or read")
	cmd := fs.String("cmd", "", "command to execute (rce mode)")
	path := fs.String("filepath", "", "file to read (read mode)")
	rceMethod := fs.String("rce-method", "", "exec or eval (read mode)")
	localScope := fs.String("scope", "", `local_scope as JSON, e.g. {"os":"@module:os"}`)
	bannedChr := fs.String("banned-chr", "", "comma separated banned characters or strings")
	allowedChr := fs.String("allowed-chr", "", "comma separated allowed characters")
	bannedRe := fs.String("banned-re", "", "comma separated banned regular expressions")
	bannedAST := fs.String("banned-ast", "", "comma separated banned AST node names")
	maxLength := fs.Int("max-length", -1, "maximum payload length (-1 for none)")
	depth := fs.Int("depth", request.DefaultDepth, "search depth")
	timeout := fs.Int("timeout", request.DefaultTimeoutSec, "run timeout in seconds")
	logLevel := fs.String("log-level", request.DefaultLogLevel, "DEBUG, INFO or QUIET")
	allPayloads := fs.Bool("all", false, "report every payload found")
	jsonFlag := fs.Bool("json", false, "print the result as JSON")
	_ = fs.Parse(args)

	form := map[string]any{
		"mode":              *mode,
		"cmd":               *cmd,
		"filepath":          *path,
		"banned_chr":        *bannedChr,
		"allowed_chr":       *allowedChr,
		"banned_re":         *bannedRe,
		"banned_ast":        *bannedAST,
		"depth":             *depth,
		"timeout_sec":       *timeout,
		"log_level":         *logLevel,
		"print_all_payload": *allPayloads,
	}
	if *rceMethod != "" {
		form["rce_method"] = *rceMethod
	}
	if *localScope != "" {
		form["local_scope"] = *localScope
	}
	if *maxLength >= 0 {
		form["max_length"] = *maxLength
	}

	req, err := request.Decode(form)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = app.logger.Sync() }()

	var sink func(string)
	if !*jsonFlag {
		sink = func(l string) { fmt.Println(l) }
	}

	result, err := app.engine.Run(ctx, req, sink)
	if err != nil {
		return err
	}

	if *jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		fmt.Print(formatRunCLI(result))
	}

	if result.Status != report.StatusOK {
		return errRunFailed
	}
	return nil
}

func formatRunCLI(r *report.RunResult) string {
	var b []byte
	w := func(format string, args ...any) {
		b = fmt.Appendf(b, format, args...)
	}

	w("\n")
	if r.Status == report.StatusOK {
		w("ok")
	} else {
		w("FAIL (%s)", r.Status)
	}
	w("  %dms, %d lines from %d\n", r.DurationMS, r.Stats.Output, r.Stats.Input)

	for _, p := range r.Payloads {
		w("  %s\n", p)
	}
	if r.Stderr != "" {
		w("\nstderr:\n%s\n", strings.TrimRight(r.Stderr, "\n"))
	}
	return string(b)
}

// --- normalize ---

func normalizeMain(args []string) error {
	fs := flag.NewFlagSet("normalize", flag.ExitOnError)
	blank := fs.String("blank", "", "blank line policy: collapse or drop (default from config)")
	stats := fs.Bool("stats", false, "print statistics to stderr")
	_ = fs.Parse(args)

	loaded, err := loadConfig()
	if err != nil {
		return err
	}
	opts := loaded.Config.TranscriptOptions()
	if *blank != "" {
		opts.Blank = transcript.BlankPolicy(*blank)
	}
	rules, err := transcript.NewRules(opts)
	if err != nil {
		return err
	}

	out := os.Stdout
	st, err := transcript.NormalizeReader(os.Stdin, rules, func(l string) {
		fmt.Fprintln(out, l)
	})
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if *stats {
		fmt.Fprintf(os.Stderr, "%d lines in, %d out (%d folded groups, %d collapsed, %d preserved)\n",
			st.Input, st.Output, st.Folded, st.Collapsed, st.Preserved)
	}
	return nil
}

// --- mcp ---

func mcpMain(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	instructions := fs.Bool("instructions", false, "print model instructions and exit")
	httpAddr := fs.String("http", "", "start HTTP server on address (e.g. :9090)")
	_ = fs.Parse(args)

	if *instructions {
		fmt.Print(typhonmcp.Instructions)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = app.logger.Sync() }()

	server := typhonmcp.NewServer(app.engine, app.store)
	if *httpAddr != "" {
		return serveMCPHTTP(ctx, server, *httpAddr)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveMCPHTTP(ctx context.Context, server *mcpsdk.Server, addr string) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: typhonmcp.NewHTTPHandler(server),
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// --- tokens ---

func tokensMain(args []string) error {
	fs := flag.NewFlagSet("tokens", flag.ExitOnError)
	jsonFlag := fs.Bool("json", false, "output tokens as JSON")
	_ = fs.Parse(args)

	tokens := scope.Default().Tokens()
	if *jsonFlag {
		return json.NewEncoder(os.Stdout).Encode(tokens)
	}
	for _, t := range tokens {
		fmt.Println(t)
	}
	return nil
}

// --- shared ---

type console struct {
	cfg    *config.Config
	logger *zap.Logger
	engine *engine.Engine
	store  *report.LRUStore
}

func loadConfig() (*config.LoadResult, error) {
	workspace, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining workspace: %w", err)
	}
	loaded, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return loaded, nil
}

// setup loads the config and wires the runner, engine and result store.
func setup() (*console, error) {
	loaded, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg := loaded.Config

	logger, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		return nil, err
	}

	engineDir := loaded.EngineDir()
	argv, err := engine.ResolveCommand(cfg.EngineCommand(), engineDir)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(loaded.Root, engineDir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("engine directory %s is outside %s", engineDir, loaded.Root)
	}

	rules, err := transcript.NewRules(cfg.TranscriptOptions())
	if err != nil {
		return nil, err
	}

	store := report.NewLRUStore(cfg.StoreCapacity(), report.NewDiskStore(cfg.Store.Dir))

	r := &runner.Runner{
		Workspace: loaded.Root,
		Timeout:   cfg.Timeout(),
		MaxOutput: cfg.MaxOutputBytes(),
		Env:       cfg.Engine.Env,
	}

	e := engine.New(r, argv, cfg.MaxConcurrentRuns())
	e.Dir = rel
	e.Rules = rules
	e.Store = store
	e.Logger = logger.Named("engine")
	e.MaxOutput = cfg.MaxOutputBytes()

	return &console{cfg: cfg, logger: logger, engine: e, store: store}, nil
}

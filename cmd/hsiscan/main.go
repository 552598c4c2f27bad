package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/hsiscan/hsiscan/internal/catalog"
	"github.com/hsiscan/hsiscan/internal/config"
	"github.com/hsiscan/hsiscan/internal/debug"
	"github.com/hsiscan/hsiscan/internal/logic/capture"
	"github.com/hsiscan/hsiscan/internal/logic/geometry"
	"github.com/hsiscan/hsiscan/internal/logic/scan"
	"github.com/hsiscan/hsiscan/internal/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var defaultConfigPath = filepath.Join("configs", "default.yaml")

func main() {
	cmd, args := "run", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = strings.ToLower(args[0]), args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = run(args)
	case "home":
		err = home(args)
	case "mkconf":
		err = mkconf(args)
	case "conf":
		err = printconf(args, os.Stdout)
	case "version":
		fmt.Println("hsiscan", version)
	case "help":
		help(os.Stdout)
	default:
		help(os.Stderr)
		log.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func help(w io.Writer) {
	fmt.Fprint(w, `hsiscan controls the hyperspectral line-scan head.

usage: hsiscan [command] [flags]

commands:
  run      acquire one scene (default), or serve the HTTP API with -web
  home     return the FOR axis to home
  mkconf   write the default configuration to -o
  conf     print the effective configuration
  version  print the version
  help     print this message

run 'hsiscan <command> -h' for the command's flags.
`)
}

// loadConfig validates the path, loads the file and initializes logging.
func loadConfig(path string) (*config.Config, error) {
	if err := config.ValidateConfigPath(path); err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Value("Config path", path)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	return cfg, nil
}

func run(args []string) error {
	rf := newRunFlags()
	if err := rf.fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(rf.cfgPath)
	if err != nil {
		return err
	}
	if rf.output != "" {
		cfg.Output.Dir = rf.output
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	h, err := openHead(cfg)
	if err != nil {
		return err
	}
	defer h.Close()

	db, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	var rec capture.Recorder
	var cat web.Catalog
	if db != nil {
		defer db.Close()
		rec, cat = db, db
	}

	opts := capture.Options{OutputDir: cfg.Output.Dir}
	if f, err := h.cam.PixelFormat(); err == nil {
		opts.PixelFormat = f
	}

	if port := rf.web.port(); port > 0 {
		return serve(ctx, cfg, h, rec, cat, opts, fmt.Sprintf(":%d", port))
	}

	req := cfg.DefaultRequest()
	rf.apply(&req)
	plan, err := geometry.PlanScan(req, cfg.Rig())
	if err != nil {
		return err
	}
	printPlan(plan)

	prog, err := newProgress(os.Stderr)
	if err != nil {
		return err
	}
	opts.OnPhase = prog.phase
	opts.OnProgress = prog.progress
	opts.AwaitCapOn = promptCapOn(os.Stdin, os.Stderr)

	sess := capture.NewSession(h.motion, h.cam, rec, opts)
	out, err := sess.Acquire(ctx, plan)
	prog.done(out, err)
	if err != nil {
		return fmt.Errorf("acquisition failed: %w", err)
	}
	return nil
}

// serve runs the HTTP API until ctx ends. Log output is teed to SSE clients.
func serve(ctx context.Context, cfg *config.Config, h *head, rec capture.Recorder, cat web.Catalog, opts capture.Options, addr string) error {
	addr = webAddr(cfg.Web.Addr, addr)
	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

	form := web.FormConfig{Defaults: cfg.DefaultRequest(), Rig: cfg.Rig()}
	handlers := web.NewHandlers(broadcaster, nil, cat, form)

	opts.OnPhase = broadcaster.Phase
	opts.OnProgress = broadcaster.Progress
	opts.AwaitCapOn = handlers.AwaitCapOn
	handlers.Session = capture.NewSession(h.motion, h.cam, rec, opts)

	return web.NewServer(addr, handlers).Run(ctx)
}

// webAddr keeps the configured host and swaps in the -web port, which is
// given as ":port".
func webAddr(configured, flagAddr string) string {
	host := configured
	if i := strings.LastIndex(configured, ":"); i >= 0 {
		host = configured[:i]
	}
	return host + flagAddr
}

func home(args []string) error {
	fs := flag.NewFlagSet("home", flag.ContinueOnError)
	cfgPath := fs.String("config", defaultConfigPath, "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	h, err := openHead(cfg)
	if err != nil {
		return err
	}
	defer h.Close()
	if err := h.motion.Home(); err != nil {
		return fmt.Errorf("home: %w", err)
	}
	debug.Info("FOR axis at home")
	return nil
}

func mkconf(args []string) error {
	fs := flag.NewFlagSet("mkconf", flag.ContinueOnError)
	path := fs.String("o", defaultConfigPath, "output path")
	force := fs.Bool("f", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return writeDefaultConfig(*path, *force)
}

func writeDefaultConfig(path string, force bool) error {
	if err := config.ValidateConfigPath(path); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s exists; use -f to overwrite", path)
	}
	if err != nil {
		return err
	}
	if err := config.Encode(f, config.Default()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printconf(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("conf", flag.ContinueOnError)
	cfgPath := fs.String("config", defaultConfigPath, "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		return err
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	return config.Encode(w, *cfg)
}

func openCatalog(cfg *config.Config) (*catalog.DB, error) {
	if cfg.Catalog.Path == "" {
		return nil, nil
	}
	db, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	return db, nil
}

func printPlan(plan geometry.Plan) {
	req := plan.Request
	debug.Summary("Scan Plan")
	debug.Value("FOR", fmt.Sprintf("[%.4f, %.4f] deg", req.MinFOR, req.MaxFOR))
	debug.Value("Base positions", plan.NumSteps)
	debug.Value("Images", plan.ImagesPerScene)
	debug.Value("Microsteps per image", plan.RawStepsPerImage)
	debug.Value("Exposures per image", req.ImagesPerStep)
	debug.Value("Integration time (us)", req.IntegrationTimeUs)
	debug.Value("Dark frame", !req.LabCalibration)
	debug.Value("Output", req.FileName)
}

// outcomeLine is the one-line summary printed after an acquisition.
func outcomeLine(out *capture.Outcome) string {
	switch out.State {
	case scan.Completed:
		if out.DarkFile != "" {
			return fmt.Sprintf("%d positions saved to %s (dark: %s)", out.Positions, out.File, out.DarkFile)
		}
		return fmt.Sprintf("%d positions saved to %s", out.Positions, out.File)
	case scan.Cancelled:
		return fmt.Sprintf("cancelled after %d positions, nothing saved", out.Positions)
	default:
		if out.File != "" {
			return fmt.Sprintf("failed after %d positions, partial cube in %s", out.Positions, out.File)
		}
		return fmt.Sprintf("failed after %d positions", out.Positions)
	}
}

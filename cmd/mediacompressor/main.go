// Command mediacompressor is the CLI and daemon entrypoint tying every
// component together: catalog, resource monitor, transcoder/probe/quality/
// classifier adapters, scanner, pipeline, notification service, daemon
// loop, and monitor HTTP surface. Ground: manager.py's __main__ block and
// argument parser (spec.md §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/Antheor0/managed-media-compressor/internal/config"
	"github.com/Antheor0/managed-media-compressor/internal/logging"
	"github.com/Antheor0/managed-media-compressor/pkg/catalog"
	"github.com/Antheor0/managed-media-compressor/pkg/classifier"
	"github.com/Antheor0/managed-media-compressor/pkg/monitor"
	"github.com/Antheor0/managed-media-compressor/pkg/notify"
	"github.com/Antheor0/managed-media-compressor/pkg/orchestrator"
	"github.com/Antheor0/managed-media-compressor/pkg/pipeline"
	"github.com/Antheor0/managed-media-compressor/pkg/probe"
	"github.com/Antheor0/managed-media-compressor/pkg/quality"
	"github.com/Antheor0/managed-media-compressor/pkg/resource"
	"github.com/Antheor0/managed-media-compressor/pkg/scanner"
	"github.com/Antheor0/managed-media-compressor/pkg/transcoder"
)

func main() {
	var (
		configPath    = flag.String("config", "", "configuration file path")
		scanOnly      = flag.Bool("scan-only", false, "scan media roots and exit, no compression")
		compressOnly  = flag.Bool("compress-only", false, "run one compression pass against the existing catalog and exit")
		now           = flag.Bool("now", false, "ignore the schedule window for this run")
		daemon        = flag.Bool("daemon", false, "run continuously as a daemon")
		limit         = flag.Int("limit", 0, "maximum files to draw from the queue for one compression pass (0 = compression_queue_size)")
		reloadConfig  = flag.Bool("reload-config", false, "validate the config file and exit, reporting any errors")
		checkDeps     = flag.Bool("check-deps", false, "verify external tool dependencies are invocable and exit")
		setSMTPSecret = flag.Bool("set-smtp-password", false, "interactively set and persist the SMTP password, then exit")
		setWebhookURL = flag.Bool("set-webhook-secret", false, "interactively set and persist the webhook URL, then exit")
	)
	flag.StringVar(configPath, "c", "", "shorthand for -config")
	flag.BoolVar(scanOnly, "s", false, "shorthand for -scan-only")
	flag.BoolVar(compressOnly, "p", false, "shorthand for -compress-only")
	flag.BoolVar(now, "n", false, "shorthand for -now")
	flag.BoolVar(daemon, "d", false, "shorthand for -daemon")
	flag.IntVar(limit, "l", 0, "shorthand for -limit")
	flag.BoolVar(reloadConfig, "r", false, "shorthand for -reload-config")
	flag.Parse()

	log := logging.New(logging.DefaultConfig())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Errorf("loading config: %v", err)
		os.Exit(1)
	}

	if *setSMTPSecret || *setWebhookURL {
		if err := configureSecret(cfg, *configPath, *setSMTPSecret, *setWebhookURL); err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}
		return
	}

	if *reloadConfig {
		if errs := cfg.Validate(); len(errs) > 0 {
			for _, e := range errs {
				log.Errorf("config: %s", e)
			}
			os.Exit(1)
		}
		log.Infof("config is valid")
		return
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			log.Errorf("config: %s", e)
		}
		os.Exit(1)
	}

	tc := transcoder.New(cfg, log)
	pr := probe.New("", log)

	if *checkDeps {
		missing := append(tc.CheckDependencies(context.Background()), pr.CheckDependencies(context.Background())...)
		if len(missing) > 0 {
			for _, m := range missing {
				log.Errorf("missing dependency: %s", m)
			}
			os.Exit(1)
		}
		log.Infof("all dependencies available")
		return
	}

	cat, err := catalog.Open(catalog.Options{
		Path: cfg.DatabasePath, BackupPath: cfg.BackupPath,
		AutoRepair: cfg.Recovery.AutoRepair, Logger: log,
	})
	if err != nil {
		log.Errorf("opening catalog: %v", err)
		os.Exit(1)
	}
	defer cat.Close()

	if n, err := cat.ResumePausedAtStartup(); err != nil {
		log.Warnf("resetting paused records at startup: %v", err)
	} else if n > 0 {
		log.Infof("reset %d paused record(s) to pending on startup", n)
	}

	res := resource.New(cfg, log)
	qv := quality.New(cfg, log, pr)
	cl := classifier.New(cfg, log, pr)
	notif := notify.New(cfg, log, res)
	scan := scanner.New(cfg, log, cat)
	if err := scan.StartWatching(); err != nil {
		log.Warnf("filesystem watcher unavailable: %v", err)
	}
	defer scan.CloseWatcher()
	pipe := pipeline.New(cfg, log, cat, res, tc, cl, qv, pr, notif, nil)

	orch := orchestrator.New(cfg, log, cat, res, scan, pipe)

	controls := &daemonControls{orch: orch, scan: scan, pipe: pipe, cfg: cfg, configPath: *configPath, log: log}

	mon, err := monitor.New(cfg, log, cat, scan, pipe, controls)
	if err != nil {
		log.Errorf("constructing monitor surface: %v", err)
		os.Exit(1)
	}
	if cfg.WebInterface.Enabled {
		if err := mon.Start(); err != nil {
			log.Errorf("starting monitor surface: %v", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch {
	case *scanOnly:
		if _, err := scan.ScanAll(ctx); err != nil {
			log.Errorf("scan failed: %v", err)
			os.Exit(1)
		}
	case *compressOnly:
		if !*now {
			if ok, reason := res.CheckResources(); !ok {
				log.Errorf("resources unavailable: %s", reason)
				os.Exit(1)
			}
		}
		queueLimit := *limit
		if queueLimit <= 0 {
			queueLimit = cfg.CompressionQueueSize
		}
		result := pipe.RunSession(ctx, queueLimit)
		log.Infof("compression pass finished: %s", result.Status)
		if result.Errors > 0 {
			os.Exit(1)
		}
	case *daemon:
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
		}()
		if err := orch.Run(ctx); err != nil {
			log.Errorf("daemon exited with error: %v", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "one of -scan-only, -compress-only, or -daemon is required")
		flag.Usage()
		os.Exit(1)
	}
}

// daemonControls adapts the concretely-typed components this command wires
// together into the monitor package's Controls interface.
type daemonControls struct {
	orch       *orchestrator.Orchestrator
	scan       *scanner.Scanner
	pipe       *pipeline.Pipeline
	cfg        *config.Config
	configPath string
	log        *logging.Logger
}

func (d *daemonControls) StartScan() {
	go func() {
		if _, err := d.scan.ScanAll(context.Background()); err != nil {
			d.log.Warnf("manual scan finished with errors: %v", err)
		}
	}()
}

func (d *daemonControls) StartCompression() {
	go func() {
		d.pipe.RunSession(context.Background(), d.cfg.CompressionQueueSize)
	}()
}

// ReloadConfig builds a fresh configuration from the same file, validates
// it, and swaps the fields the running components read live. Components
// that were constructed against the old *Config (catalog path, database
// driver options) are not live-swappable and require a process restart;
// this reloads the subset that is (schedule, compression, quality,
// recovery, notification settings) spec.md §4.10 "reload_config".
func (d *daemonControls) ReloadConfig() error {
	fresh, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if errs := fresh.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid config: %v", errs)
	}
	*d.cfg = *fresh
	d.log.Infof("configuration reloaded from %s", d.configPath)
	return nil
}

func configureSecret(cfg *config.Config, configPath string, smtp, webhook bool) error {
	if configPath == "" {
		return fmt.Errorf("-config is required to persist a secret")
	}
	if smtp {
		password, err := promptSecret("SMTP password: ")
		if err != nil {
			return err
		}
		cfg.Notifications.Email.Password = password
	}
	if webhook {
		url, err := promptSecret("Webhook URL: ")
		if err != nil {
			return err
		}
		cfg.Notifications.Webhook.URL = url
	}
	return cfg.SaveToFile(configPath)
}

// promptSecret reads a line of hidden input from the controlling terminal.
// Ground: pkg/util/password.go's PromptPassword.
func promptSecret(prompt string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("interactive prompting requires a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	value, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return string(value), nil
}

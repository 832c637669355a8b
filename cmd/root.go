// Package cmd wires up the CLI flags and dispatches to the relay core.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"tlsrelay/config"
	"tlsrelay/internal/console"
	"tlsrelay/internal/core"
	relayerr "tlsrelay/internal/errors"
	"tlsrelay/internal/metrics"
	"tlsrelay/internal/transport"
	"tlsrelay/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X tlsrelay/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the relay against the process's
// standard input and output.  Errors are reported on stdout before
// they are returned; the caller only needs the exit status.
func Execute(ctx context.Context, args []string) error {
	return run(ctx, args, os.Stdin, os.Stdout)
}

// options are the flags that are not part of config.Config.
type options struct {
	configPath   string
	quiet        bool
	verbose      int
	generateCert bool
	dryRun       bool
	showVersion  bool
	showHelp     bool
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) (err error) {
	fc := config.Default()
	var opts options
	fs := newFlagSet(fc, &opts)
	fs.SetOutput(stdout)
	fs.Usage = func() { printUsage(stdout, fs) }

	// ── parse ────────────────────────────────────────────────────
	// pflag prints its own parse errors and usage.
	if err := fs.Parse(args); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			report(stdout, err)
		}
	}()
	if opts.showHelp {
		printUsage(stdout, fs)
		return nil
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "tlsrelay %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q (use --help for usage)", fs.Arg(0))
	}

	// ── layer: defaults → file → env → flags ─────────────────────
	cfg, err := resolve(fs, fc, &opts)
	if err != nil {
		return err
	}

	logger := util.NewLogger(cfg.Verbose)
	logger.SetOutput(stdout)

	if opts.generateCert {
		return generateCert(cfg, logger)
	}
	if opts.dryRun {
		printConfig(stdout, cfg)
		return nil
	}

	// ── build and run ────────────────────────────────────────────
	m := metrics.New()
	mode, err := core.Build(cfg, logger, console.New(stdin, stdout), m)
	if err != nil {
		return err
	}

	err = mode.Run(ctx)
	logger.Verbose("metrics:\n%s", m.JSON())
	return err
}

func newFlagSet(fc *config.Config, opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet("tlsrelay", flag.ContinueOnError)

	// ── listener ─────────────────────────────────────────────────
	fs.StringVar(&fc.Host, "host", fc.Host, "Address to bind")
	fs.IntVarP(&fc.Port, "port", "p", fc.Port, "Port to listen on")
	fs.StringVar(&fc.CertFile, "cert", fc.CertFile, "TLS certificate (PEM)")
	fs.StringVar(&fc.KeyFile, "key", fc.KeyFile, "TLS private key (PEM)")
	fs.IntVar(&fc.MaxFrameBytes, "max-frame", fc.MaxFrameBytes, "Largest accepted response frame in bytes")
	fs.DurationVar(&fc.HandshakeTimeout, "handshake-timeout", fc.HandshakeTimeout, "TLS handshake time limit (0 = none)")
	fs.DurationVar(&fc.GreetingTimeout, "greeting-timeout", fc.GreetingTimeout, "Time allowed for the peer's prompt (0 = none)")
	fs.DurationVar(&fc.PollInterval, "poll-interval", fc.PollInterval, "Read poll interval while awaiting a response")
	fs.StringVarP(&opts.configPath, "config", "C", "", "TOML config file (default $TLSRELAY_CONFIG)")
	fs.BoolVar(&opts.generateCert, "generate-cert", false, "Write a self-signed certificate and key, then exit")

	// ── SSH gateway ──────────────────────────────────────────────
	fs.StringVarP(&fc.GatewaySpec, "gateway", "g", "", "Accept connections via SSH gateway [user@]host[:port]")
	fs.IntVar(&fc.RemotePort, "remote-port", 0, "Port to open on the gateway (0 = gateway chooses)")
	fs.StringVar(&fc.RemoteBindAddress, "remote-bind", "", "Address to bind on the gateway")
	fs.DurationVar(&fc.KeepAliveInterval, "keepalive", fc.KeepAliveInterval, "SSH keepalive interval (0 = off)")
	fs.StringVar(&fc.SSHKeyPath, "ssh-key", "", "SSH private key file")
	fs.BoolVar(&fc.SSHPassword, "ssh-password", false, "Prompt for SSH password")
	fs.BoolVar(&fc.UseSSHAgent, "ssh-agent", false, "Use SSH agent")
	fs.BoolVar(&fc.StrictHostKey, "strict-hostkey", false, "Verify SSH host keys")
	fs.StringVar(&fc.KnownHostsPath, "known-hosts", "", "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&opts.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&opts.quiet, "quiet", "q", false, "Only print errors")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Validate and print the configuration, then exit")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&opts.showHelp, "help", "h", false, "Show this help")

	fs.SortFlags = false
	return fs
}

// resolve builds the effective configuration.  Flags are parsed into
// fc; only the ones the operator actually set are copied over the
// lower layers.
func resolve(fs *flag.FlagSet, fc *config.Config, opts *options) (*config.Config, error) {
	cfg := config.Default()

	path := opts.configPath
	if path == "" {
		path = config.ConfigPathFromEnv()
	}
	if path != "" {
		if err := config.LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) { applyFlag(cfg, fc, f.Name) })

	cfg.Verbose += opts.verbose
	if opts.quiet {
		cfg.Verbose = 0
	}

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlag(cfg, fc *config.Config, name string) {
	switch name {
	case "host":
		cfg.Host = fc.Host
	case "port":
		cfg.Port = fc.Port
	case "cert":
		cfg.CertFile = fc.CertFile
	case "key":
		cfg.KeyFile = fc.KeyFile
	case "max-frame":
		cfg.MaxFrameBytes = fc.MaxFrameBytes
	case "handshake-timeout":
		cfg.HandshakeTimeout = fc.HandshakeTimeout
	case "greeting-timeout":
		cfg.GreetingTimeout = fc.GreetingTimeout
	case "poll-interval":
		cfg.PollInterval = fc.PollInterval
	case "gateway":
		cfg.GatewaySpec = fc.GatewaySpec
	case "remote-port":
		cfg.RemotePort = fc.RemotePort
	case "remote-bind":
		cfg.RemoteBindAddress = fc.RemoteBindAddress
	case "keepalive":
		cfg.KeepAliveInterval = fc.KeepAliveInterval
	case "ssh-key":
		cfg.SSHKeyPath = fc.SSHKeyPath
	case "ssh-password":
		cfg.SSHPassword = fc.SSHPassword
	case "ssh-agent":
		cfg.UseSSHAgent = fc.UseSSHAgent
	case "strict-hostkey":
		cfg.StrictHostKey = fc.StrictHostKey
	case "known-hosts":
		cfg.KnownHostsPath = fc.KnownHostsPath
	}
}

// ── helpers ──────────────────────────────────────────────────────────

// report prints err through the operator log.  Startup failures get a
// prefix so they are not mistaken for a session ending.
func report(w io.Writer, err error) {
	l := util.NewLogger(int(util.LogQuiet))
	l.SetOutput(w)
	if relayerr.IsFatal(err) {
		l.Error("cannot start: %v", err)
		return
	}
	l.Error("%v", err)
}

func generateCert(cfg *config.Config, logger *util.Logger) error {
	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if cfg.Host != "" && cfg.Host != config.DefaultHost && cfg.Host != "localhost" {
		hosts = append(hosts, cfg.Host)
	}
	if err := transport.GenerateCertFiles(cfg.CertFile, cfg.KeyFile, hosts); err != nil {
		return &relayerr.CertError{Path: cfg.CertFile, Err: err}
	}
	logger.Info("wrote self-signed certificate %s and key %s (valid %s)",
		cfg.CertFile, cfg.KeyFile, transport.DefaultCertValidity)
	return nil
}

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "listen            = %s\n", cfg.Addr())
	fmt.Fprintf(w, "cert              = %s\n", cfg.CertFile)
	fmt.Fprintf(w, "key               = %s\n", cfg.KeyFile)
	fmt.Fprintf(w, "max_frame         = %d\n", cfg.MaxFrameBytes)
	fmt.Fprintf(w, "handshake_timeout = %s\n", cfg.HandshakeTimeout)
	fmt.Fprintf(w, "greeting_timeout  = %s\n", cfg.GreetingTimeout)
	fmt.Fprintf(w, "poll_interval     = %s\n", cfg.PollInterval)
	if cfg.GatewayEnabled {
		fmt.Fprintf(w, "gateway           = %s@%s:%d\n", cfg.GatewayUser, cfg.GatewayHost, cfg.GatewayPort)
		fmt.Fprintf(w, "remote            = %s\n", util.FormatAddr(cfg.RemoteBindAddress, cfg.RemotePort))
		fmt.Fprintf(w, "keepalive         = %s\n", cfg.KeepAliveInterval)
	}
	fmt.Fprintf(w, "verbose           = %d\n", cfg.Verbose)
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `tlsrelay - TLS command relay v%s

Accepts one TLS 1.3 connection at a time, sends operator commands to
the peer as base64 lines and prints the decoded responses.

Usage:
  tlsrelay [options]                           Listen on 0.0.0.0:5656
  tlsrelay --generate-cert                     Create server.crt/server.key
  tlsrelay -g user@gateway --remote-port N     Listen through an SSH gateway

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Environment:
  TLSRELAY_HOST, TLSRELAY_PORT, TLSRELAY_CERT, TLSRELAY_KEY, TLSRELAY_CONFIG,
  TLSRELAY_GATEWAY, TLSRELAY_REMOTE_PORT, ... (one per option)

Examples:
  tlsrelay -p 8443 --cert relay.crt --key relay.key
  tlsrelay -C /etc/tlsrelay.toml -v
  tlsrelay -g ops@bastion.example.com --remote-port 8443 --ssh-agent
`)
}

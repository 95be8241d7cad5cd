// Package main is the entry point for the smtp-send runner. It loads the
// configuration, sends one message and reports each step and the outcome.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shineum/smtp-mailer-lite/internal/config"
	"github.com/shineum/smtp-mailer-lite/internal/email"
	"github.com/shineum/smtp-mailer-lite/internal/mailer"
	"github.com/shineum/smtp-mailer-lite/internal/provider"
	"github.com/shineum/smtp-mailer-lite/internal/provider/ses"
	"github.com/shineum/smtp-mailer-lite/internal/provider/stdout"
	"github.com/shineum/smtp-mailer-lite/internal/smtp"
)

// options holds the command-line flags. Empty values fall back to the
// configured defaults.
type options struct {
	configPath string
	provider   string
	to         string
	cc         string
	bcc        string
	subject    string
	body       string
	attach     stringList
	header     stringList
	timeout    time.Duration
	jsonOutput bool
	textLogs   bool
}

// stringList is a repeatable flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdoutW, stderrW io.Writer) int {
	opts, err := parseFlags(args, stderrW)
	if err != nil {
		return 2
	}

	// Load configuration
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return report(stdoutW, opts.jsonOutput, mailer.ResultOf(fmt.Errorf("failed to load configuration: %w", err)))
	}
	if opts.provider != "" {
		cfg.Provider = strings.ToLower(opts.provider)
	}
	if err := cfg.Validate(); err != nil {
		return report(stdoutW, opts.jsonOutput, mailer.ResultOf(fmt.Errorf("invalid configuration: %w", err)))
	}

	// Setup structured logging
	logger := setupLogger(stderrW, cfg.Logging.Level, opts.textLogs)
	logger.Info("step 1: configuration loaded",
		"config", opts.configPath,
		"smtp_host", cfg.SMTP.Host,
		"smtp_port", cfg.SMTP.Port,
		"encryption", cfg.SMTP.Encryption,
		"auth_enabled", cfg.SMTP.Username != "",
	)

	// Select email delivery provider
	prov, err := selectProvider(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("step 2: provider setup failed", "error", err)
		return report(stdoutW, opts.jsonOutput, mailer.ResultOf(err))
	}
	logger.Info("step 2: provider selected", "provider", prov.Name())

	env := buildEnvelope(cfg, opts)
	logger.Info("step 3: message prepared",
		"from", env.From,
		"recipients", len(env.Recipients()),
		"attachments", len(env.Attachments),
	)

	m := mailer.New(prov,
		mailer.WithLogger(logger),
		mailer.WithDefaults(cfg.MailDefaults()),
	)

	// Cancel the send on SIGINT or SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if opts.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, aborting send", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	err = m.Send(ctx, env)
	if err != nil {
		logger.Error("step 4: send failed", "error", err, "duration", time.Since(start))
	} else {
		logger.Info("step 4: message sent", "duration", time.Since(start))
	}
	return report(stdoutW, opts.jsonOutput, mailer.ResultOf(err))
}

func parseFlags(args []string, errW io.Writer) (*options, error) {
	fs := flag.NewFlagSet("smtp-send", flag.ContinueOnError)
	fs.SetOutput(errW)

	opts := &options{}
	fs.StringVar(&opts.configPath, "config", "", "path to YAML or legacy JSON configuration file (optional)")
	fs.StringVar(&opts.provider, "provider", "", "delivery provider: smtp, ses or stdout (overrides PROVIDER)")
	fs.StringVar(&opts.to, "to", "", "comma-separated To addresses")
	fs.StringVar(&opts.cc, "cc", "", "comma-separated Cc addresses")
	fs.StringVar(&opts.bcc, "bcc", "", "comma-separated Bcc addresses")
	fs.StringVar(&opts.subject, "subject", "", "message subject")
	fs.StringVar(&opts.body, "body", "", "HTML body")
	fs.Var(&opts.attach, "attach", "file to attach (repeatable)")
	fs.Var(&opts.header, "header", `extra header line such as "Reply-To: a@example.com" (repeatable)`)
	fs.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall send deadline (0 disables)")
	fs.BoolVar(&opts.jsonOutput, "json", false, "print the result as JSON")
	fs.BoolVar(&opts.textLogs, "text", false, "write logs as text instead of JSON")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// loadConfig loads configuration from the specified path (file + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// buildEnvelope combines flags with configured recipients and attachments.
// Sender, subject and body defaults are applied later by the mailer.
func buildEnvelope(cfg *config.Config, opts *options) *email.Envelope {
	env := &email.Envelope{}

	to, cc, bcc := splitFlag(opts.to), splitFlag(opts.cc), splitFlag(opts.bcc)
	if len(to) == 0 && len(cc) == 0 && len(bcc) == 0 {
		to, cc, bcc = cfg.Defaults.To, cfg.Defaults.Cc, cfg.Defaults.Bcc
	}
	for _, addr := range to {
		env.AddTo(addr)
	}
	for _, addr := range cc {
		env.AddCc(addr)
	}
	for _, addr := range bcc {
		env.AddBcc(addr)
	}

	env.SetSubject(opts.subject)
	env.SetBody(opts.body)

	attachments := []string(opts.attach)
	if len(attachments) == 0 {
		attachments = cfg.Defaults.Attachments
	}
	for _, path := range attachments {
		env.AddAttachmentFile(path)
	}
	for _, line := range opts.header {
		env.AddHeader(line)
	}
	return env
}

func splitFlag(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// setupLogger builds a logger at the specified level, JSON by default or
// text for interactive debugging, and installs it as the default.
func setupLogger(w io.Writer, level string, text bool) *slog.Logger {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if text {
		handler = slog.NewTextHandler(w, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// selectProvider chooses the email delivery backend based on configuration.
// If PROVIDER is set it takes precedence; otherwise SMTP is used when a host
// is configured, then SES when a region is, then stdout.
func selectProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (provider.Provider, error) {
	name := cfg.Provider
	if name == "" {
		switch {
		case cfg.SMTPConfigured():
			name = "smtp"
		case cfg.SESConfigured():
			name = "ses"
		default:
			logger.Info("no provider configured, using stdout provider")
			name = "stdout"
		}
	}

	switch name {
	case "smtp":
		if !cfg.SMTPConfigured() {
			return nil, fmt.Errorf("SMTP provider selected but SMTP_HOST is required")
		}
		sc, err := cfg.SMTPClientConfig()
		if err != nil {
			return nil, err
		}
		logger.Info("using SMTP provider",
			"server", sc.Addr(),
			"encryption", sc.Encryption.String(),
		)
		return smtp.NewTransport(sc, logger), nil

	case "ses":
		if !cfg.SESConfigured() {
			return nil, fmt.Errorf("SES provider selected but SES_REGION is required")
		}
		logger.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		p, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case "stdout":
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// report prints the result and returns the process exit code.
func report(w io.Writer, asJSON bool, r mailer.Result) int {
	if asJSON {
		enc := json.NewEncoder(w)
		_ = enc.Encode(r)
	} else {
		fmt.Fprintf(w, "%s: %s\n", r.Status, r.Message)
	}
	if r.OK() {
		return 0
	}
	return 1
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"slidegen/internal/auth"
	"slidegen/internal/config"
	"slidegen/internal/errlog"
	"slidegen/internal/handler"
	"slidegen/internal/parser"
	"slidegen/internal/router"
	"slidegen/internal/session"
)

// version is overridden at link time with -ldflags "-X main.version=...".
var version = "dev"

type cliOptions struct {
	configPath string
	envFiles   []string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:          "slidegen",
		Short:        "Generate PDF slide decks from a topic and an optional document",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "path to the JSON config file")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, ".env files to load before reading config")

	root.AddCommand(
		newServeCommand(opts),
		newGenerateCommand(opts),
		newExtractCommand(),
		newConfigCommand(opts),
		newLogsCommand(opts),
		newVersionCommand(),
	)
	return root
}

// loadConfig loads .env files, then the config file, creating it with
// defaults when missing.
func loadConfig(opts *cliOptions) (*config.ConfigManager, *config.Config, error) {
	if err := config.LoadEnvFiles(opts.envFiles...); err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(opts.configPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("create config directory: %w", err)
	}
	cm, err := config.NewConfigManager(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("create config manager: %w", err)
	}
	if err := cm.Load(); err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cm, cm.Get(), nil
}

func newServeCommand(opts *cliOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			svc, err := NewServices(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, svc, cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	return cmd
}

func serve(ctx context.Context, svc *Services, cfg *config.Config) error {
	logger := svc.Logger
	limiter := auth.NewLoginLimiter()
	h := router.New(svc.App, router.Options{
		AllowedOrigins:        cfg.Server.AllowedOrigins,
		GenerateRatePerMinute: cfg.Server.GenerateRatePerMinute,
		AccessPasswordHash:    cfg.Server.AccessPasswordHash,
		LoginLimiter:          limiter,
		Gatherer:              svc.Registry,
		Logger:                logger.Named("http"),
	})
	go cleanLoginLimiter(ctx, limiter, logger)

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      180 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("slidegen listening",
			zap.String("addr", addr),
			zap.String("version", version),
			zap.String("max_upload", humanize.IBytes(uint64(svc.App.MaxUploadBytes()))),
			zap.Bool("password_required", cfg.Server.AccessPasswordHash != ""))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

// cleanLoginLimiter drops stale lockout state once an hour until ctx ends.
func cleanLoginLimiter(ctx context.Context, limiter *auth.LoginLimiter, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.CleanOld(); n > 0 {
				logger.Debug("login limiter cleaned", zap.Int("clients", n))
			}
		}
	}
}

type generateFlags struct {
	topic    string
	file     string
	mime     string
	out      string
	jsonOnly bool
}

func newGenerateCommand(opts *cliOptions) *cobra.Command {
	var f generateFlags
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a presentation and write it as a PDF",
		Example: `  slidegen generate --topic "Renewable Energy"
  slidegen generate --topic "Q3 Review" --file report.docx --out review.pdf`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			svc, err := NewServices(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			return runGenerate(cmd.Context(), svc.App, f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.topic, "topic", "", "presentation topic (required)")
	cmd.Flags().StringVar(&f.file, "file", "", "supporting document to extract text from")
	cmd.Flags().StringVar(&f.mime, "mime", "", "MIME type of --file (guessed from the extension when empty)")
	cmd.Flags().StringVar(&f.out, "out", "", "output PDF path (defaults to <Topic>_enhanced.pdf)")
	cmd.Flags().BoolVar(&f.jsonOnly, "json", false, "print the slide records as JSON instead of writing a PDF")
	cmd.MarkFlagRequired("topic")
	return cmd
}

func runGenerate(ctx context.Context, app *handler.App, f generateFlags, w io.Writer) error {
	var (
		docText  string
		warnings []string
	)
	if f.file != "" {
		ext, warn, err := extractFile(app, f.file, f.mime)
		if err != nil {
			return err
		}
		if warn != nil {
			warnings = append(warnings, fmt.Sprintf("could not extract text from %s: %v", filepath.Base(f.file), warn))
		}
		docText = ext.Text
	}

	entry, err := app.Generate(ctx, f.topic, docText, warnings...)
	if err != nil {
		return err
	}

	if f.jsonOnly {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entry)
	}

	doc, filename, err := app.RenderCurrent(ctx)
	if err != nil {
		return err
	}
	out := f.out
	if out == "" {
		out = filename
	}
	if err := os.WriteFile(out, doc.Data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	printOutline(w, entry)
	fmt.Fprintf(w, "\nWrote %s (%s, %d pages, %d images, %d skipped)\n",
		out, humanize.Bytes(uint64(len(doc.Data))), doc.Pages, doc.ImagesEmbedded, doc.ImagesSkipped)
	return nil
}

func printOutline(w io.Writer, entry *session.Entry) {
	for _, warning := range entry.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTITLE\tBULLETS\tIMAGES\tREFERENCES")
	for i, s := range entry.Presentation.Slides {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\n", i+1, s.Title, len(s.BulletPoints), len(s.ImageURLs), len(s.ReferenceURLs))
	}
	tw.Flush()
}

func newExtractCommand() *cobra.Command {
	var (
		mimeType string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "extract FILE",
		Short: "Print the plain text extracted from a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := handler.NewApp(&parser.DocumentParser{}, nil, nil, nil, nil, nil)
			ext, warn, err := extractFile(app, args[0], mimeType)
			if err != nil {
				return err
			}
			if warn != nil {
				return fmt.Errorf("extract %s: %w", args[0], warn)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(ext)
			}
			fmt.Fprintln(out, ext.Text)
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s characters (%s)\n",
				ext.Format, humanize.Comma(int64(ext.Characters)), filepath.Base(args[0]))
			return nil
		},
	}
	cmd.Flags().StringVar(&mimeType, "mime", "", "MIME type (guessed from the extension when empty)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print text, format and metadata as JSON")
	return cmd
}

// extractFile reads path and extracts it. err is an I/O failure; warn is an
// extraction problem the pipeline can continue past.
func extractFile(app *handler.App, path, mimeType string) (ext handler.Extraction, warn, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ext, nil, fmt.Errorf("read %s: %w", path, err)
	}
	if strings.TrimSpace(mimeType) == "" {
		mimeType = parser.MIMEForFilename(path)
	}
	ext, warn = app.ExtractDocument(data, mimeType)
	return ext, warn, nil
}

func newConfigCommand(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the config file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.LLM.APIKey != "" {
				cfg.LLM.APIKey = secretMask
			}
			if cfg.Server.AccessPasswordHash != "" {
				cfg.Server.AccessPasswordHash = secretMask
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}, &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a dotted config key, e.g. server.port or server.access_password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cm, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if err := cm.Update(map[string]interface{}{args[0]: args[1]}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s in %s\n", args[0], opts.configPath)
			return nil
		},
	})
	return cmd
}

const secretMask = "********"

func newLogsCommand(opts *cliOptions) *cobra.Command {
	var (
		lines    int
		archives bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the most recent error log lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			w, err := errlog.Open(cfg.Log.Dir, int64(cfg.Log.RotationSizeMB)<<20)
			if err != nil {
				return err
			}
			defer w.Close()

			out := cmd.OutOrStdout()
			if archives {
				names, err := w.Archives()
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(out, name)
				}
				return nil
			}
			recent, err := w.RecentLines(lines)
			if err != nil {
				return err
			}
			for _, line := range recent {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to print")
	cmd.Flags().BoolVar(&archives, "archives", false, "list rotated archives instead")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "slidegen %s\n", version)
		},
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"promptrunner/internal/api"
	"promptrunner/internal/completion"
	"promptrunner/internal/config"
	"promptrunner/internal/session"
	"promptrunner/internal/task"
	"promptrunner/internal/tui"
)

const (
	defaultLogName    = ".prompt_runner.log"
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

type options struct {
	configPath string
	serve      bool
	addr       string
	logPath    string
	debug      bool
}

func main() {
	opts := parseFlags()

	closeLog, err := setupLogging(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer closeLog()

	doc, recovered := config.Load(opts.configPath)
	if home, err := os.UserHomeDir(); err == nil {
		doc = doc.WithFolderDefaults(home)
	}
	for _, dir := range []string{doc.PromptsFolder, doc.OutputsFolder} {
		if dir == "" {
			continue
		}
		if err := config.EnsureDirectory(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("cannot create folder, saving will be retried on demand")
		}
	}

	client, err := completion.New(completion.Options{
		Provider:  doc.Provider,
		Endpoint:  doc.Endpoint,
		Model:     doc.Model,
		MaxTokens: doc.MaxTokens,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build api client")
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1) //nolint:gocritic
	}

	runner := task.NewRunner(client, task.Options{})
	baseCtx, baseCancel := context.WithCancel(context.Background())
	runner.SetBaseContext(baseCtx)

	sess := session.New(doc, runner, client, session.NewFileStore())
	settings := newSettingsFile(opts.configPath, recovered)
	save := settings.Save

	var final config.Document
	if opts.serve {
		final = serve(opts.addr, doc, sess, runner, save)
	} else {
		final, err = runTerminal(sess, runner, save)
		if err != nil {
			log.Error().Err(err).Msg("terminal ui failed")
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}

	stopRunner(baseCancel, runner)

	if path, _, err := settings.SaveOnExit(final); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to save settings")
		fmt.Fprintln(os.Stderr, "error: settings not saved:", err)
		os.Exit(1) //nolint:gocritic
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.configPath, "config", config.DefaultPath(), "settings file")
	flag.BoolVar(&opts.serve, "serve", false, "serve the HTTP front instead of the terminal UI")
	flag.StringVar(&opts.addr, "addr", "127.0.0.1:8765", "listen address for -serve")
	flag.StringVar(&opts.logPath, "log", "", "log file (defaults to ~/"+defaultLogName+" in terminal mode)")
	flag.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flag.Parse()
	return opts
}

// setupLogging points the global logger at stderr, or at a file when the
// terminal UI owns the screen.
func setupLogging(opts options) (func(), error) {
	level := zerolog.InfoLevel
	if opts.debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	path := opts.logPath
	if path == "" && !opts.serve {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, defaultLogName)
	}

	var out io.Writer = os.Stderr
	closeFn := func() {}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: path != ""})
	return closeFn, nil
}

func runTerminal(sess *session.Session, runner *task.Runner, save tui.SaveFunc) (config.Document, error) {
	model := tui.New(tui.Deps{Session: sess, Events: runner.Events(), Save: save})
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return model.Document(), fmt.Errorf("run terminal ui: %w", err)
	}
	return model.Document(), nil
}

func serve(addr string, loaded config.Document, sess *session.Session, runner *task.Runner, save api.SaveFunc) config.Document {
	loop := session.NewLoop(sess, runner.Events())
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go loop.Run(loopCtx)

	router := setupRouter()
	handler := api.NewAPI(loop, save)
	handler.RegisterRoutes(router)
	handler.RegisterUIRoutes(router)

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	doc := loaded
	if err := loop.Do(ctx, func(s *session.Session) { doc = s.Settings() }); err != nil {
		log.Warn().Err(err).Msg("session loop did not answer, saving settings as loaded")
	}
	return doc
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func stopRunner(cancelBase context.CancelFunc, runner *task.Runner) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	cancelBase()
	if !runner.WaitAll(ctx) {
		log.Warn().Msg("background worker did not finish before timeout")
	}
	log.Info().Msg("prompt runner exited")
}

// Package runtime runs one configured dialog end to end: it streams an input
// file or a text prompt to the service, records downstream audio and
// transcripts, and exposes progress on an optional status server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/multimodal-dialog/internal/config"
	apphttp "github.com/saker-ai/multimodal-dialog/internal/http"
	applogger "github.com/saker-ai/multimodal-dialog/internal/logger"
	"github.com/saker-ai/multimodal-dialog/internal/observability"
	"github.com/saker-ai/multimodal-dialog/internal/session/fsm"
	"github.com/saker-ai/multimodal-dialog/internal/storage"
	"github.com/saker-ai/multimodal-dialog/pkg/dialog"
)

const (
	metricsNamespace = "mmd"
	stopGracePeriod  = 3 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// Runner owns the collaborators of a single demo dialog.
type Runner struct {
	cfg     appconfig.Config
	logger  *zap.Logger
	metrics *observability.Metrics
	store   *storage.Store
	machine *fsm.Machine

	dialog  *dialog.Dialog
	handler *observability.InstrumentedHandler
	session *session

	statusMu sync.Mutex
	status   *http.Server
	listener net.Listener
}

// New loads configuration from configPath and builds a Runner.
func New(configPath string) (*Runner, error) {
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load dialog config: %w", err)
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	logger.Info("dialog logger configured",
		zap.String("level", cfg.Log.Level),
		zap.String("format", cfg.Log.Format),
		zap.Bool("stdout", cfg.Log.Stdout),
		zap.Bool("file_enabled", cfg.Log.File.Enabled),
		zap.String("file_path", cfg.Log.File.Path),
	)
	logger.Info("dialog config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.String("url", cfg.Dialog.URL),
		zap.String("status_addr", cfg.Status.Addr),
	)

	return NewWithConfig(cfg, logger)
}

// NewWithConfig builds a Runner from an already loaded configuration.
func NewWithConfig(cfg appconfig.Config, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := storage.NewStore(cfg.Output.TranscriptDir)
	if err != nil {
		return nil, fmt.Errorf("open transcript store: %w", err)
	}

	machine := fsm.New()
	machine.SetMode(cfg.Upstream.Mode)
	metrics := observability.NewMetrics(metricsNamespace)

	r := &Runner{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		store:   store,
		machine: machine,
	}
	r.session = newSession(r)
	r.handler = observability.Instrument(r.session, metrics)
	r.dialog = dialog.New(cfg.DialogConfig(), r.handler, logger)
	return r, nil
}

// Dialog returns the underlying session controller.
func (r *Runner) Dialog() *dialog.Dialog {
	return r.dialog
}

// Status is the payload of the /status endpoint.
type Status struct {
	DialogID    string              `json:"dialog_id"`
	Connection  string              `json:"connection"`
	DialogState string              `json:"dialog_state"`
	Mode        string              `json:"mode"`
	Turns       int                 `json:"turns"`
	Transcript  string              `json:"transcript,omitempty"`
	Stats       observability.Stats `json:"stats"`
}

// Status reports the current progress.
func (r *Runner) Status() Status {
	return Status{
		DialogID:    r.dialog.DialogID(),
		Connection:  r.dialog.State().String(),
		DialogState: string(r.machine.State()),
		Mode:        string(r.machine.Mode()),
		Turns:       r.machine.Turns(),
		Transcript:  r.session.transcriptUID(),
		Stats:       r.handler.Stats(),
	}
}

// Run executes one dialog and blocks until its connection is closed.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.startStatusServer(); err != nil {
		return err
	}
	defer r.shutdownStatusServer()

	if err := r.session.open(); err != nil {
		return err
	}
	defer r.session.finish()

	startErr := make(chan error, 1)
	go func() {
		startErr <- r.dialog.Start(ctx, "")
	}()

	select {
	case err := <-startErr:
		if err == nil {
			err = errors.New("dialog closed before start")
		}
		return err
	case <-r.session.started:
	}

	convCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.session.closed:
			cancel()
		case <-convCtx.Done():
		}
	}()

	convErr := r.converse(convCtx)
	if convErr != nil && !errors.Is(convErr, context.Canceled) {
		r.logger.Warn("dialog conversation aborted", zap.Error(convErr))
	}

	var err error
	select {
	case err = <-startErr:
	case <-time.After(stopGracePeriod):
		r.logger.Info("closing dialog after stop grace period")
		r.dialog.Close()
		err = <-startErr
	case <-ctx.Done():
		r.dialog.Close()
		err = <-startErr
	}
	if err == nil && convErr != nil && !errors.Is(convErr, context.Canceled) {
		return convErr
	}
	return err
}

// converse drives one turn and sends stop once the server has responded.
func (r *Runner) converse(ctx context.Context) error {
	if r.cfg.Respond.Text != "" {
		r.sendRespond()
	} else {
		r.dialog.StartSpeech()
		r.metrics.CountSent("start_speech")

		if _, err := r.machine.WaitFor(ctx, fsm.StateListening); err != nil {
			return err
		}
		if err := r.streamInput(ctx); err != nil {
			r.dialog.Stop()
			r.metrics.CountSent("stop")
			return err
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.session.turnDone:
	}
	r.dialog.Stop()
	r.metrics.CountSent("stop")
	return nil
}

func (r *Runner) sendRespond() {
	var params *dialog.RequestToRespondParameters
	if len(r.cfg.Respond.Images) > 0 {
		params = &dialog.RequestToRespondParameters{Images: r.cfg.Respond.Images}
	}
	r.dialog.RequestToRespond(r.cfg.Respond.Type, r.cfg.Respond.Text, params)
	r.metrics.CountSent("request_to_respond")
}

func (r *Runner) startStatusServer() error {
	addr := r.cfg.Status.Addr
	if addr == "" {
		return nil
	}
	router := apphttp.NewRouter(apphttp.Deps{
		Status:      func() any { return r.Status() },
		Metrics:     r.metrics.Handler(),
		Transcripts: r.store,
	}, r.logger)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen status server: %w", err)
	}
	server := &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}

	r.statusMu.Lock()
	r.status = server
	r.listener = ln
	r.statusMu.Unlock()

	r.logger.Info("starting status server", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("status server error", zap.Error(err))
		}
	}()
	return nil
}

// StatusAddr returns the bound status server address, or "" if disabled.
func (r *Runner) StatusAddr() string {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

func (r *Runner) shutdownStatusServer() {
	r.statusMu.Lock()
	server := r.status
	r.statusMu.Unlock()
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		r.logger.Error("status server shutdown failed", zap.Error(err))
	}
}

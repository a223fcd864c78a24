package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/evactor/internal/ir"
	"github.com/roach88/evactor/internal/runtime"
	"github.com/roach88/evactor/internal/telemetry"
)

// maxRequestLine bounds one NDJSON request.
const maxRequestLine = 1 << 20

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	MetricsAddr string
}

// ServeRequest is one NDJSON request read by serve.
type ServeRequest struct {
	ID       string    `json:"id,omitempty"`
	Identity string    `json:"identity"`
	Topic    string    `json:"topic"`
	Data     ir.Record `json:"data,omitempty"`
}

// ServeResponse is one NDJSON response written by serve.
type ServeResponse struct {
	Line    int            `json:"line"`
	Status  string         `json:"status"` // "ok", "rejected" or "error"
	Topic   string         `json:"topic,omitempty"`
	Results []ActorOutcome `json:"results,omitempty"`
	Error   *CLIError      `json:"error,omitempty"`
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Handle NDJSON messages from stdin",
		Long: `Handle a stream of messages read from stdin, one JSON object per line:

  {"identity":"a1","topic":"account.open","data":{"owner":"ann"}}

Each line is answered on stdout with one JSON response. With a metrics
address the Prometheus /metrics endpoint is served until the input ends
or the process is interrupted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "listen address of /metrics (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	formatter.Format = "json"

	ctx, stop := signalContext(commandContext(cmd))
	defer stop()

	e, err := openEnv(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	addr := e.cfg.MetricsAddr
	if opts.MetricsAddr != "" {
		addr = opts.MetricsAddr
	}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	if addr != "" {
		srv := newMetricsServer(addr)
		g.Go(func() error {
			e.logger.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-done:
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		defer close(done)
		return serveLoop(gctx, e.runtime, cmd.InOrStdin(), formatter, e.logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "serve failed", err)
	}
	e.logger.Info("serve stopped")
	return nil
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serveLoop answers one response per input line until the input ends or
// ctx is cancelled. A bad line is answered with an error response and does
// not stop the loop.
func serveLoop(ctx context.Context, rt *runtime.Runtime, in io.Reader, out *OutputFormatter, logger *slog.Logger) error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxRequestLine)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read input: %w", err)
					}
				default:
				}
				return nil
			}
			n++
			if len(line) == 0 {
				continue
			}
			resp := serveOne(ctx, rt, n, line)
			if resp.Status == "error" {
				logger.Warn("request failed", "line", n, "topic", resp.Topic, "error", resp.Error.Message)
			}
			if err := out.Line(resp, ""); err != nil {
				return err
			}
		}
	}
}

func serveOne(ctx context.Context, rt *runtime.Runtime, n int, line []byte) ServeResponse {
	fail := func(code, topic string, err error) ServeResponse {
		return ServeResponse{Line: n, Status: "error", Topic: topic, Error: &CLIError{Code: code, Message: err.Error()}}
	}

	req, err := decodeRequest(line)
	if err != nil {
		return fail(ErrCodeBadInput, "", err)
	}
	if req.Identity == "" {
		return fail(ErrCodeBadInput, req.Topic, errors.New("identity is required"))
	}
	if _, err := ir.ParseTopic(req.Topic); err != nil {
		return fail(ErrCodeBadInput, req.Topic, err)
	}

	results, err := rt.Handle(ctx, req.Identity, req.Topic, ir.Message{ID: req.ID, Type: req.Topic, Data: req.Data})
	if err != nil {
		return fail(ErrCodeRuntime, req.Topic, err)
	}
	if len(results) == 0 {
		return fail(ErrCodeNoRoute, req.Topic, fmt.Errorf("no actor handles %s", req.Topic))
	}

	resp := ServeResponse{Line: n, Status: "rejected", Topic: req.Topic, Results: outcomes(results)}
	for _, r := range results {
		if !r.Rejected {
			resp.Status = "ok"
			break
		}
	}
	return resp
}

// decodeRequest parses one request line through ir.DecodeRecord so payload
// numbers keep integer form.
func decodeRequest(line []byte) (ServeRequest, error) {
	rec, err := ir.DecodeRecord(line)
	if err != nil {
		return ServeRequest{}, err
	}
	return ServeRequest{
		ID:       rec.String("id"),
		Identity: rec.String("identity"),
		Topic:    rec.String("topic"),
		Data:     rec.Object("data"),
	}, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

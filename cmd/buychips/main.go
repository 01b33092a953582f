// Command buychips opens a chip checkout from a terminal. It fetches a client
// secret through the payment API, prints it where a browser would mount the
// embedded widget, and tears the checkout down on SIGINT.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/chipline/sportsbook/internal/checkout"
)

type config struct {
	BaseURL   string        `env:"CHECKOUT_BASE_URL" envDefault:"http://localhost:3100"`
	Token     string        `env:"CHECKOUT_TOKEN,required"`
	ProductID int64         `env:"CHECKOUT_PRODUCT_ID,required"`
	Timeout   time.Duration `env:"CHECKOUT_TIMEOUT" envDefault:"20s"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(logger); err != nil {
		logger.Error("buychips failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	client, err := checkout.NewClient(cfg.BaseURL, checkout.WithBearerToken(cfg.Token))
	if err != nil {
		return err
	}
	if _, err := client.FetchCSRFToken(ctx); err != nil {
		return err
	}

	mgr := checkout.NewManager(checkout.ManagerDeps{
		Sessions:      client,
		Provider:      terminalProvider{out: os.Stdout},
		View:          &terminalView{out: os.Stdout},
		Logger:        logger,
		SecretTimeout: cfg.Timeout,
	})
	defer func() { _ = mgr.Dispose(context.Background()) }()

	if err := mgr.Open(ctx, cfg.ProductID); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, "complete the payment in your browser, then press Ctrl-C")

	<-ctx.Done()
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return mgr.Close(closeCtx)
}

type terminalView struct {
	out io.Writer
}

func (v *terminalView) ShowModal() {
	fmt.Fprintln(v.out, "[checkout]")
}

func (v *terminalView) HideModal() {
	fmt.Fprintln(v.out, "[checkout closed]")
}

func (v *terminalView) ShowLoading() {
	fmt.Fprintln(v.out, "loading...")
}

func (v *terminalView) HideLoading() {}

func (v *terminalView) ClearContainer() {}

func (v *terminalView) Alert(msg string) {
	fmt.Fprintln(v.out, "!", msg)
}

type terminalProvider struct {
	out io.Writer
}

func (p terminalProvider) InitEmbedded(_ context.Context, fetch checkout.SecretFunc) (checkout.Widget, error) {
	return &terminalWidget{out: p.out, fetch: fetch}, nil
}

type terminalWidget struct {
	out   io.Writer
	fetch checkout.SecretFunc
}

func (w *terminalWidget) Mount(ctx context.Context) error {
	secret, err := w.fetch(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w.out, "client secret: %s\n", secret)
	return nil
}

func (w *terminalWidget) Unmount(context.Context) error { return nil }

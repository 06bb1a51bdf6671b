// pulsectl is the chat-style command client of the PulseBoard API: status, latest and add.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pulseboard/internal/client"
)

var cli struct {
	URL     string        `help:"Base URL of the PulseBoard API" env:"PULSEBOARD_URL" default:"http://localhost:18880"`
	Timeout time.Duration `help:"Per-request timeout" default:"15s"`

	Status statusCmd `cmd:"" help:"Check backend and database health"`
	Latest latestCmd `cmd:"" help:"Show the latest signals, events and emails"`
	Add    addCmd    `cmd:"" help:"Add a signal: add <type> <source> <data_json>"`
}

type env struct {
	ctx    context.Context
	client *client.Client
}

type statusCmd struct{}

func (statusCmd) Run(e *env) error { return show(e.client.Status(e.ctx)) }

type latestCmd struct{}

func (latestCmd) Run(e *env) error { return show(e.client.Latest(e.ctx)) }

type addCmd struct {
	Args []string `arg:"" optional:"" passthrough:"" help:"type, source and the data JSON (may span several arguments)"`
}

func (c addCmd) Run(e *env) error { return show(e.client.Add(e.ctx, c.Args)) }

func show(out string, err error) error {
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("pulsectl"),
		kong.Description("Query and feed a PulseBoard backend."),
		kong.UsageOnError(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(cli.URL, client.WithHTTPClient(&http.Client{
		Timeout:   cli.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}))
	if err := kctx.Run(&env{ctx: ctx, client: c}); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

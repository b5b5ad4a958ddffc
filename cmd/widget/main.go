package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/letmevibethatforyou/imagesearch/apiclient"
	"github.com/letmevibethatforyou/imagesearch/server"
	"github.com/urfave/cli/v2"
)

const (
	defaultListen = ":3000"
	defaultAPIURL = "http://localhost:5000"
)

func main() {
	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" || os.Getenv("AWS_REGION") != "" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	}

	if err := newApp(runAction).Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func newApp(action cli.ActionFunc) *cli.App {
	return &cli.App{
		Name:  "widget",
		Usage: "Serve the image search widget page",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Aliases: []string{"l"},
				Usage:   "Address to listen on",
				EnvVars: []string{"LISTEN_ADDR"},
				Value:   defaultListen,
			},
			&cli.StringFlag{
				Name:    "api-url",
				Usage:   "Base URL of the image search service",
				EnvVars: []string{"SEARCH_API_URL"},
				Value:   defaultAPIURL,
			},
		},
		Action: action,
	}
}

// newServer builds the page server for the search service at apiURL.
func newServer(addr, apiURL string, logger *slog.Logger) (*http.Server, error) {
	client, err := apiclient.New(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	frontend := server.NewFrontend(client, server.WithLogger(logger))
	return server.NewHTTPServer(addr, frontend.Handler()), nil
}

func runAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	srv, err := newServer(c.String("listen"), c.String("api-url"), logger)
	if err != nil {
		return err
	}
	return server.Serve(ctx, logger, srv, "api_url", c.String("api-url"))
}

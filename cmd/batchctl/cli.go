package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/markdave123-py/regkb/internal/core/resilience"
	"github.com/markdave123-py/regkb/internal/models"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// newCLIApp creates the CLI application with all commands.
func newCLIApp() *cli.App {
	app := &cli.App{
		Name:    "batchctl",
		Usage:   "Drive large documents through the ingestion API in page windows",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "api", Value: "http://localhost:8080", EnvVars: []string{"REGKB_API"}, Usage: "Ingestion API base URL"},
			&cli.StringFlag{Name: "token", EnvVars: []string{"REGKB_TOKEN"}, Usage: "Bearer token"},
			&cli.StringFlag{Name: "client-id", Value: "batchctl", Usage: "X-Client-ID sent for rate limiting"},
			&cli.DurationFlag{Name: "timeout", Value: 6 * time.Minute, Usage: "Per-request timeout"},
			&cli.IntFlag{Name: "retries", Value: 3, Usage: "Retries for 429/5xx answers"},
		},
		Commands: []*cli.Command{
			ingestCmd(),
			statusCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func newDriver(c *cli.Context) *driver {
	return &driver{
		caller:   resilience.NewCaller(),
		cfg:      retryConfig(c.Int("retries"), 2*time.Second, c.Duration("timeout")),
		baseURL:  c.String("api"),
		token:    c.String("token"),
		clientID: c.String("client-id"),
		window:   c.Int("window"),
	}
}

// retryConfig retries rate limiting, an open circuit and refused connections.
// Other 5xx answers and client-side timeouts may follow a partial append and are not retried
func retryConfig(retries int, initial, timeout time.Duration) resilience.Config {
	return resilience.Config{
		MaxRetries:        retries,
		InitialDelay:      initial,
		MaxDelay:          30 * time.Second,
		Timeout:           timeout,
		RetryableStatuses: []int{http.StatusTooManyRequests, http.StatusServiceUnavailable},
		RetryableErrors:   []string{"connection refused"},
		NoTimeoutRetry:    true,
	}
}

// ingestCmd creates the ingest command.
func ingestCmd() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Ingest a document, continuing in batch mode until every page is stored",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Required: true, Usage: "circular|note|decision|law|decree"},
			&cli.StringFlag{Name: "ref", Aliases: []string{"r"}, Required: true, Usage: "Source reference, e.g. 4/2023"},
			&cli.StringFlag{Name: "url", Usage: "PDF URL (http(s):// or s3://)"},
			&cli.PathFlag{Name: "file", Aliases: []string{"f"}, Usage: "Local PDF sent as base64"},
			&cli.StringFlag{Name: "country", Value: "MA", Usage: "ISO country code"},
			&cli.StringFlag{Name: "title", Usage: "Document title"},
			&cli.StringFlag{Name: "issuer", Usage: "Issuing authority"},
			&cli.StringFlag{Name: "date", Usage: "Source date, YYYY-MM-DD"},
			&cli.IntFlag{Name: "window", Aliases: []string{"w"}, Value: 50, Usage: "Pages per batch invocation"},
			&cli.BoolFlag{Name: "no-embeddings", Usage: "Skip embedding generation"},
		},
		Action: func(c *cli.Context) error {
			req, err := requestFromFlags(c)
			if err != nil {
				return outputError(err)
			}
			if c.Int("window") < 1 {
				return outputError(fmt.Errorf("--window must be at least 1"))
			}

			d := newDriver(c)
			res, err := d.run(c.Context, req, func(r models.IngestResult) {
				start, end := 1, r.PagesProcessed
				if r.BatchStart != nil && r.BatchEnd != nil {
					start, end = *r.BatchStart, *r.BatchEnd
				}
				fmt.Fprintf(c.App.ErrWriter, "pages %d-%d: %d chunks, %d evidence\n", start, end, r.ChunksCreated, r.EvidenceCreated)
			})
			if err != nil {
				if res != nil {
					_ = outputJSON(c, res)
				}
				return outputError(err)
			}
			return outputJSON(c, res)
		},
	}
}

// statusCmd creates the status command.
func statusCmd() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show a stored source and its chunk count",
		ArgsUsage: "<source-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "evidence", Aliases: []string{"e"}, Usage: "List detected code evidence instead"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(fmt.Errorf("exactly one source id is required"))
			}
			path := "/api/sources/" + c.Args().First()
			if c.Bool("evidence") {
				path += "/evidence"
			}
			out, err := newDriver(c).get(c.Context, path)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, out)
		},
	}
}

func requestFromFlags(c *cli.Context) (models.IngestRequest, error) {
	req := models.IngestRequest{
		SourceType:  c.String("type"),
		SourceRef:   c.String("ref"),
		PDFURL:      c.String("url"),
		CountryCode: c.String("country"),
		Title:       c.String("title"),
		Issuer:      c.String("issuer"),
		SourceDate:  c.String("date"),
	}
	if c.Bool("no-embeddings") {
		f := false
		req.GenerateEmbeddings = &f
	}

	switch file := c.Path("file"); {
	case file != "" && req.PDFURL != "":
		return req, fmt.Errorf("use either --url or --file, not both")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return req, fmt.Errorf("read %s: %w", file, err)
		}
		req.PDFBase64 = base64.StdEncoding.EncodeToString(data)
	case req.PDFURL == "":
		return req, fmt.Errorf("one of --url or --file is required")
	}
	return req, nil
}

// outputJSON writes v to the app writer.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	return cli.Exit(err.Error(), 1)
}

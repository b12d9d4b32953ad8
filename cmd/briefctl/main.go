// Command briefctl summarizes local documents through the processing
// service using the same queue the gateway runs per session.
package main

import (
	"fmt"
	"os"

	"github.com/instabrief/backend/internal/models"
	"github.com/urfave/cli/v2"
)

// Version info (set during build)
var Version = "dev"

func main() {
	app := &cli.App{
		Name:    "briefctl",
		Usage:   "summarize documents with the InstaBrief processing service",
		Version: Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "only log errors"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log debug output"},
		},
		Commands: []*cli.Command{
			{
				Name:      "process",
				Usage:     "queue the given files and process them in order",
				ArgsUsage: "FILE...",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "service-url", Value: "http://localhost:8000/api", EnvVars: []string{"PROCESSING_SERVICE_URL"}, Usage: "processing service base URL"},
					&cli.StringFlag{Name: "token", EnvVars: []string{"PROCESSING_SERVICE_TOKEN"}, Usage: "bearer token for the processing service"},
					&cli.DurationFlag{Name: "timeout", Value: defaultTimeout, Usage: "per-document request timeout"},
					&cli.StringFlag{Name: "algorithm", Aliases: []string{"a"}, Value: string(models.AlgorithmTextRank), Usage: "textrank, lsa, lexrank or bart"},
					&cli.IntFlag{Name: "max-length", Aliases: []string{"n"}, Value: models.DefaultSummaryLength, Usage: fmt.Sprintf("summary length (%d-%d)", models.MinSummaryLength, models.MaxSummaryLength)},
					&cli.StringFlag{Name: "language", Aliases: []string{"l"}, Value: "en", Usage: "ISO-639-1 code or auto"},
					&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Value: 1, Usage: "documents processed at once"},
					&cli.StringFlag{Name: "history", Usage: "record outcomes in this DuckDB file"},
					&cli.StringFlag{Name: "export", Aliases: []string{"o"}, Usage: "write an XLSX report to this path"},
				},
				Action: ProcessAction,
			},
			{
				Name:  "history",
				Usage: "list recorded outcomes",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "history", Required: true, Usage: "DuckDB history file"},
					&cli.StringFlag{Name: "session", Usage: "only this session or run id"},
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "number of entries"},
				},
				Action: HistoryAction,
			},
			{
				Name:   "algorithms",
				Usage:  "list summarization algorithms",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "catalog", Usage: "catalog YAML replacing the built-in one"}},
				Action: AlgorithmsAction,
			},
			{
				Name:   "languages",
				Usage:  "list summary languages",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "catalog", Usage: "catalog YAML replacing the built-in one"}},
				Action: LanguagesAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "briefctl: %v\n", err)
		os.Exit(1)
	}
}

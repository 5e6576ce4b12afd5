package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"adharvest/lib/configutil"
	"adharvest/lib/harvest"
	"adharvest/lib/paginate"
	"adharvest/lib/restyutil"
	"adharvest/lib/serviceutil"
	"adharvest/lib/sources"
	"adharvest/lib/sources/adlibrary"
	"adharvest/lib/sources/videolist"
	"adharvest/lib/sqliteutil"
	"adharvest/services/harvests"
	"adharvest/services/harvests/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type Config struct {
	Sources []sources.Config `json:"sources"`
}

func findSource(cfg Config, name string) (sources.Config, error) {
	if name == "" {
		if len(cfg.Sources) == 1 {
			return cfg.Sources[0], nil
		}
		return sources.Config{}, fmt.Errorf("config defines %d sources, pick one with --source", len(cfg.Sources))
	}
	for _, src := range cfg.Sources {
		if src.Name == name {
			return src, nil
		}
	}
	return sources.Config{}, fmt.Errorf("no source named %q in config", name)
}

var (
	runDb        *string
	runSource    *string
	runResume    *string
	runDebugHttp *bool
)

func init() {
	runDb = runCmd.Flags().String("db", "harvests.db", "The database to write sessions to.")
	runSource = runCmd.Flags().String("source", "", "The configured source to harvest.")
	runResume = runCmd.Flags().String("resume", "", "Resume from a stored session's last cursor.")
	runDebugHttp = runCmd.Flags().Bool("debug-http", false, "Dump http transcripts to .dev/resty.")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--source <name>] [--db <path/to/output.db>] [--resume <cursor>]",
	Short: "Harvests a configured source and stores the session.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		cfg, err := configutil.ReadRecursively[Config]("harvest.json5")
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		src, err := findSource(cfg, *runSource)
		if err != nil {
			serviceutil.Fatal("failed to pick source", err)
		}

		if *runDebugHttp {
			adlibrary.SetInstrumentOutput(restyutil.NewFilesystemOutput(".dev/resty/adlibrary"))
			videolist.SetInstrumentOutput(restyutil.NewFilesystemOutput(".dev/resty/videolist"))
		}

		fetch, closeSource, err := sources.Build(ctx, src)
		if err != nil {
			serviceutil.Fatal("failed to build source", err)
		}
		defer closeSource()

		out, err := sqliteutil.OpenDB(db.Schema, *runDb)
		if err != nil {
			serviceutil.Fatal("failed to open db", err)
		}
		defer out.Close()
		service := harvests.NewService(out)

		opts := src.Harvest.Options()
		opts.Resume = paginate.Cursor(*runResume)

		t1 := time.Now()
		session, harvestErr := harvest.Harvest(ctx, fetch, opts)
		slog.Info("harvest finished", "seconds", time.Since(t1).Seconds())

		// a failed run still gets stored; its status and cursor are how
		// the next run resumes
		id, err := service.SaveSession(ctx, src.Name, session)
		if err != nil {
			serviceutil.Fatal("failed to store session", err)
		}

		printSession(id, src.Name, session)

		if harvestErr != nil {
			var rateLimit *paginate.RateLimitExceededError
			if errors.As(harvestErr, &rateLimit) {
				slog.Warn("upstream kept throttling, resume later",
					"cursor", rateLimit.Cursor,
					"retries", rateLimit.Retries,
				)
			}
			serviceutil.Fatal("harvest aborted", harvestErr)
		}
	},
}

func printSession(id int64, source string, session *harvest.Session) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"session", "source", "status", "pages", "rows", "last cursor"})
	t.AppendRow(table.Row{
		id, source, session.Status, session.Pages,
		len(session.Rows), session.LastCursor,
	})
	t.Render()
}

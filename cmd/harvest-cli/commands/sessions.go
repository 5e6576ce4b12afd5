package commands

import (
	"os"
	"time"

	"adharvest/lib/serviceutil"
	"adharvest/lib/sqliteutil"
	"adharvest/services/harvests"
	"adharvest/services/harvests/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	sessionsDb     *string
	sessionsSource *string
)

func init() {
	sessionsDb = sessionsCmd.Flags().String("db", "harvests.db", "The database to read sessions from.")
	sessionsSource = sessionsCmd.Flags().String("source", "", "Only list sessions of this source.")
	rootCmd.AddCommand(sessionsCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions [--source <name>] [--db <path/to/output.db>]",
	Short: "Lists stored harvest sessions.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		database, err := sqliteutil.OpenDB(db.Schema, *sessionsDb)
		if err != nil {
			serviceutil.Fatal("failed to open db", err)
		}
		defer database.Close()

		stored, err := harvests.NewService(database).ListSessions(ctx, *sessionsSource)
		if err != nil {
			serviceutil.Fatal("failed to list sessions", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"id", "source", "status", "pages", "distinct", "last cursor", "started", "took"})
		for _, s := range stored {
			t.AppendRow(table.Row{
				s.Id, s.Source, s.Status, s.Pages, s.Distinct, s.LastCursor,
				s.StartedAt.Format(time.DateTime),
				s.FinishedAt.Sub(s.StartedAt).Round(time.Second),
			})
		}
		t.Render()
	},
}

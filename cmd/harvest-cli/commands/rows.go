package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"adharvest/lib/serviceutil"
	"adharvest/lib/sqliteutil"
	"adharvest/services/harvests"
	"adharvest/services/harvests/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	rowsDb   *string
	rowsJson *bool
)

func init() {
	rowsDb = rowsCmd.Flags().String("db", "harvests.db", "The database to read rows from.")
	rowsJson = rowsCmd.Flags().Bool("json", false, "Print rows as JSON lines instead of a table.")
	rootCmd.AddCommand(rowsCmd)
}

var rowsCmd = &cobra.Command{
	Use:   "rows <session id> [--db <path/to/output.db>] [--json]",
	Short: "Dumps the rows of a stored session.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		sessionId, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			serviceutil.Fatal("invalid session id", err)
		}

		database, err := sqliteutil.OpenDB(db.Schema, *rowsDb)
		if err != nil {
			serviceutil.Fatal("failed to open db", err)
		}
		defer database.Close()

		rows, err := harvests.NewService(database).GetRows(ctx, sessionId)
		if err != nil {
			serviceutil.Fatal("failed to read rows", err)
		}

		if *rowsJson {
			encoder := json.NewEncoder(os.Stdout)
			for _, row := range rows {
				if err := encoder.Encode(row); err != nil {
					serviceutil.Fatal("failed to encode row", err)
				}
			}
			return
		}
		if len(rows) == 0 {
			fmt.Println("no rows")
			return
		}

		columns := rows[0].Columns()
		header := make(table.Row, len(columns))
		for i, c := range columns {
			header[i] = c
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(header)
		for _, row := range rows {
			out := make(table.Row, len(columns))
			for i, c := range columns {
				out[i] = row[c].Render()
			}
			t.AppendRow(out)
		}
		t.Render()
	},
}

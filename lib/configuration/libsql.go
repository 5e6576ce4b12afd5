// Package configuration holds config file fragments shared by daemons,
// mainly database handles that can point at a local file or a remote
// libsql instance.
package configuration

import (
	"database/sql"
	"fmt"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

type Libsql struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

// OpenDB opens the configured database. A url selects the remote libsql
// driver; otherwise File is opened as a local sqlite database.
func (config Libsql) OpenDB() (*sql.DB, error) {
	if config.Url == "" {
		if config.File == "" {
			return nil, fmt.Errorf("either a database url or file is required")
		}
		return sql.Open("sqlite", config.File)
	}
	url := config.Url
	if config.AuthToken != "" {
		url = fmt.Sprintf("%s?authToken=%s", url, config.AuthToken)
	}
	return sql.Open("libsql", url)
}

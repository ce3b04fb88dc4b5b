// Package migrations bundles the Postgres schema applied by
// "carelink-server migrate up".
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

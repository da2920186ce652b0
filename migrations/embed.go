// Package migrations embeds the SQL schema so binaries and tests migrate
// without depending on the working directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

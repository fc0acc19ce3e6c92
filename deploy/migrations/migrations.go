// Package migrations embeds the MySQL schema of the delivery inbox. The inbox
// MySQL store applies them at startup in file name order.
package migrations

import "embed"

// Files holds the *.sql migrations, prefixed by version.
//
//go:embed *.sql
var Files embed.FS

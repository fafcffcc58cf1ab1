// Package appfs exposes the embedded assets: SQL migrations and email templates.
package appfs

import "embed"

//go:embed migrations templates
var FS embed.FS

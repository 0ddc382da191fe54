package appfs

import "embed"

// FS embeds runtime assets (DB migrations).
//go:embed migrations
var FS embed.FS

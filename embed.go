package inkpress

import "embed"

// EmbeddedAssets contains static assets shipped with the platform:
// engage.js, the browser-side engagement collector.
//
//go:embed embedded/*
var EmbeddedAssets embed.FS

package rules

import (
	"embed"
	"io/fs"
)

//go:embed default/*.yaml
var embedded embed.FS

// Embedded holds the rulesets shipped with the gateway.
var Embedded, _ = fs.Sub(embedded, "default")

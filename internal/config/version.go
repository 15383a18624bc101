package config

// Build information injected at build time via ldflags.
//
// Build with:
//
//	go build -ldflags "-X 'github.com/reclaimarr/reclaimarr/internal/config.Version=1.2.0' \
//	                   -X 'github.com/reclaimarr/reclaimarr/internal/config.Commit=abc123'"
var (
	Version = "dev"
	Commit  = ""
)

// Package meta holds build metadata shared by the CLI commands.
package meta

// Version is the release version reported by the CLI. Overridden at build
// time with -ldflags "-X github.com/agentpg/agentpg/internal/meta.Version=...".
var Version = "dev"

package app

import "github.com/spf13/pflag"

// RegisterFlags registers all CLI flags on the given FlagSet
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("transport", "t", "", "Transport type: stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")

	flags.String("analysis-base-dir", "", "Base directory for cache, projects, and indexes")
	flags.String("analysis-headless-path", "", "Path to the headless analyzer launcher")
	flags.String("analysis-script-dir", "", "Directory containing analyzer dump scripts")
	flags.String("analysis-safe-dir", "", "Restrict analyzed binaries to this directory")
	flags.Int64("analysis-streaming-threshold", 0, "Record size in bytes above which records are streamed (0 streams everything)")
	flags.Int("analysis-session-capacity", 0, "Maximum number of session entries before LRU eviction")
	flags.Duration("analysis-timeout", 0, "Timeout for one pipeline invocation")
	flags.Int("analysis-max-results", 0, "Default page size for query tools")
}

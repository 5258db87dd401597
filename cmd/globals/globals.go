// Package globals carries flags shared by every CLI subcommand.
package globals

type Globals struct {
	Verbose bool `help:"Enable verbose (debug) logging" short:"v" env:"NIX_VERBOSE"`
}

package main

import (
	"log/slog"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/tsbuild/cmd/tsbuild/commands"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/version"
)

func main() {
	cli := &commands.CLI{}
	global := &commands.Global{Logger: slog.Default()}
	parser := kong.Parse(cli,
		kong.Bind(global),
		kong.Name("tsbuild"),
		kong.Description("Incremental TypeScript build orchestrator"),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)
	err := parser.Run(cli)
	ferrors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
}

package main

import (
	"errors"
	"os"

	"github.com/rshade/regscan/internal/cli"
	"github.com/rshade/regscan/pkg/version"
)

func main() {
	os.Exit(run())
}

// run executes the root command and returns the process exit code.
func run() int {
	root := cli.NewRootCmd(version.GetVersion())
	return extractExitCode(root.Execute())
}

// extractExitCode maps a command error to an exit code: 0 for success, the code
// carried by a ScanExitError, otherwise 1.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}
	var scanErr *cli.ScanExitError
	if errors.As(err, &scanErr) {
		return scanErr.ExitCode
	}
	return 1
}

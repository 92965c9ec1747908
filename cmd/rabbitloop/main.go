package main

import (
	"fmt"
	"os"

	"github.com/alanmeadows/rabbitloop/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	err := cli.Execute()
	if err != nil && err.Error() != "" {
		fmt.Fprintln(os.Stderr, "rabbitloop:", err)
	}
	return cli.ExitCode(err)
}

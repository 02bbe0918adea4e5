package main

import (
	"fmt"
	"os"

	"github.com/autopeer-io/boardfarm/cmd/boardfarm-client/app"
)

func main() {
	if err := app.NewCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "boardfarm-client: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/greenfield-iot/agrialert/cmd"
)

var version = "dev"

func main() {
	cmd.Version = version

	if err := cmd.RootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "agrialert: %v\n", err)
		os.Exit(1)
	}
}

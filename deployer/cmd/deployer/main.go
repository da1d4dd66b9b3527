package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/cli"
)

func main() {
	if err := cli.New().Execute(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "deployer: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/BerjisTech/kra-connect-go/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:], os.Stdout, os.Stderr))
}

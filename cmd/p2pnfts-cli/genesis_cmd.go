package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"p2pnfts/config"
	"p2pnfts/crypto"
)

func runGenesisCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "init" {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	fs := newFlagSet("genesis init", stderr)
	owner := fs.String("owner", "", "owner of the controller and every market")
	out := fs.String("out", "genesis.toml", "genesis file to write")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	addr, err := crypto.ParseAddress(*owner)
	if err != nil {
		return printError(stderr, "--owner: %v", err)
	}
	if !*force {
		if _, err := os.Stat(*out); err == nil {
			return printError(stderr, "%s already exists; pass --force to overwrite", *out)
		}
	}
	g := config.Default(addr.Hex())
	if _, err := g.Resolve(); err != nil {
		return printError(stderr, "genesis: %v", err)
	}
	if err := config.Write(strings.TrimSpace(*out), g); err != nil {
		return printError(stderr, "write genesis: %v", err)
	}
	fmt.Fprintf(stdout, "wrote %s for owner %s\n", *out, addr.Hex())
	return 0
}

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"p2pnfts/cmd/internal/passphrase"
	"p2pnfts/crypto"
)

func runKeystoreCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "new":
		return runKeystoreNew(args[1:], stdout, stderr)
	case "address":
		return runKeystoreAddress(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown keystore subcommand: %s\n", args[0])
		return 1
	}
}

func runKeystoreNew(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keystore new", stderr)
	out := fs.String("out", "", "keystore file to create")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*out) == "" {
		return printError(stderr, "--out is required")
	}
	if _, err := os.Stat(*out); err == nil {
		return printError(stderr, "%s already exists", *out)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, "generate key: %v", err)
	}
	if err := saveKey(*out, key, passphrase.NewConfirmedSource(passphraseEnv)); err != nil {
		return printError(stderr, "write keystore: %v", err)
	}
	fmt.Fprintln(stdout, key.Address().Hex())
	return 0
}

func runKeystoreAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keystore address", stderr)
	path := fs.String("keystore", "", "keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*path) == "" {
		return printError(stderr, "--keystore is required")
	}
	key, err := loadKey(*path, passphrase.NewSource(passphraseEnv))
	if err != nil {
		return printError(stderr, "load keystore: %v", err)
	}
	fmt.Fprintln(stdout, key.Address().Hex())
	return 0
}

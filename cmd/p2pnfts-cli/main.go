package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"p2pnfts/cmd/internal/passphrase"
	"p2pnfts/crypto"
)

const passphraseEnv = "P2PNFTS_KEYSTORE_PASSPHRASE"

var (
	stdin   io.Reader = os.Stdin
	loadKey           = func(path string, src *passphrase.Source) (*crypto.PrivateKey, error) {
		pass, err := src.Get()
		if err != nil {
			return nil, err
		}
		return crypto.LoadFromKeystore(path, pass)
	}
	saveKey = func(path string, key *crypto.PrivateKey, src *passphrase.Source) error {
		pass, err := src.Get()
		if err != nil {
			return err
		}
		return crypto.SaveToKeystore(path, key, pass)
	}
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "keystore":
		return runKeystoreCommand(args[1:], stdout, stderr)
	case "offer":
		return runOfferCommand(args[1:], stdout, stderr)
	case "trait-tree":
		return runTraitTreeCommand(args[1:], stdout, stderr)
	case "collection-key":
		return runCollectionKey(args[1:], stdout, stderr)
	case "trait-hash":
		return runTraitHash(args[1:], stdout, stderr)
	case "genesis":
		return runGenesisCommand(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.Join([]string{
		"Usage: p2pnfts-cli <command> [flags]",
		"",
		"Commands:",
		"  keystore new --out <file>              create an encrypted signing key",
		"  keystore address --keystore <file>     print the key's address",
		"  offer sign --keystore <file> --in <offer.json> (--genesis <file> --market <name> | --contract <addr> --chain-id <id>)",
		"  offer id --in <signed.json>            print the offer id of a signed offer",
		"  offer verify --in <signed.json> (--genesis <file> --market <name> | --contract <addr> --chain-id <id>)",
		"  trait-tree build --in <leaves.json>    print the root and every proof",
		"  trait-tree proof --in <leaves.json> --contract <addr> --token-id <id> --trait-hash <hash>",
		"  collection-key <key>                   print the collection key hash",
		"  trait-hash <name> <value>              print the trait hash",
		"  genesis init --owner <addr> --out <file> [--force]",
		"",
		"Keystore passphrases are read from " + passphraseEnv + " or prompted.",
	}, "\n")
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printError(stderr io.Writer, format string, args ...interface{}) int {
	fmt.Fprintf(stderr, "Error: "+format+"\n", args...)
	return 1
}

func printJSON(stdout, stderr io.Writer, v interface{}) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return printError(stderr, "encode output: %v", err)
	}
	return 0
}

// readInput reads path, or standard input when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func decodeInput(path string, v interface{}) error {
	raw, err := readInput(path)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

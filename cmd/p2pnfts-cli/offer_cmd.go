package main

import (
	"flag"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"p2pnfts/cmd/internal/passphrase"
	"p2pnfts/config"
	"p2pnfts/crypto"
	"p2pnfts/native/p2pnfts"
	"p2pnfts/services/p2pnftsd"
)

type signedOfferOutput struct {
	SignedOffer p2pnftsd.SignedOfferJSON `json:"signed_offer"`
	OfferID     string                   `json:"offer_id"`
	SigningHash string                   `json:"signing_hash"`
}

type verifyOutput struct {
	Signer  string `json:"signer"`
	Lender  string `json:"lender"`
	OfferID string `json:"offer_id"`
	Valid   bool   `json:"valid"`
}

// domainFlags selects the EIP-712 domain an offer is signed for.
type domainFlags struct {
	genesis  string
	market   string
	contract string
	chainID  string
}

func (d *domainFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&d.genesis, "genesis", "", "genesis file naming the market")
	fs.StringVar(&d.market, "market", "", "market name in the genesis")
	fs.StringVar(&d.contract, "contract", "", "market address, instead of --genesis")
	fs.StringVar(&d.chainID, "chain-id", "", "chain id, instead of --genesis")
}

func (d domainFlags) resolve() (common.Address, *big.Int, error) {
	if strings.TrimSpace(d.genesis) != "" {
		if strings.TrimSpace(d.market) == "" {
			return common.Address{}, nil, fmt.Errorf("--market is required with --genesis")
		}
		g, err := config.Load(d.genesis)
		if err != nil {
			return common.Address{}, nil, err
		}
		network, err := g.Resolve()
		if err != nil {
			return common.Address{}, nil, err
		}
		for _, m := range network.Markets {
			if strings.EqualFold(m.Name, strings.TrimSpace(d.market)) {
				return m.Address, network.ChainID, nil
			}
		}
		return common.Address{}, nil, fmt.Errorf("market %q not in genesis", d.market)
	}
	if strings.TrimSpace(d.contract) == "" || strings.TrimSpace(d.chainID) == "" {
		return common.Address{}, nil, fmt.Errorf("either --genesis and --market or --contract and --chain-id are required")
	}
	contract, err := crypto.ParseAddress(d.contract)
	if err != nil {
		return common.Address{}, nil, err
	}
	chainID, ok := new(big.Int).SetString(strings.TrimSpace(d.chainID), 10)
	if !ok || chainID.Sign() <= 0 {
		return common.Address{}, nil, fmt.Errorf("invalid chain id %q", d.chainID)
	}
	return contract, chainID, nil
}

func runOfferCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "sign":
		return runOfferSign(args[1:], stdout, stderr)
	case "id":
		return runOfferID(args[1:], stdout, stderr)
	case "verify":
		return runOfferVerify(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown offer subcommand: %s\n", args[0])
		return 1
	}
}

func runOfferSign(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("offer sign", stderr)
	var domain domainFlags
	domain.register(fs)
	keystorePath := fs.String("keystore", "", "lender keystore file")
	in := fs.String("in", "-", "offer JSON file, - for stdin")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*keystorePath) == "" {
		return printError(stderr, "--keystore is required")
	}
	contract, chainID, err := domain.resolve()
	if err != nil {
		return printError(stderr, "%v", err)
	}

	var raw p2pnftsd.OfferJSON
	if err := decodeInput(*in, &raw); err != nil {
		return printError(stderr, "read offer: %v", err)
	}
	key, err := loadKey(*keystorePath, passphrase.NewSource(passphraseEnv))
	if err != nil {
		return printError(stderr, "load keystore: %v", err)
	}
	if raw.Lender == "" {
		raw.Lender = key.Address().Hex()
	}
	offer, err := raw.Offer()
	if err != nil {
		return printError(stderr, "offer: %v", err)
	}
	if offer.Lender != key.Address() {
		return printError(stderr, "offer lender %s does not match keystore address %s", offer.Lender.Hex(), key.Address().Hex())
	}

	signed, err := p2pnfts.SignOffer(offer, key, contract, chainID)
	if err != nil {
		return printError(stderr, "sign offer: %v", err)
	}
	digest, err := p2pnfts.SigningHash(offer, contract, chainID)
	if err != nil {
		return printError(stderr, "signing hash: %v", err)
	}
	id := signed.ID()
	return printJSON(stdout, stderr, signedOfferOutput{
		SignedOffer: p2pnftsd.SignedOfferToJSON(signed),
		OfferID:     hexutil.Encode(id[:]),
		SigningHash: hexutil.Encode(digest[:]),
	})
}

func readSignedOffer(path string) (p2pnfts.SignedOffer, error) {
	var raw p2pnftsd.SignedOfferJSON
	if err := decodeInput(path, &raw); err != nil {
		return p2pnfts.SignedOffer{}, err
	}
	return raw.SignedOffer()
}

func runOfferID(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("offer id", stderr)
	in := fs.String("in", "-", "signed offer JSON file, - for stdin")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	signed, err := readSignedOffer(*in)
	if err != nil {
		return printError(stderr, "read signed offer: %v", err)
	}
	id := signed.ID()
	fmt.Fprintln(stdout, hexutil.Encode(id[:]))
	return 0
}

func runOfferVerify(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("offer verify", stderr)
	var domain domainFlags
	domain.register(fs)
	in := fs.String("in", "-", "signed offer JSON file, - for stdin")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	contract, chainID, err := domain.resolve()
	if err != nil {
		return printError(stderr, "%v", err)
	}
	signed, err := readSignedOffer(*in)
	if err != nil {
		return printError(stderr, "read signed offer: %v", err)
	}
	id := signed.ID()
	out := verifyOutput{Lender: signed.Offer.Lender.Hex(), OfferID: hexutil.Encode(id[:])}
	if digest, err := p2pnfts.SigningHash(signed.Offer, contract, chainID); err == nil {
		if signer, err := crypto.RecoverAddress(digest, signed.Signature.V, signed.Signature.R, signed.Signature.S); err == nil {
			out.Signer = signer.Hex()
		}
	}
	_, err = p2pnfts.VerifyOffer(signed, contract, chainID)
	out.Valid = err == nil
	if code := printJSON(stdout, stderr, out); code != 0 {
		return code
	}
	if err != nil {
		return printError(stderr, "%v", err)
	}
	return 0
}

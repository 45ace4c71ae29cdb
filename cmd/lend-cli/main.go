package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/0xCryptoAngel/nft-lend-borrow-protocal/crypto"
	"github.com/0xCryptoAngel/nft-lend-borrow-protocal/native/lending"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen()
	case "attest":
		err = runAttest(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  lend-cli keygen
      Generate a new keypair and print the address and hex-encoded key.

  lend-cli attest -key <hex> -collection <name> -floor <amount> [-seq <n>]
      Sign a floor price attestation with the given oracle key. The
      sequence defaults to the current unix time.`)
}

func runKeygen() error {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	out := map[string]string{
		"address":    key.PubKey().Address().String(),
		"privateKey": hex.EncodeToString(key.Bytes()),
	}
	return json.NewEncoder(os.Stdout).Encode(out)
}

func runAttest(args []string) error {
	fs := flag.NewFlagSet("attest", flag.ExitOnError)
	keyHex := fs.String("key", "", "hex-encoded oracle private key")
	collection := fs.String("collection", "", "collateral collection identifier")
	floor := fs.String("floor", "", "floor price as a base-10 integer")
	seq := fs.Uint64("seq", 0, "attestation sequence (defaults to unix time)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(*keyHex), "0x"))
	if err != nil {
		return fmt.Errorf("decode key: %w", err)
	}
	key, err := crypto.PrivateKeyFromBytes(raw)
	if err != nil {
		return fmt.Errorf("parse key: %w", err)
	}

	floorPrice, ok := new(big.Int).SetString(strings.TrimSpace(*floor), 10)
	if !ok {
		return fmt.Errorf("invalid floor price %q", *floor)
	}
	sequence := *seq
	if sequence == 0 {
		sequence = uint64(time.Now().Unix())
	}

	att, err := lending.NewFloorAttestation(*collection, floorPrice, sequence, nil)
	if err != nil {
		return err
	}
	hash, err := att.Hash()
	if err != nil {
		return err
	}
	sig, err := key.Sign(hash)
	if err != nil {
		return err
	}

	out := map[string]interface{}{
		"signer":          key.PubKey().Address().String(),
		"collection":      att.Collection,
		"floorPrice":      att.FloorPrice.String(),
		"oracleSequence":  att.Sequence,
		"oracleSignature": hex.EncodeToString(sig),
	}
	return json.NewEncoder(os.Stdout).Encode(out)
}

package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

const (
	defaultKeyLen = 32

	// Not shorter than the HS256 hash output
	minKeyLen = 32
)

// Print random key to be used as SECRET_KEY
func main() {
	if err := run(os.Stdout, rand.Reader, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}
}

func run(out io.Writer, random io.Reader, args []string) error {
	fs := pflag.NewFlagSet("gensecret", pflag.ContinueOnError)
	length := fs.IntP("bytes", "b", defaultKeyLen, "Key length in bytes")
	encoding := fs.StringP("encoding", "e", "hex", "Output encoding (hex, base64)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	key, err := generate(random, *length, *encoding)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, key)
	return err
}

func generate(random io.Reader, length int, encoding string) (string, error) {
	if length < minKeyLen {
		return "", fmt.Errorf("key must be at least %d bytes", minKeyLen)
	}

	b := make([]byte, length)
	if _, err := io.ReadFull(random, b); err != nil {
		return "", err
	}

	switch encoding {
	case "hex":
		return hex.EncodeToString(b), nil
	case "base64":
		return base64.RawURLEncoding.EncodeToString(b), nil
	default:
		return "", fmt.Errorf("unknown encoding %q", encoding)
	}
}

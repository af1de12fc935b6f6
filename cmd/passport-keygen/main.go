// passport-keygen writes the RSA key pair the token codec signs with.
//
// The private key is written PKCS#1 PEM with mode 0600 and the public key
// PKIX PEM with mode 0644. Point PASSPORT_TOKEN_PRIVATE_KEY_PATH and
// PASSPORT_TOKEN_PUBLIC_KEY_PATH at them.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"passport/cmd/security/token"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	var (
		dir       string
		bits      int
		force     bool
		privName  string
		publicKey string
	)

	fs := pflag.NewFlagSet("passport-keygen", pflag.ContinueOnError)
	fs.StringVarP(&dir, "out", "o", ".", "directory to write the key files into")
	fs.IntVar(&bits, "bits", 2048, "RSA modulus size (minimum 2048)")
	fs.StringVar(&privName, "private", "token_private.pem", "private key file name")
	fs.StringVar(&publicKey, "public", "token_public.pem", "public key file name")
	fs.BoolVarP(&force, "force", "f", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		return err
	}

	privPath := filepath.Join(dir, privName)
	pubPath := filepath.Join(dir, publicKey)
	if !force {
		for _, p := range []string{privPath, pubPath} {
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("%s exists (use --force to overwrite)", p)
			}
		}
	}

	privPEM, pubPEM, err := token.GenerateKeyPEM(bits)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return err
	}

	ring, err := token.LoadKeyRing(privPath, pubPath)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "wrote %s and %s (kid %s)\n", privPath, pubPath, ring.Current().KeyID)
	return nil
}

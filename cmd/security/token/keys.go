package token

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// KeyPair is an immutable snapshot of the signing material.
// Private is nil for verify-only deployments.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
	KeyID   string
}

// KeyRing holds the current KeyPair. Readers never block; Reload swaps the whole pair.
type KeyRing struct {
	privatePath string
	publicPath  string

	cur atomic.Pointer[KeyPair]
}

// NewKeyRing wraps an in-memory private key (tests, CLI tools).
func NewKeyRing(priv *rsa.PrivateKey) (*KeyRing, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrKeyLoad)
	}
	pair, err := newKeyPair(priv, &priv.PublicKey)
	if err != nil {
		return nil, err
	}
	kr := &KeyRing{}
	kr.cur.Store(pair)
	return kr, nil
}

// LoadKeyRing reads PEM files once and returns a ring bound to those paths for later Reload calls.
//
// privatePath may be empty for a verify-only ring. publicPath may be empty when a private key
// is given, in which case the public half is derived from it.
func LoadKeyRing(privatePath, publicPath string) (*KeyRing, error) {
	kr := &KeyRing{
		privatePath: strings.TrimSpace(privatePath),
		publicPath:  strings.TrimSpace(publicPath),
	}
	if err := kr.Reload(); err != nil {
		return nil, err
	}
	return kr, nil
}

// Reload re-reads the PEM files and atomically replaces the current pair.
// On error the previous pair stays in service.
func (k *KeyRing) Reload() error {
	if k.privatePath == "" && k.publicPath == "" {
		return fmt.Errorf("%w: no key paths configured", ErrKeyLoad)
	}

	var priv *rsa.PrivateKey
	if k.privatePath != "" {
		b, err := os.ReadFile(k.privatePath) // #nosec G304 -- path comes from operator config
		if err != nil {
			return fmt.Errorf("%w: read private key: %w", ErrKeyLoad, err)
		}
		priv, err = jwt.ParseRSAPrivateKeyFromPEM(b)
		if err != nil {
			return fmt.Errorf("%w: parse private key: %w", ErrKeyLoad, err)
		}
	}

	var pub *rsa.PublicKey
	if k.publicPath != "" {
		b, err := os.ReadFile(k.publicPath) // #nosec G304 -- path comes from operator config
		if err != nil {
			return fmt.Errorf("%w: read public key: %w", ErrKeyLoad, err)
		}
		pub, err = jwt.ParseRSAPublicKeyFromPEM(b)
		if err != nil {
			return fmt.Errorf("%w: parse public key: %w", ErrKeyLoad, err)
		}
	} else {
		pub = &priv.PublicKey
	}

	if priv != nil && !priv.PublicKey.Equal(pub) {
		return fmt.Errorf("%w: public key does not match private key", ErrKeyLoad)
	}

	pair, err := newKeyPair(priv, pub)
	if err != nil {
		return err
	}
	k.cur.Store(pair)
	return nil
}

// Current returns the active pair.
func (k *KeyRing) Current() *KeyPair {
	return k.cur.Load()
}

// CanSign reports whether the ring carries a private key.
func (k *KeyRing) CanSign() bool {
	p := k.cur.Load()
	return p != nil && p.Private != nil
}

func newKeyPair(priv *rsa.PrivateKey, pub *rsa.PublicKey) (*KeyPair, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: missing public key", ErrKeyLoad)
	}
	kid, err := DeriveKeyID(pub)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: priv, Public: pub, KeyID: kid}, nil
}

// DeriveKeyID computes the RFC 7638 JWK thumbprint of pub, base64url encoded.
func DeriveKeyID(pub *rsa.PublicKey) (string, error) {
	jwk := jose.JSONWebKey{Key: pub}
	tp, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("%w: thumbprint: %w", ErrKeyLoad, err)
	}
	return encodeSegment(tp), nil
}

// GenerateKeyPEM creates a fresh RSA key and returns it as PKCS1 private and PKIX public PEM blocks.
func GenerateKeyPEM(bits int) (privatePEM, publicPEM []byte, err error) {
	if bits < 2048 {
		bits = 2048
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	privatePEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	publicPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privatePEM, publicPEM, nil
}

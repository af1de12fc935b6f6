package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRing(t *testing.T) *KeyRing {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	kr, err := NewKeyRing(priv)
	require.NoError(t, err)
	return kr
}

func TestCodec_CreateValidateRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewCodec(newTestRing(t))
	for i := 0; i < 5; i++ {
		id := uuid.New()

		a, err := c.CreateToken(id)
		require.NoError(t, err)
		b, err := c.CreateToken(id)
		require.NoError(t, err)
		assert.Equal(t, a, b, "PKCS1 v1.5 signatures are deterministic")

		got, err := c.Validate(context.Background(), a)
		require.NoError(t, err)
		assert.Equal(t, id, got)

		parts := strings.Split(a, ".")
		require.Len(t, parts, 2)
		assert.NotContains(t, a, "=")
		assert.Len(t, parts[0], 22)
	}
}

func TestCodec_BitFlipInvalidates(t *testing.T) {
	t.Parallel()

	c := NewCodec(newTestRing(t))
	id := uuid.New()
	tok, err := c.CreateToken(id)
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	payload, err := decodeSegment(parts[0])
	require.NoError(t, err)
	sig, err := decodeSegment(parts[1])
	require.NoError(t, err)

	flip := func(b []byte, i int, bit uint) []byte {
		out := append([]byte(nil), b...)
		out[i] ^= 1 << bit
		return out
	}

	for i := range payload {
		for bit := uint(0); bit < 8; bit++ {
			bad := encodeSegment(flip(payload, i, bit)) + "." + parts[1]
			_, err := c.Validate(context.Background(), bad)
			require.ErrorIs(t, err, ErrInvalidToken, "payload byte %d bit %d", i, bit)
		}
	}
	for i := range sig {
		bad := parts[0] + "." + encodeSegment(flip(sig, i, uint(i%8)))
		_, err := c.Validate(context.Background(), bad)
		require.ErrorIs(t, err, ErrInvalidToken, "signature byte %d", i)
	}

	// Character-level flips of the encoded text must fail as well.
	for i := 0; i < len(tok); i++ {
		for bit := uint(0); bit < 7; bit++ {
			b := []byte(tok)
			b[i] ^= 1 << bit
			if string(b) == tok {
				continue
			}
			_, err := c.Validate(context.Background(), string(b))
			require.Error(t, err, "char %d bit %d", i, bit)
		}
	}
}

func TestCodec_SegmentDispatch(t *testing.T) {
	t.Parallel()

	c := NewCodec(newTestRing(t))
	for _, raw := range []string{"", "   ", "abc", "a.b.c.d", "..", "a."} {
		_, err := c.Validate(context.Background(), raw)
		assert.ErrorIs(t, err, ErrInvalidToken, "raw=%q", raw)
	}

	p, err := Parse("x.y.z")
	require.NoError(t, err)
	assert.IsType(t, Delegated{}, p)

	_, err = c.Validate(context.Background(), "x.y.z")
	assert.ErrorIs(t, err, ErrJWTNotSupported)
}

func TestCodec_AcceptsPaddedSegments(t *testing.T) {
	t.Parallel()

	c := NewCodec(newTestRing(t))
	id := uuid.New()
	tok, err := c.CreateToken(id)
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	padded := parts[0] + "==." + parts[1] + "=="
	got, err := c.Validate(context.Background(), padded)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestCodec_RejectsOtherKey(t *testing.T) {
	t.Parallel()

	issuer := NewCodec(newTestRing(t))
	other := NewCodec(newTestRing(t))

	tok, err := issuer.CreateToken(uuid.New())
	require.NoError(t, err)
	_, err = other.Validate(context.Background(), tok)
	assert.ErrorIs(t, err, ErrSignature)
}

func TestKeyRing_LoadAndReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")

	writePair := func() {
		priv, pub, err := GenerateKeyPEM(2048)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(privPath, priv, 0o600))
		require.NoError(t, os.WriteFile(pubPath, pub, 0o600))
	}
	writePair()

	kr, err := LoadKeyRing(privPath, pubPath)
	require.NoError(t, err)
	first := kr.Current()
	require.True(t, kr.CanSign())
	require.NotEmpty(t, first.KeyID)

	c := NewCodec(kr)
	oldTok, err := c.CreateToken(uuid.New())
	require.NoError(t, err)

	writePair()
	require.NoError(t, kr.Reload())
	assert.NotEqual(t, first.KeyID, kr.Current().KeyID)

	_, err = c.Validate(context.Background(), oldTok)
	assert.ErrorIs(t, err, ErrInvalidToken, "tokens from the retired key stop validating")

	// A broken file leaves the current pair in service.
	require.NoError(t, os.WriteFile(privPath, []byte("garbage"), 0o600))
	cur := kr.Current()
	assert.ErrorIs(t, kr.Reload(), ErrKeyLoad)
	assert.Same(t, cur, kr.Current())
}

func TestKeyRing_VerifyOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	priv, pub, err := GenerateKeyPEM(2048)
	require.NoError(t, err)
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")
	require.NoError(t, os.WriteFile(privPath, priv, 0o600))
	require.NoError(t, os.WriteFile(pubPath, pub, 0o600))

	signer, err := LoadKeyRing(privPath, "")
	require.NoError(t, err)
	verifier, err := LoadKeyRing("", pubPath)
	require.NoError(t, err)
	assert.False(t, verifier.CanSign())
	assert.Equal(t, signer.Current().KeyID, verifier.Current().KeyID)

	id := uuid.New()
	tok, err := NewCodec(signer).CreateToken(id)
	require.NoError(t, err)
	got, err := NewCodec(verifier).Validate(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = NewCodec(verifier).CreateToken(id)
	assert.ErrorIs(t, err, ErrNoSigningKey)
}

func TestLoadKeyRing_MismatchedPair(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	privA, _, err := GenerateKeyPEM(2048)
	require.NoError(t, err)
	_, pubB, err := GenerateKeyPEM(2048)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pem"), privA, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.pem"), pubB, 0o600))

	_, err = LoadKeyRing(filepath.Join(dir, "a.pem"), filepath.Join(dir, "b.pem"))
	assert.ErrorIs(t, err, ErrKeyLoad)
}

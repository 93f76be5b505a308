package auth

import (
	"crypto/sha256"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestNewEOASignerDerivesAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + hexEncode(crypto.FromECDSA(key))

	signer, err := NewEOASigner(hexKey)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), signer.Address())
}

func TestSignProducesRecoverableSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := NewEOASigner(hexEncode(crypto.FromECDSA(key)))
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("swarm-core order digest"))
	sig, err := signer.Sign(digest)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	pub, err := crypto.SigToPub(digest[:], sig)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), crypto.PubkeyToAddress(*pub))
}

func TestNewEOASignerRejectsMalformedKey(t *testing.T) {
	_, err := NewEOASigner("not-hex")
	require.Error(t, err)
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0xf]
	}
	return string(out)
}

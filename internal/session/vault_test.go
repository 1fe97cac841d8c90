package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVault_SealOpen(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{"derived key", "correct horse battery staple"},
		{"ephemeral key", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewVault(tt.secret)
			require.NoError(t, err)
			assert.Equal(t, tt.secret == "", v.Ephemeral())

			sealed, err := v.Seal([]byte(`{"accessToken":"t"}`))
			require.NoError(t, err)
			assert.NotContains(t, string(sealed), "accessToken")

			again, err := v.Seal([]byte(`{"accessToken":"t"}`))
			require.NoError(t, err)
			assert.NotEqual(t, sealed, again, "salt and nonce are fresh per seal")

			plain, err := v.Open(sealed)
			require.NoError(t, err)
			assert.Equal(t, `{"accessToken":"t"}`, string(plain))
		})
	}
}

func TestVault_SameSecretOpensAcrossInstances(t *testing.T) {
	a, err := NewVault("s3cret")
	require.NoError(t, err)
	b, err := NewVault("s3cret")
	require.NoError(t, err)

	sealed, err := a.Seal([]byte("payload"))
	require.NoError(t, err)
	plain, err := b.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(plain))
}

func TestVault_DerivesKeyOncePerSalt(t *testing.T) {
	v, err := NewVault("s3cret")
	require.NoError(t, err)

	var blobs [][]byte
	for i := 0; i < 3; i++ {
		sealed, err := v.Seal([]byte("payload"))
		require.NoError(t, err)
		blobs = append(blobs, sealed)
	}
	assert.Equal(t, 1, v.derivations)

	header := len(vaultMagic) + saltLen
	assert.Equal(t, blobs[0][:header], blobs[2][:header])
	assert.NotEqual(t, blobs[0], blobs[1])

	restarted, err := NewVault("s3cret")
	require.NoError(t, err)
	for _, blob := range blobs {
		plain, err := restarted.Open(blob)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(plain))
	}

	resealed, err := restarted.Seal([]byte("refreshed"))
	require.NoError(t, err)
	assert.Equal(t, blobs[0][:header], resealed[:header])
	assert.Equal(t, 1, restarted.derivations)
}

func TestVault_Rejects(t *testing.T) {
	v, err := NewVault("s3cret")
	require.NoError(t, err)
	sealed, err := v.Seal([]byte("payload"))
	require.NoError(t, err)

	other, err := NewVault("different")
	require.NoError(t, err)
	ephemeral, err := NewVault("")
	require.NoError(t, err)

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff

	saltFlipped := append([]byte(nil), sealed...)
	saltFlipped[len(vaultMagic)] ^= 0xff

	tests := []struct {
		name  string
		vault *Vault
		blob  []byte
	}{
		{"wrong secret", other, sealed},
		{"ephemeral vault", ephemeral, sealed},
		{"tampered ciphertext", v, tampered},
		{"tampered salt", v, saltFlipped},
		{"truncated", v, sealed[:len(vaultMagic)+saltLen+4]},
		{"bad magic", v, append([]byte("XXXX"), sealed[4:]...)},
		{"empty", v, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.vault.Open(tt.blob)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

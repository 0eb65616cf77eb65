package account_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/poe/account"
)

func TestFromSeed_Deterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, account.SeedLength)
	a, err := account.FromSeed(seed)
	require.NoError(t, err)
	b, err := account.FromSeed(seed)
	require.NoError(t, err)

	assert.Equal(t, a.Account(), b.Account())
	assert.Equal(t, seed, a.Seed())

	_, err = account.FromSeed([]byte{1, 2, 3})
	assert.ErrorIs(t, err, account.ErrInvalidSeed)
}

func TestSignVerify(t *testing.T) {
	kp, err := account.Generate(nil)
	require.NoError(t, err)
	other, err := account.Generate(nil)
	require.NoError(t, err)

	msg := []byte("claim")
	sig := kp.Sign(msg)

	assert.NoError(t, account.Verify(kp.Account(), msg, sig))
	assert.ErrorIs(t, account.Verify(other.Account(), msg, sig), account.ErrInvalidSignature)
	assert.ErrorIs(t, account.Verify(kp.Account(), []byte("claim!"), sig), account.ErrInvalidSignature)
	assert.ErrorIs(t, account.Verify(kp.Account(), msg, sig[:10]), account.ErrInvalidSignature)
}

func TestParse(t *testing.T) {
	kp, err := account.Generate(nil)
	require.NoError(t, err)

	got, err := account.Parse(kp.Account().String())
	require.NoError(t, err)
	assert.Equal(t, kp.Account(), got)

	_, err = account.Parse("0OIl")
	assert.ErrorIs(t, err, account.ErrInvalidAccount)

	_, err = account.FromBytes([]byte{1})
	assert.ErrorIs(t, err, account.ErrInvalidAccount)
}

package shamir

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitAndCombine_Roundtrip(t *testing.T) {
	secret := []byte("attack at dawn")

	shares, err := Split(secret, 3, 5)
	require.NoError(t, err)
	require.Len(t, shares, 5)
	for i, s := range shares {
		assert.Equal(t, i+1, s.Index)
		assert.NotEmpty(t, s.Value)
	}

	recovered, err := Combine(shares)
	require.NoError(t, err)
	assert.Equal(t, secret, recovered)
}

func TestCombine_ThresholdSubset(t *testing.T) {
	secret := []byte{0x00, 0xff, 0x10, 0x20, 0x30}

	shares, err := Split(secret, 3, 5)
	require.NoError(t, err)

	// Any 3 of the 5 shares suffice.
	recovered, err := Combine([]Share{shares[4], shares[1], shares[3]})
	require.NoError(t, err)
	assert.Equal(t, secret, recovered)
}

func TestSplitAndCombine_MultiBlockSecret(t *testing.T) {
	// Secrets beyond one 32-byte field block are chunked by the
	// underlying scheme; the split and combine must cover every chunk.
	for _, size := range []int{48, 100} {
		secret := make([]byte, size)
		for i := range secret {
			secret[i] = byte(i * 7)
		}

		shares, err := Split(secret, 3, 5)
		require.NoError(t, err)

		recovered, err := Combine([]Share{shares[0], shares[2], shares[3]})
		require.NoError(t, err)
		assert.Equal(t, secret, recovered, "size %d", size)
	}
}

func TestSplit_DistinctShares(t *testing.T) {
	shares, err := Split([]byte("duplicate check"), 2, 4)
	require.NoError(t, err)

	for i := range shares {
		for j := i + 1; j < len(shares); j++ {
			assert.False(t, bytes.Equal(shares[i].Value, shares[j].Value),
				"shares %d and %d are identical", i, j)
		}
	}
}

func TestCombine_BelowThreshold(t *testing.T) {
	secret := []byte("attack at dawn")
	shares, err := Split(secret, 3, 5)
	require.NoError(t, err)

	// An undersized subset cannot yield the secret. The scheme cannot
	// detect the shortage itself, so the result is either an error or
	// garbage for the caller's integrity check to reject.
	recovered, err := Combine(shares[:2])
	if err == nil {
		assert.NotEqual(t, secret, recovered)
	}
}

func TestCombine_TamperedShare(t *testing.T) {
	secret := []byte("attack at dawn")
	shares, err := Split(secret, 2, 3)
	require.NoError(t, err)

	shares[0].Value[0] ^= 0x01
	recovered, err := Combine(shares[:2])
	if err == nil {
		assert.NotEqual(t, secret, recovered)
	}
}

func TestSplit_Validation(t *testing.T) {
	cases := []struct {
		name      string
		secret    []byte
		threshold int
		total     int
	}{
		{"empty secret", nil, 3, 5},
		{"threshold below minimum", []byte("x"), 1, 5},
		{"total below threshold", []byte("x"), 4, 3},
		{"total above maximum", []byte("x"), 3, 256},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Split(tc.secret, tc.threshold, tc.total)
			assert.Error(t, err)
		})
	}
}

func TestCombine_Validation(t *testing.T) {
	_, err := Combine(nil)
	assert.Error(t, err)

	_, err = Combine([]Share{{Index: 1, Value: nil}})
	assert.Error(t, err)

	_, err = Combine([]Share{{Index: 1, Value: []byte("not a share")}})
	assert.Error(t, err)
}

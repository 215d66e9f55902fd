package policy

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToAtomic(t *testing.T) {
	cases := []struct {
		amount   string
		decimals uint8
		want     int64
	}{
		{"1", 8, 100000000},
		{"0.00000001", 8, 1},
		{"0.123456789", 8, 12345678}, // floor truncation of extra precision
		{"1.5", 8, 150000000},
		{"21", 0, 21},
		{"21.9", 0, 21},
		{".5", 8, 50000000},
		{"0", 8, 0},
	}
	for _, c := range cases {
		got, err := ToAtomic(c.amount, c.decimals)
		require.NoError(t, err, c.amount)
		assert.Equal(t, big.NewInt(c.want), got, "%s @ %d", c.amount, c.decimals)
	}
}

func TestToAtomicRejectsBadInput(t *testing.T) {
	for _, amount := range []string{"", "-1", "abc", "1.2.3", "1,5"} {
		_, err := ToAtomic(amount, 8)
		assert.Error(t, err, amount)
	}
}

func TestAggregateDivisibility(t *testing.T) {
	total, decimals := Aggregate([]Row{
		{Quantity: 100000000, Divisible: true},
		{Quantity: 5, Divisible: true},
	})
	assert.Equal(t, big.NewInt(100000005), total)
	assert.Equal(t, uint8(8), decimals)

	// One indivisible row makes the whole holding indivisible.
	total, decimals = Aggregate([]Row{
		{Quantity: 3, Divisible: true},
		{Quantity: 2, Divisible: false},
	})
	assert.Equal(t, big.NewInt(5), total)
	assert.Equal(t, uint8(0), decimals)
}

func TestPassesTokenPolicy(t *testing.T) {
	p := Policy{Kind: KindToken, Asset: "XCP", MinAmount: "1.0", OnFail: FailRestrict}

	ok, err := Passes([]Row{{Quantity: 100000000, Divisible: true}}, p)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Passes([]Row{{Quantity: 99999999, Divisible: true}}, p)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPassesIndivisibleAsset(t *testing.T) {
	p := Policy{Kind: KindToken, Asset: "RAREPEPE", MinAmount: "2", OnFail: FailKick}

	ok, err := Passes([]Row{{Quantity: 2, Divisible: false}}, p)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Passes([]Row{{Quantity: 1, Divisible: false}}, p)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBasicPolicyAlwaysPasses(t *testing.T) {
	ok, err := Passes(nil, Policy{Kind: KindBasic, OnFail: FailRestrict})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHashIsStableAndFieldSensitive(t *testing.T) {
	a := Policy{Kind: KindToken, Asset: "XCP", MinAmount: "1.0", IncludeUnconfirmed: true, OnFail: FailRestrict}
	b := Policy{OnFail: FailRestrict, IncludeUnconfirmed: true, MinAmount: "1.0", Asset: "xcp", Kind: KindToken}
	assert.Equal(t, a.Hash(), b.Hash(), "identical fields must hash identically regardless of ordering or asset case")

	c := a
	c.MinAmount = "2.0"
	assert.NotEqual(t, a.Hash(), c.Hash())

	d := a
	d.OnFail = FailKick
	assert.NotEqual(t, a.Hash(), d.Hash())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Policy{Kind: KindBasic, OnFail: FailRestrict}.Validate())
	assert.NoError(t, Policy{Kind: KindToken, Asset: "XCP", MinAmount: "1", OnFail: FailKick}.Validate())
	assert.Error(t, Policy{Kind: KindToken, MinAmount: "1", OnFail: FailKick}.Validate())
	assert.Error(t, Policy{Kind: KindToken, Asset: "XCP", MinAmount: "x", OnFail: FailKick}.Validate())
	assert.Error(t, Policy{Kind: KindBasic, OnFail: "ban"}.Validate())
	assert.Error(t, Policy{Kind: "vip", OnFail: FailKick}.Validate())
}

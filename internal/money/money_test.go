package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1.00005", "1.0001"},
		{"1.00004", "1.0000"},
		{"0.12345", "0.1235"},
	}
	for _, c := range cases {
		got := Round(decimal.RequireFromString(c.in))
		want := decimal.RequireFromString(c.want)
		if !got.Equal(want) {
			t.Errorf("Round(%s) = %s, want %s", c.in, got, want)
		}
	}
}

func TestZero(t *testing.T) {
	if !Zero().Equal(decimal.NewFromInt(0)) {
		t.Errorf("Zero() = %s, want 0", Zero())
	}
}

func TestFromFloatRounds(t *testing.T) {
	got := FromFloat(0.123456)
	want := decimal.RequireFromString("0.1235")
	if !got.Equal(want) {
		t.Errorf("FromFloat = %s, want %s", got, want)
	}
}

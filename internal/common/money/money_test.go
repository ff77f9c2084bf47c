package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRound2(t *testing.T) {
	cases := map[string]string{
		"0.8925": "0.89",
		"0.895":  "0.9",
		"10.5":   "10.5",
		"1.005":  "1.01",
		"-1.005": "-1.01",
	}
	for in, want := range cases {
		got := Round2(decimal.RequireFromString(in))
		if !got.Equal(decimal.RequireFromString(want)) {
			t.Errorf("Round2(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestPercentAndSum(t *testing.T) {
	tax := Percent(decimal.RequireFromString("10.50"), decimal.RequireFromString("8.5"))
	if !tax.Equal(decimal.RequireFromString("0.89")) {
		t.Fatalf("tax = %s", tax)
	}
	total := Sum(decimal.RequireFromString("10.50"), tax)
	if !total.Equal(decimal.RequireFromString("11.39")) {
		t.Fatalf("total = %s", total)
	}
}

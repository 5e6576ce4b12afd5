package magnitude

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		input    string
		expected int64
	}{
		{"42", 42},
		{"0", 0},
		{"680K", 680_000},
		{"680k", 680_000},
		{"1.2M", 1_200_000},
		{"1.2m", 1_200_000},
		{"3B", 3_000_000_000},
		{"1.005K", 1005},
		{"1.0054K", 1005},
		{"0.5K", 500},
		{"+12K", 12_000},
		{"  7M ", 7_000_000},
		{"1.999999999999999999K", 1999},
		{"9223372036854775K", 9_223_372_036_854_775_000},
	}
	for _, c := range cases {
		got, err := Parse(c.input)
		require.NoError(t, err, "input %q", c.input)
		require.Equal(t, c.expected, got, "input %q", c.input)
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"1.2X",
		"12X",
		"1.2.3K",
		"K",
		".5K",
		"1.K",
		"1.5",
		"-3K",
		"1,200",
		"views",
		"99999999999999999999",
		"9223372036854775807B",
		"9223372036854775.9K",
	}
	for _, input := range inputs {
		_, err := Parse(input)
		require.Error(t, err, "input %q", input)
		var perr *ParseError
		require.ErrorAs(t, err, &perr, "input %q", input)
	}
}

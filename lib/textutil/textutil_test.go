package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "acme corp", NormalizeName("  ACME \t Corp \n"))
}

func TestClosestName(t *testing.T) {
	candidates := []string{"ACME Corp", "Globex Corporation"}

	got, ok := ClosestName("acme   corp.", candidates)
	require.True(t, ok)
	require.Equal(t, "ACME Corp", got)

	_, ok = ClosestName("completely different llc", candidates)
	require.False(t, ok)
}

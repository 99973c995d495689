package uuid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeneratorNewIDIsTimeOrdered(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	p1, err := Parse(id1)
	require.NoError(t, err)
	require.Equal(t, 7, int(p1.Version()))
	require.Less(t, id1, id2)
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Parse("not-a-run")
	require.Error(t, err)
}

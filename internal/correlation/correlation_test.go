package correlation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIDProducesDistinctValues(t *testing.T) {
	a := NewID()
	b := NewID()
	require.NotEmpty(t, a)
	require.NotEmpty(t, b)
	require.NotEqual(t, a, b)
}

func TestNewMessageIDProducesDistinctValues(t *testing.T) {
	require.NotEqual(t, NewMessageID(), NewMessageID())
}

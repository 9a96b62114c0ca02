package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsNotFound(t *testing.T) {
	err := NewNotFoundError("foo", fmt.Errorf("bar"))
	require.True(t, IsNotFound(err))
	require.True(t, IsUnretriable(err))
}

func TestUnretriable(t *testing.T) {
	err := Unretriable(fmt.Errorf("bar"))
	require.True(t, IsUnretriable(err))
}

package converter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJSONConverter_Struct(t *testing.T) {
	type order struct {
		OrderID   int
		ProductID int
	}

	p, err := DefaultConverter.To(order{OrderID: 12, ProductID: 456})
	require.NoError(t, err)

	var r order
	require.NoError(t, DefaultConverter.From(p, &r))
	require.Equal(t, order{OrderID: 12, ProductID: 456}, r)
}

func TestJSONConverter_Time(t *testing.T) {
	now := time.Now()
	p, err := DefaultConverter.To(now)
	require.NoError(t, err)

	var r time.Time
	require.NoError(t, DefaultConverter.From(p, &r))
	require.True(t, now.Equal(r))
}

func TestJSONConverter_EmptyPayload(t *testing.T) {
	r := 42
	require.NoError(t, DefaultConverter.From(nil, &r))
	require.Equal(t, 42, r)
}

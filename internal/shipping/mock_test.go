package shipping_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cekresi/internal/courier"
	"github.com/noah-isme/cekresi/internal/shipping"
)

func TestMockOutcomes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	res, err := shipping.Mock{}.Track(ctx, shipping.TrackReq{Courier: courier.JNE, TrackingNumber: "CGK1234567890"})
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, shipping.StatusDelivered, res.Status)
	require.Len(t, res.Events, 3)

	res, err = shipping.Mock{}.Track(ctx, shipping.TrackReq{Courier: courier.JNE, TrackingNumber: "CGK0000000404"})
	require.NoError(t, err)
	require.False(t, res.Found)

	_, err = shipping.Mock{}.Track(ctx, shipping.TrackReq{Courier: courier.JNE, TrackingNumber: "CGK0000000500"})
	require.ErrorIs(t, err, shipping.ErrMockTransport)
}

func TestNormaliseStatus(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"":                 shipping.StatusUnknown,
		"  ":               shipping.StatusUnknown,
		"delivered":        shipping.StatusDelivered,
		"Diterima":         shipping.StatusDelivered,
		"in_transit":       shipping.StatusOnProcess,
		"out_for_delivery": shipping.StatusOutForDelivery,
		"pickup":           shipping.StatusPickedUp,
		"retur":            shipping.StatusReturned,
		"held at hub":      "HELD AT HUB",
	}
	for in, want := range cases {
		require.Equal(t, want, shipping.NormaliseStatus(in), "input %q", in)
	}
}

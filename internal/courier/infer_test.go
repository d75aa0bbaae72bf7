package courier_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cekresi/internal/courier"
)

func TestInferDefaultRules(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		id   string
		want courier.Code
	}{
		{name: "jnt JP prefix", id: "JP1234567890", want: courier.JNT},
		{name: "jnt JD prefix", id: "JD0098765432", want: courier.JNT},
		{name: "sicepat 15 digits", id: "001234567890123", want: courier.SiCepat},
		{name: "ninja prefix", id: "NV1234567890", want: courier.Ninja},
		{name: "jne origin code", id: "CGK1234567890", want: courier.JNE},
		{name: "pos 13 digits", id: "9999999999999", want: courier.POS},
		{name: "pos 16 digits", id: "1234567890123456", want: courier.POS},
		{name: "spx prefix", id: "SPXID042345678901", want: courier.SPX},
		{name: "id express prefix", id: "IDE700123456789", want: courier.IDE},
		{name: "lower case is normalised", id: "  jp1234567890 ", want: courier.JNT},
		{name: "too short falls back", id: "xyz", want: courier.Default},
		{name: "empty falls back", id: "", want: courier.Default},
		{name: "whitespace falls back", id: "   ", want: courier.Default},
		{name: "12 digits falls back", id: "123456789012", want: courier.Default},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, courier.Infer(tc.id))
		})
	}
}

func TestInferRuleOrderResolvesOverlap(t *testing.T) {
	t.Parallel()

	// A 15 digit number satisfies both numeric rules; declared order decides.
	code, rule := courier.NewInferrer(courier.DefaultRules, "").Explain("123456789012345")
	require.Equal(t, courier.SiCepat, code)
	require.Equal(t, "sicepat-15-digits", rule)

	swapped := make([]courier.Rule, 0, len(courier.DefaultRules))
	for _, r := range courier.DefaultRules {
		if r.Carrier == courier.SiCepat {
			continue
		}
		swapped = append(swapped, r)
	}
	for _, r := range courier.DefaultRules {
		if r.Carrier == courier.SiCepat {
			swapped = append(swapped, r)
		}
	}
	require.Equal(t, courier.POS, courier.NewInferrer(swapped, "").Infer("123456789012345"))
}

func TestInferrerCustomFallback(t *testing.T) {
	t.Parallel()

	in := courier.NewInferrer(nil, courier.POS)
	code, rule := in.Explain("anything")
	require.Equal(t, courier.POS, code)
	require.Equal(t, "fallback", rule)
}

func TestInferConcurrentUse(t *testing.T) {
	t.Parallel()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.Equal(t, courier.Ninja, courier.Infer("NV1234567890"))
		}()
	}
	wg.Wait()
}

func TestParse(t *testing.T) {
	t.Parallel()

	code, err := courier.Parse(" J&T ")
	require.NoError(t, err)
	require.Equal(t, courier.JNT, code)

	code, err = courier.Parse("SICEPAT")
	require.NoError(t, err)
	require.Equal(t, courier.SiCepat, code)

	_, err = courier.Parse("dhl")
	require.ErrorIs(t, err, courier.ErrUnsupported)

	require.Equal(t, "Ninja Xpress", courier.Ninja.Name())
	require.Equal(t, "Unknown", courier.Unknown.Name())
	require.False(t, courier.Unknown.Known())
}

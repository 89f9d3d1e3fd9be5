package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeScalars(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"string passthrough", "hello world", "hello world"},
		{"empty string", "", ""},
		{"string with quotes", `it's "quoted"`, `it's "quoted"`},
		{"bool true", true, "True"},
		{"bool false", false, "False"},
		{"int", 255, "255"},
		{"negative int", -42, "-42"},
		{"zero", 0, "0"},
		{"int64", int64(1 << 40), "1099511627776"},
		{"uint8", uint8(7), "7"},
		{"float", 1.5, "1.5"},
		{"negative float", -0.25, "-0.25"},
		{"bytes", []byte{0, 1, 2}, `b'\x00\x01\x02'`},
		{"empty bytes", []byte{}, "b''"},
		{"printable bytes", []byte("abc"), "b'abc'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(map[string]any{"p": tt.value})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got["p"])
		})
	}
}

func TestEncodeStructured(t *testing.T) {
	got, err := Encode(map[string]any{
		"list": []any{"a", 1, true},
		"dict": map[string]any{"k": "v"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `["a",1,true]`, got["list"])
	assert.JSONEq(t, `{"k":"v"}`, got["dict"])
}

func TestEncodeDropsNil(t *testing.T) {
	got, err := Encode(map[string]any{"present": "x", "absent": nil})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"present": "x"}, got)
}

func TestEncodeRejectsUnsupportedType(t *testing.T) {
	_, err := Encode(map[string]any{"ch": make(chan int)})
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "ch", perr.Name)
}

func TestScalarRoundTrip(t *testing.T) {
	t.Run("bool", func(t *testing.T) {
		for _, v := range []bool{true, false} {
			enc, err := Encode(map[string]any{"p": v})
			require.NoError(t, err)
			dec, err := DecodeBool(enc["p"])
			require.NoError(t, err)
			assert.Equal(t, v, dec)
		}
	})

	t.Run("int", func(t *testing.T) {
		for _, v := range []int64{0, 1, -1, 255, -9223372036854775808, 9223372036854775807} {
			enc, err := Encode(map[string]any{"p": v})
			require.NoError(t, err)
			dec, err := DecodeInt(enc["p"])
			require.NoError(t, err)
			assert.Equal(t, v, dec)
		}
	})

	t.Run("float", func(t *testing.T) {
		for _, v := range []float64{0, 1.5, -0.001, 1e20, 3.141592653589793} {
			enc, err := Encode(map[string]any{"p": v})
			require.NoError(t, err)
			dec, err := DecodeFloat(enc["p"])
			require.NoError(t, err)
			assert.Equal(t, v, dec)
		}
	})

	t.Run("bytes", func(t *testing.T) {
		all := make([]byte, 256)
		for i := range all {
			all[i] = byte(i)
		}
		cases := [][]byte{{}, {0}, {0, 1, 2}, []byte("plain ascii"), []byte(`\'quoted\'`), all}
		for _, v := range cases {
			enc, err := Encode(map[string]any{"p": v})
			require.NoError(t, err)
			dec, err := DecodeBytes(enc["p"])
			require.NoError(t, err)
			assert.Equal(t, v, dec)
		}
	})
}

func TestDecodeBoolRejectsJunk(t *testing.T) {
	for _, s := range []string{"", "true", "TRUE", "1", "yes"} {
		_, err := DecodeBool(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestDecodeBytesRejectsMalformedLiterals(t *testing.T) {
	for _, s := range []string{"", "b'", "abc", `b'\q'`, `b'\x1'`, `b'\`} {
		_, err := DecodeBytes(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestDecodeJSONRoundTrip(t *testing.T) {
	in := map[string]any{"a": "b", "c": []any{float64(1), float64(2)}, "ünï": "ço∂é"}
	enc, err := Encode(map[string]any{"p": in})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, DecodeJSON(enc["p"], &out))
	assert.Equal(t, in, out)
}

// Package params implements the wire encoding between host-side typed
// parameter values and the environment variables consumed by scripts
// running inside the engine.
//
// Strings pass through unescaped. Booleans, integers, floats and byte
// sequences become Python literals that the engine-side accessors parse
// back to the same value. Slices, arrays and maps are JSON-serialized.
// Any other value kind is rejected before a process is spawned. There
// is no type tag on the wire; the caller and the script must agree on
// which typed accessor matches each parameter.
package params

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Error reports a parameter whose value has no defined wire encoding.
type Error struct {
	Name string
	Type string
}

func (e *Error) Error() string {
	return fmt.Sprintf("parameter %q: cannot encode value of type %s", e.Name, e.Type)
}

// Encode maps parameter values to their wire form. Entries with a nil
// value are dropped rather than encoded. Parameter names become
// environment variable names verbatim; validating them is the caller's
// responsibility.
func Encode(parameters map[string]any) (map[string]string, error) {
	encoded := make(map[string]string, len(parameters))
	for name, value := range parameters {
		wire, ok, err := encodeValue(name, value)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		encoded[name] = wire
	}
	return encoded, nil
}

func encodeValue(name string, value any) (string, bool, error) {
	switch v := value.(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	case bool:
		if v {
			return "True", true, nil
		}
		return "False", true, nil
	case []byte:
		return BytesLiteral(v), true, nil
	case int:
		return strconv.FormatInt(int64(v), 10), true, nil
	case int8:
		return strconv.FormatInt(int64(v), 10), true, nil
	case int16:
		return strconv.FormatInt(int64(v), 10), true, nil
	case int32:
		return strconv.FormatInt(int64(v), 10), true, nil
	case int64:
		return strconv.FormatInt(v, 10), true, nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), true, nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), true, nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), true, nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), true, nil
	case uint64:
		return strconv.FormatUint(v, 10), true, nil
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), true, nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), true, nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		data, err := json.Marshal(value)
		if err != nil {
			return "", false, fmt.Errorf("parameter %q: %w", name, err)
		}
		return string(data), true, nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "", false, nil
		}
	}

	return "", false, &Error{Name: name, Type: fmt.Sprintf("%T", value)}
}

// BytesLiteral renders a byte sequence as a Python bytes literal.
// Printable ASCII is emitted verbatim, everything else as escapes the
// engine-side parser understands.
func BytesLiteral(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b)*2 + 3)
	sb.WriteString("b'")
	for _, c := range b {
		switch {
		case c == '\\':
			sb.WriteString(`\\`)
		case c == '\'':
			sb.WriteString(`\'`)
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\r':
			sb.WriteString(`\r`)
		case c == '\t':
			sb.WriteString(`\t`)
		case c >= 0x20 && c < 0x7f:
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, `\x%02x`, c)
		}
	}
	sb.WriteString("'")
	return sb.String()
}

// The decoders below mirror the engine-side accessors. They are literal
// parsers over the small fixed set of shapes the encoder emits, not a
// general expression evaluator.

// DecodeBool parses the wire form of a boolean.
func DecodeBool(s string) (bool, error) {
	switch s {
	case "True":
		return true, nil
	case "False":
		return false, nil
	}
	return false, fmt.Errorf("could not decode %q to boolean", s)
}

// DecodeInt parses the wire form of an integer.
func DecodeInt(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("could not decode %q to integer: %w", s, err)
	}
	return v, nil
}

// DecodeFloat parses the wire form of a float.
func DecodeFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("could not decode %q to float: %w", s, err)
	}
	return v, nil
}

// DecodeBytes parses a Python bytes literal back into raw bytes.
func DecodeBytes(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "b'") || !strings.HasSuffix(s, "'") || len(s) < 3 {
		return nil, fmt.Errorf("could not decode %q to bytes: not a bytes literal", s)
	}
	body := s[2 : len(s)-1]
	out := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(body) {
			return nil, fmt.Errorf("could not decode %q to bytes: dangling escape", s)
		}
		switch body[i] {
		case '\\':
			out = append(out, '\\')
		case '\'':
			out = append(out, '\'')
		case '"':
			out = append(out, '"')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case '0':
			out = append(out, 0)
		case 'x':
			if i+2 >= len(body) {
				return nil, fmt.Errorf("could not decode %q to bytes: truncated \\x escape", s)
			}
			v, err := strconv.ParseUint(body[i+1:i+3], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("could not decode %q to bytes: %w", s, err)
			}
			out = append(out, byte(v))
			i += 2
		default:
			return nil, fmt.Errorf("could not decode %q to bytes: unknown escape \\%c", s, body[i])
		}
	}
	return out, nil
}

// DecodeJSON parses a JSON wire value into v.
func DecodeJSON(s string, v any) error {
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("could not decode %q as JSON: %w", s, err)
	}
	return nil
}

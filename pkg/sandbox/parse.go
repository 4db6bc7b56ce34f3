package sandbox

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
)

// ParseExecutionResult extracts the solution's return value from a
// successful outcome. The trimmed stdout must be a JSON object with a
// "result" key. Bare Infinity, -Infinity and NaN tokens, as printed by
// Python's json module, are accepted and decode to non-finite float64.
// Numbers decode as json.Number. Any other shape yields ok == false.
func ParseExecutionResult(o Outcome) (result any, ok bool) {
	if !o.IsSuccessful {
		return nil, false
	}
	text := strings.TrimSpace(o.Stdout)
	if !strings.HasPrefix(text, "{") {
		return nil, false
	}

	v, err := DecodeJSON([]byte(text))
	if err != nil {
		return nil, false
	}
	obj, isObj := v.(map[string]any)
	if !isObj {
		return nil, false
	}
	result, ok = obj["result"]
	return result, ok
}

// Markers substituted for non-finite tokens before decoding. They are JSON
// strings that begin with a NUL character, which regular output never does.
const (
	markerPosInf = "\x00pf:+Infinity"
	markerNegInf = "\x00pf:-Infinity"
	markerNaN    = "\x00pf:NaN"
)

var nonFinite = []struct {
	token  string
	marker string
}{
	{"-Infinity", `"\u0000pf:-Infinity"`},
	{"Infinity", `"\u0000pf:+Infinity"`},
	{"NaN", `"\u0000pf:NaN"`},
}

// DecodeJSON decodes a single JSON value, accepting the non-standard
// Infinity, -Infinity and NaN literals outside of strings.
func DecodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(replaceNonFinite(data)))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, &json.SyntaxError{Offset: dec.InputOffset()}
	}
	return restoreNonFinite(v), nil
}

func replaceNonFinite(data []byte) []byte {
	if !bytes.Contains(data, []byte("Infinity")) && !bytes.Contains(data, []byte("NaN")) {
		return data
	}

	var out bytes.Buffer
	out.Grow(len(data) + 32)
	inString, escaped := false, false

	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}

		replaced := false
		for _, nf := range nonFinite {
			if bytes.HasPrefix(data[i:], []byte(nf.token)) && tokenBoundary(data, i+len(nf.token)) {
				out.WriteString(nf.marker)
				i += len(nf.token) - 1
				replaced = true
				break
			}
		}
		if !replaced {
			out.WriteByte(c)
		}
	}
	return out.Bytes()
}

func tokenBoundary(data []byte, i int) bool {
	if i >= len(data) {
		return true
	}
	switch data[i] {
	case ',', ']', '}', ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

func restoreNonFinite(v any) any {
	switch x := v.(type) {
	case string:
		switch x {
		case markerPosInf:
			return math.Inf(1)
		case markerNegInf:
			return math.Inf(-1)
		case markerNaN:
			return math.NaN()
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = restoreNonFinite(e)
		}
		return x
	case map[string]any:
		for k, e := range x {
			x[k] = restoreNonFinite(e)
		}
		return x
	}
	return v
}

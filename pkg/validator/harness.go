package validator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rhuss/probforge/pkg/sandbox"
)

// DefaultEntryPoint is the function name harnesses call when none is given.
const DefaultEntryPoint = "solution"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// ValidIdentifier reports whether name can be used as an entry point.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name) && !strings.Contains(name, "$$")
}

// Harness wraps a solution so that running it reads the named arguments as
// a JSON object on stdin, calls the entry function, and prints
// {"result": <value>} as the only line on stdout. Prints made by the
// solution itself are redirected to stderr.
type Harness interface {
	Wrap(code string, entry EntryPoint) (string, error)
}

// EntryPoint names the function to call and its parameters in call order.
type EntryPoint struct {
	Name   string
	Params []string
}

func (e EntryPoint) name() string {
	if e.Name == "" {
		return DefaultEntryPoint
	}
	return e.Name
}

// Harnesses maps solution languages to their harness.
var Harnesses = map[string]Harness{
	"python":     pythonHarness{},
	"javascript": javascriptHarness{},
}

// HarnessFor returns the harness for language.
func HarnessFor(language string) (Harness, bool) {
	h, ok := Harnesses[strings.ToLower(strings.TrimSpace(language))]
	return h, ok
}

// quote renders s as a string literal valid in both Python and JavaScript.
func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

type pythonHarness struct{}

const pythonTemplate = `import json as _pf_json
import sys as _pf_sys

_pf_out = _pf_sys.stdout
_pf_sys.stdout = _pf_sys.stderr
_pf_ns = {"__name__": "solution"}
exec(compile(%s, "solution.py", "exec"), _pf_ns)


def _pf_default(o):
    if isinstance(o, (set, frozenset)):
        try:
            return sorted(o)
        except TypeError:
            return list(o)
    if isinstance(o, tuple):
        return list(o)
    if hasattr(o, "tolist"):
        return o.tolist()
    raise TypeError("result of type %%s is not JSON serializable" %% type(o).__name__)


_pf_fn = _pf_ns.get(%s)
if not callable(_pf_fn):
    _pf_sys.stderr.write("%s: '%%s' is not defined\n" %% %s)
    _pf_sys.exit(1)

_pf_raw = _pf_sys.stdin.read()
_pf_args = _pf_json.loads(_pf_raw) if _pf_raw.strip() else {}
if isinstance(_pf_args, dict):
    _pf_result = _pf_fn(**_pf_args)
else:
    _pf_result = _pf_fn(_pf_args)
_pf_out.write(_pf_json.dumps({"result": _pf_result}, default=_pf_default))
_pf_out.write("\n")
_pf_out.flush()
`

func (pythonHarness) Wrap(code string, entry EntryPoint) (string, error) {
	name := entry.name()
	if !ValidIdentifier(name) || strings.Contains(name, "$") {
		return "", fmt.Errorf("invalid python entry point %q", name)
	}
	return fmt.Sprintf(pythonTemplate, quote(code), quote(name), sandbox.FunctionNotFoundMarker, quote(name)), nil
}

type javascriptHarness struct{}

const javascriptTemplate = `"use strict";
const __pfOut = (s) => process.stdout.write(s + "\n");
console.log = (...a) => console.error(...a);
console.info = console.log;

const __pfSource = %s;
const __pfName = %s;
const __pfParams = %s;

let __pfFn;
try {
  __pfFn = new Function("require", "module", "exports",
    __pfSource + "\n;return typeof " + __pfName + " === 'function' ? " + __pfName + " : undefined;")(require, module, exports);
} catch (e) {
  if (e instanceof SyntaxError) {
    console.error("SyntaxError: " + e.message);
    process.exit(1);
  }
  throw e;
}
if (typeof __pfFn !== "function") {
  console.error("%s: '" + __pfName + "' is not defined");
  process.exit(1);
}

const __pfRaw = require("fs").readFileSync(0, "utf8");
const __pfArgs = __pfRaw.trim() ? JSON.parse(__pfRaw) : {};
const __pfCallArgs = (__pfArgs !== null && typeof __pfArgs === "object" && !Array.isArray(__pfArgs))
  ? (__pfParams.length ? __pfParams.map((p) => __pfArgs[p]) : Object.values(__pfArgs))
  : [__pfArgs];

function __pfReplacer(key, value) {
  if (typeof value === "number" && !Number.isFinite(value)) {
    return Number.isNaN(value) ? "NaN" : (value > 0 ? "Infinity" : "-Infinity");
  }
  if (value instanceof Set) return Array.from(value).sort();
  if (value instanceof Map) return Object.fromEntries(value);
  if (typeof value === "bigint") return value.toString();
  if (value === undefined) return null;
  return value;
}

Promise.resolve(__pfFn(...__pfCallArgs)).then((result) => {
  __pfOut(JSON.stringify({ result: result === undefined ? null : result }, __pfReplacer));
}).catch((e) => {
  console.error(e && e.stack ? e.stack : String(e));
  process.exit(1);
});
`

func (javascriptHarness) Wrap(code string, entry EntryPoint) (string, error) {
	name := entry.name()
	if !ValidIdentifier(name) {
		return "", fmt.Errorf("invalid javascript entry point %q", name)
	}
	params := entry.Params
	if params == nil {
		params = []string{}
	}
	p, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	return fmt.Sprintf(javascriptTemplate, quote(code), quote(name), string(p), sandbox.FunctionNotFoundMarker), nil
}

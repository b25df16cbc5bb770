package cdpcontrol

import (
	"encoding/json"

	"github.com/dgnsrekt/navwatch/internal/router"
)

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// locationPayload is the data half of the read envelope.
type locationPayload struct {
	Fragment     string       `json:"fragment"`
	StateDefined bool         `json:"state_defined"`
	State        router.State `json:"state"`
}

func (p locationPayload) location() router.Location {
	return router.Location{Fragment: p.Fragment, State: p.State, StateDefined: p.StateDefined}
}

const jsLocationPreamble = `
var _st = window.history.state;
var _defined = typeof _st !== "undefined";
function _location() {
  return {fragment: String(window.location.hash || ""), state_defined: _defined, state: _defined ? _st : null};
}`

func jsReadLocation() string {
	return wrapJSEval(jsLocationPreamble + `
return JSON.stringify({ok:true,data:_location()});`)
}

// jsPushState pushes state without a URL argument when url is empty so the
// current URL is kept.
func jsPushState(state router.State, url string) string {
	call := `window.history.pushState(_next, "");`
	if url != "" {
		call = `window.history.pushState(_next, "", ` + jsString(url) + `);`
	}
	return wrapJSEval(`
var _next = ` + jsStateLiteral(state) + `;
` + call + jsLocationPreamble + `
return JSON.stringify({ok:true,data:_location()});`)
}

func jsStateLiteral(state router.State) string {
	if state.IsNull() {
		return "null"
	}
	var v any
	if err := json.Unmarshal(state, &v); err != nil {
		return "null"
	}
	return jsJSON(v)
}

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func buildIIFE(async bool, body string) string {
	prefix := "(function(){\n"
	if async {
		prefix = "(async function(){\n"
	}
	return prefix + `try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

func wrapJSEval(body string) string { return buildIIFE(false, body) }

// ReadLocationScript returns the expression that reports the tab's fragment
// and history state inside an evaluation envelope.
func ReadLocationScript() string { return jsReadLocation() }

// PushStateScript returns the expression that pushes state (and url when set).
func PushStateScript(state router.State, url string) string { return jsPushState(state, url) }

// DecodeLocation parses the envelope produced by ReadLocationScript or
// PushStateScript.
func DecodeLocation(raw string) (router.Location, error) {
	var out locationPayload
	if err := decodeEnvelope(raw, &out); err != nil {
		return router.Location{}, err
	}
	return out.location(), nil
}

// NewError builds a CodedError for adapters outside this package.
func NewError(code, msg string, cause error) error { return newError(code, msg, cause) }

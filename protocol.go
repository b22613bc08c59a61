package linerpc

import (
	"strconv"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Version is the only protocol version accepted in the "jsonrpc" member.
const Version = "2.0"

// ID identifies a request, or for out-of-band pushes, a task.
// It is either an integer or a string; the zero value is the integer 0.
type ID struct {
	str   string
	num   int64
	isStr bool
}

// IntID returns an integer ID.
func IntID(n int64) ID {
	return ID{num: n}
}

// StringID returns a string ID.
func StringID(s string) ID {
	return ID{str: s, isStr: true}
}

// IsString reports whether the ID holds a string.
func (id ID) IsString() bool {
	return id.isStr
}

// String returns the textual form of the ID without JSON quoting.
func (id ID) String() string {
	if id.isStr {
		return id.str
	}
	return strconv.FormatInt(id.num, 10)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return strconv.AppendInt(nil, id.num, 10), nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	switch jsontext.Value(data).Kind() {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	case '0':
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*id = IntID(n)
		return nil
	default:
		return errBadID
	}
}

// Request is an incoming envelope after structural validation.
type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      ID             `json:"id"`
	Method  string         `json:"method"`
	Params  jsontext.Value `json:"params,omitempty"`
}

// Response is a successful reply, or a push emitted by a background task.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      ID     `json:"id"`
	Result  any    `json:"result"`
}

// ErrorResponse is an error reply.
type ErrorResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      ID     `json:"id"`
	Error   *Error `json:"error"`
}

// Message is the decoded form of any outgoing envelope. Clients use it to
// tell results, errors and pushes apart without knowing the result type.
type Message struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      ID             `json:"id"`
	Result  jsontext.Value `json:"result,omitempty"`
	Error   *Error         `json:"error,omitempty"`
}

// IsError reports whether the message carries an error object.
func (m *Message) IsError() bool {
	return m.Error != nil
}

// DecodeResult unmarshals the result member into v.
func (m *Message) DecodeResult(v any) error {
	if len(m.Result) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(m.Result, v)
}

// DecodeRequest parses one input line.
//
// The returned Request is never nil: when validation fails after the id has
// been read, Request.ID holds it so the error reply can be correlated.
// Errors are always of type *Error.
func DecodeRequest(line []byte) (*Request, error) {
	req := &Request{JSONRPC: Version}

	// Duplicate member names are accepted and the last one wins.
	var fields map[string]jsontext.Value
	if err := json.Unmarshal(line, &fields, jsontext.AllowDuplicateNames(true)); err != nil {
		if !jsontext.Value(line).IsValid(jsontext.AllowDuplicateNames(true)) {
			return req, ErrParse(err)
		}
		return req, ErrInvalidRequest("request must be a JSON object")
	}

	if raw, ok := fields["id"]; ok {
		if err := json.Unmarshal(raw, &req.ID); err != nil {
			return req, ErrInvalidRequest("id must be an integer or a string")
		}
	}

	// An absent version member defaults to Version.
	if raw, ok := fields["jsonrpc"]; ok {
		var version string
		if err := json.Unmarshal(raw, &version); err != nil || version != Version {
			return req, ErrInvalidRequest(`jsonrpc must be "` + Version + `"`)
		}
	}

	raw, ok := fields["method"]
	if !ok {
		return req, ErrInvalidRequest("method is required")
	}
	if err := json.Unmarshal(raw, &req.Method); err != nil || req.Method == "" {
		return req, ErrInvalidRequest("method must be a non-empty string")
	}

	if raw, ok := fields["params"]; ok && raw.Kind() != 'n' {
		req.Params = raw
	}
	return req, nil
}

// EncodeLine marshals v as a single newline-terminated line.
func EncodeLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

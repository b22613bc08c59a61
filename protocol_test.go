package linerpc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/go-json-experiment/json"
)

func decodeError(t *testing.T, line string) (*Request, *Error) {
	t.Helper()
	req, err := DecodeRequest([]byte(line))
	if err == nil {
		t.Fatalf("DecodeRequest(%s) succeeded, want error", line)
	}
	if req == nil {
		t.Fatalf("DecodeRequest(%s) returned nil request", line)
	}
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("DecodeRequest(%s) error %T is not *Error", line, err)
	}
	return req, perr
}

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"jsonrpc":"2.0","id":"a-1","method":"hero.get","params":{"hero_name":"X"}}`))
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if req.ID != StringID("a-1") {
		t.Errorf("Expected id a-1, got %v", req.ID)
	}
	if req.Method != "hero.get" {
		t.Errorf("Expected method hero.get, got %s", req.Method)
	}
	if string(req.Params) != `{"hero_name":"X"}` {
		t.Errorf("Unexpected params %s", req.Params)
	}
}

func TestDecodeRequestDefaults(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"method":"healthy"}`))
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if req.ID != IntID(0) {
		t.Errorf("Expected default id 0, got %v", req.ID)
	}
	if req.JSONRPC != Version {
		t.Errorf("Expected version %s, got %s", Version, req.JSONRPC)
	}
	if len(req.Params) != 0 {
		t.Errorf("Expected no params, got %s", req.Params)
	}

	req, err = DecodeRequest([]byte(`{"jsonrpc":"2.0","id":3,"method":"healthy","params":null}`))
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if len(req.Params) != 0 {
		t.Errorf("Expected null params to be dropped, got %s", req.Params)
	}
}

func TestDecodeRequestDuplicateNamesLastWins(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"jsonrpc":"2.0","id":1,"id":2,"method":"nope","method":"echo","params":{"message":"x"}}`))
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if req.ID != IntID(2) {
		t.Errorf("Expected id 2, got %v", req.ID)
	}
	if req.Method != "echo" {
		t.Errorf("Expected method echo, got %s", req.Method)
	}
}

func TestDecodeRequestVersionMismatchKeepsID(t *testing.T) {
	tests := []struct {
		line string
		id   ID
	}{
		{`{"jsonrpc":"1.0","id":7,"method":"healthy"}`, IntID(7)},
		{`{"jsonrpc":"3","id":"abc","method":"healthy"}`, StringID("abc")},
		{`{"jsonrpc":2,"id":-4,"method":"healthy"}`, IntID(-4)},
		{`{"method":"healthy","jsonrpc":"","id":12}`, IntID(12)},
		{`{"jsonrpc":"1.0","method":"healthy"}`, IntID(0)},
	}
	for _, tt := range tests {
		req, perr := decodeError(t, tt.line)
		if perr.Code != CodeInvalidRequest {
			t.Errorf("%s: expected code %d, got %d", tt.line, CodeInvalidRequest, perr.Code)
		}
		if req.ID != tt.id {
			t.Errorf("%s: expected id %v, got %v", tt.line, tt.id, req.ID)
		}
	}
}

func TestDecodeRequestErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
		code int
	}{
		{"truncated object", `{`, CodeParseError},
		{"blank line", ``, CodeParseError},
		{"garbage", `hello`, CodeParseError},
		{"array", `[{"method":"healthy"}]`, CodeInvalidRequest},
		{"string", `"healthy"`, CodeInvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, CodeInvalidRequest},
		{"empty method", `{"jsonrpc":"2.0","id":1,"method":""}`, CodeInvalidRequest},
		{"numeric method", `{"jsonrpc":"2.0","id":1,"method":5}`, CodeInvalidRequest},
		{"boolean id", `{"jsonrpc":"2.0","id":true,"method":"healthy"}`, CodeInvalidRequest},
		{"fractional id", `{"jsonrpc":"2.0","id":1.5,"method":"healthy"}`, CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, perr := decodeError(t, tt.line)
			if perr.Code != tt.code {
				t.Errorf("Expected code %d, got %d (%v)", tt.code, perr.Code, perr)
			}
			if tt.code == CodeParseError && req.ID != IntID(0) {
				t.Errorf("Expected default id on parse error, got %v", req.ID)
			}
		})
	}
}

func TestDecodeRequestInvalidMethodKeepsID(t *testing.T) {
	req, perr := decodeError(t, `{"jsonrpc":"2.0","id":9}`)
	if perr.Code != CodeInvalidRequest {
		t.Errorf("Expected invalid request, got %d", perr.Code)
	}
	if req.ID != IntID(9) {
		t.Errorf("Expected id 9, got %v", req.ID)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	in := Response{JSONRPC: Version, ID: StringID("task-1"), Result: map[string]any{"hero_name": "X"}}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.JSONRPC != in.JSONRPC || out.ID != in.ID {
		t.Errorf("Envelope mismatch: %+v vs %+v", out, in)
	}
	result, ok := out.Result.(map[string]any)
	if !ok || result["hero_name"] != "X" {
		t.Errorf("Result mismatch: %#v", out.Result)
	}
}

func TestErrorResponseRoundTrip(t *testing.T) {
	in := ErrorResponse{JSONRPC: Version, ID: IntID(42), Error: NewError(CodeInvalidParams, "invalid params").WithData("detail")}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var out ErrorResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.ID != in.ID || out.JSONRPC != in.JSONRPC {
		t.Errorf("Envelope mismatch: %+v vs %+v", out, in)
	}
	if out.Error.Code != in.Error.Code || out.Error.Message != in.Error.Message || out.Error.Data != "detail" {
		t.Errorf("Error mismatch: %+v vs %+v", out.Error, in.Error)
	}
}

func TestMessageDistinguishesResultAndError(t *testing.T) {
	var msg Message
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found: x"}}`), &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !msg.IsError() || msg.Error.Code != CodeMethodNotFound {
		t.Errorf("Expected method not found error, got %+v", msg)
	}

	msg = Message{}
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":"t","result":{"exp":10}}`), &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if msg.IsError() {
		t.Fatal("Expected result message")
	}
	var result struct {
		Exp int `json:"exp"`
	}
	if err := msg.DecodeResult(&result); err != nil {
		t.Fatalf("DecodeResult failed: %v", err)
	}
	if result.Exp != 10 || msg.ID != StringID("t") {
		t.Errorf("Unexpected message %+v / %+v", msg, result)
	}
}

func TestEncodeLine(t *testing.T) {
	line, err := EncodeLine(Response{JSONRPC: Version, ID: IntID(1), Result: "multi\nline"})
	if err != nil {
		t.Fatalf("EncodeLine failed: %v", err)
	}
	if !bytes.HasSuffix(line, []byte("\n")) {
		t.Fatalf("Expected trailing newline in %q", line)
	}
	if n := bytes.Count(line, []byte("\n")); n != 1 {
		t.Errorf("Expected exactly one newline, got %d in %q", n, line)
	}
	want := `{"jsonrpc":"2.0","id":1,"result":"multi\nline"}` + "\n"
	if string(line) != want {
		t.Errorf("Expected %q, got %q", want, line)
	}
}

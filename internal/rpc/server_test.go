package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func serveLines(t *testing.T, server *Server) {
	t.Helper()
	if err := server.Serve(context.Background()); err != nil {
		t.Fatalf("serve: %v", err)
	}
}

func decodeResponses(t *testing.T, output *bytes.Buffer) []Response {
	t.Helper()
	var responses []Response
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var resp Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("unmarshal %q: %v", line, err)
		}
		responses = append(responses, resp)
	}
	return responses
}

func TestServerHandlesRequest(t *testing.T) {
	input := "{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"EngineGetInfo\",\"api_version\":\"1\"}\n"
	var output bytes.Buffer
	server := NewServer("1", strings.NewReader(input), &output, nil)
	server.Register("EngineGetInfo", func(ctx context.Context, params json.RawMessage) (any, *Error) {
		return map[string]any{"api_version": "1"}, nil
	})
	serveLines(t, server)

	responses := decodeResponses(t, &output)
	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}
	if responses[0].Error != nil {
		t.Fatalf("unexpected error: %v", responses[0].Error)
	}
	result := responses[0].Result.(map[string]any)
	if result["api_version"] != "1" {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestServerPreservesRequestOrder(t *testing.T) {
	input := "{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"Op\"}\n" +
		"{\"jsonrpc\":\"2.0\",\"id\":2,\"method\":\"Op\"}\n" +
		"{\"jsonrpc\":\"2.0\",\"id\":3,\"method\":\"Op\"}\n"
	var output bytes.Buffer
	server := NewServer("1", strings.NewReader(input), &output, nil)
	seq := 0
	server.Register("Op", func(ctx context.Context, params json.RawMessage) (any, *Error) {
		seq++
		return map[string]any{"seq": seq}, nil
	})
	serveLines(t, server)

	responses := decodeResponses(t, &output)
	if len(responses) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(responses))
	}
	for i, resp := range responses {
		if string(resp.ID) != fmt.Sprintf("%d", i+1) {
			t.Fatalf("expected responses in request order, got id %s at %d", resp.ID, i)
		}
		result := resp.Result.(map[string]any)
		if int(result["seq"].(float64)) != i+1 {
			t.Fatalf("expected sequential handling, got %v at %d", result["seq"], i)
		}
	}
}

func TestServerRejectsUnknownMethod(t *testing.T) {
	input := "{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"NoSuchMethod\"}\n"
	var output bytes.Buffer
	server := NewServer("1", strings.NewReader(input), &output, nil)
	serveLines(t, server)

	responses := decodeResponses(t, &output)
	if len(responses) != 1 || responses[0].Error == nil {
		t.Fatalf("expected a method-not-found error, got %+v", responses)
	}
}

func TestServerRejectsIncompatibleAPIVersion(t *testing.T) {
	input := "{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"EngineGetInfo\",\"api_version\":\"99\"}\n"
	var output bytes.Buffer
	server := NewServer("1", strings.NewReader(input), &output, nil)
	server.Register("EngineGetInfo", func(ctx context.Context, params json.RawMessage) (any, *Error) {
		return nil, nil
	})
	serveLines(t, server)

	responses := decodeResponses(t, &output)
	if len(responses) != 1 || responses[0].Error == nil {
		t.Fatalf("expected an api_version error, got %+v", responses)
	}
}

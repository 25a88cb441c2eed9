// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestGenerate(t *testing.T) {
	var captured MessagesRequest
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		resp := MessagesResponse{
			ID:      "msg_1",
			Content: []ContentBlock{{Type: "text", Text: "positive"}},
			Usage:   Usage{InputTokens: 12, OutputTokens: 3},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	client := NewClient(Config{APIKey: "test-key", Endpoint: server.URL, Model: "claude-test"})
	resp, err := client.Generate(context.Background(), "You label rows.", "Label: hi", nil)
	require.NoError(t, err)

	assert.Equal(t, "positive", resp.Content)
	assert.Equal(t, 12.0, resp.Metrics["input_tokens"])
	assert.Equal(t, 3.0, resp.Metrics["output_tokens"])

	assert.Equal(t, "claude-test", captured.Model)
	assert.Equal(t, "You label rows.", captured.System)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
}

func TestGenerateModelOverrideFromMetadata(t *testing.T) {
	var captured MessagesRequest
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(MessagesResponse{Content: []ContentBlock{{Type: "text", Text: "x"}}})
	})

	client := NewClient(Config{APIKey: "k", Endpoint: server.URL, Model: "base"})
	_, err := client.Generate(context.Background(), "s", "u", map[string]interface{}{"model": "override"})
	require.NoError(t, err)
	assert.Equal(t, "override", captured.Model)
}

func TestGenerateAPIError(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	})

	client := NewClient(Config{APIKey: "k", Endpoint: server.URL})
	_, err := client.Generate(context.Background(), "s", "u", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_limit_error")
	assert.Contains(t, err.Error(), "slow down")
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(Config{APIKey: "k"})
	assert.Equal(t, DefaultModel, client.Model())
	assert.Equal(t, DefaultEndpoint, client.endpoint)
	assert.Equal(t, DefaultMaxTokens, client.maxTokens)
	assert.Equal(t, DefaultTimeout, client.httpClient.Timeout)
	assert.Equal(t, "anthropic", client.Name())
}

func TestGenerateContextCancelled(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	client := NewClient(Config{APIKey: "k", Endpoint: server.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, "s", "u", nil)
	require.Error(t, err)
}

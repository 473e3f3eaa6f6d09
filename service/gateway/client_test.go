package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/luxera/rungate/runtime/run"
	"github.com/luxera/rungate/service/audit"
	"github.com/stretchr/testify/assert"
)

func TestClient_StartRun(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"run_id":       "run-001",
			"stream_token": "tok-abc",
		})
	}))
	defer server.Close()

	client := New(server.URL, WithToken("secret"))
	aRun, err := client.StartRun(context.Background(), "planner")
	assert.Nil(t, err)
	assert.Equal(t, "POST /agents/planner/run", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "run-001", aRun.ID)
	assert.Equal(t, "planner", aRun.WorkflowID)
	assert.Equal(t, "tok-abc", aRun.StreamToken)
	assert.Equal(t, run.StatusStarting, aRun.Status)
}

func TestClient_StartRun_EmptyRunID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	client := New(server.URL)
	_, err := client.StartRun(context.Background(), "planner")
	assert.NotNil(t, err)
}

func TestClient_Approve(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := New(server.URL)
	err := client.Approve(context.Background(), "run-7", false)
	assert.Nil(t, err)
	assert.Equal(t, "POST /runs/run-7/approve", gotPath)
	assert.Equal(t, map[string]interface{}{"approved": false}, gotBody)
}

func TestClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "run already stopped"})
	}))
	defer server.Close()

	client := New(server.URL)
	err := client.Stop(context.Background(), "run-9")
	assert.NotNil(t, err)
	apiErr := AsAPIError(err)
	if assert.NotNil(t, apiErr) {
		assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
		assert.Equal(t, "run already stopped", apiErr.Message)
	}
}

func TestClient_APIError_NoBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(server.URL)
	err := client.Stop(context.Background(), "run-9")
	apiErr := AsAPIError(err)
	if assert.NotNil(t, apiErr) {
		assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	}
}

func TestClient_Result(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/runs/run-3", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"outputs": map[string]interface{}{
				"report": map[string]interface{}{"format": "markdown", "payload": "# done"},
			},
			"summary": "all steps completed",
		})
	}))
	defer server.Close()

	client := New(server.URL)
	result, err := client.Result(context.Background(), "run-3")
	assert.Nil(t, err)
	assert.Equal(t, "all steps completed", result.Summary)
	assert.Contains(t, result.Outputs, "report")
}

func TestClient_RecordDecision(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := New(server.URL)
	decision := &audit.Decision{
		RequestID: "req-1",
		RunID:     "run-1",
		Agent:     "planner",
		Human:     "alice",
		Decision:  audit.OutcomeApproved,
		Timestamp: time.Now(),
		Reason:    "looks safe",
	}
	err := client.RecordDecision(context.Background(), decision)
	assert.Nil(t, err)
	assert.Equal(t, "POST /hitl/decisions", gotPath)
	assert.Equal(t, "req-1", gotBody["request_id"])
	assert.Equal(t, "approved", gotBody["decision"])

	assert.Equal(t, audit.ErrInvalidDecision, client.RecordDecision(context.Background(), nil))
}

func TestClient_StreamURL(t *testing.T) {
	client := New("http://backend.local/")
	assert.Equal(t, "http://backend.local/runs/run-5/stream", client.StreamURL("run-5"))
}

func TestClient_TokenSource(t *testing.T) {
	calls := 0
	source := TokenFunc(func(ctx context.Context) (string, error) {
		calls++
		return "resolved", nil
	})
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(server.URL, WithTokenSource(source))
	assert.Nil(t, client.Stop(context.Background(), "run-1"))
	assert.Nil(t, client.Stop(context.Background(), "run-1"))
	assert.Equal(t, "Bearer resolved", gotAuth)
	assert.Equal(t, 1, calls)
}

func TestClient_TokenConcurrent(t *testing.T) {
	var mux sync.Mutex
	calls := 0
	source := TokenFunc(func(ctx context.Context) (string, error) {
		mux.Lock()
		defer mux.Unlock()
		calls++
		return "resolved", nil
	})
	client := New("http://backend", WithTokenSource(source))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := client.Token(context.Background())
			assert.Nil(t, err)
			assert.Equal(t, "resolved", token)
		}()
	}
	wg.Wait()

	mux.Lock()
	defer mux.Unlock()
	assert.Equal(t, 1, calls)
}

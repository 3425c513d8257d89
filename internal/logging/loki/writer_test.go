package loki

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewWriter_Defaults(t *testing.T) {
	w := NewWriter(Config{
		URL: "http://localhost:3100",
	})

	if w.batchSize != 100 {
		t.Errorf("expected default batchSize 100, got %d", w.batchSize)
	}
	if w.flushInterval != 5*time.Second {
		t.Errorf("expected default flushInterval 5s, got %v", w.flushInterval)
	}
	if w.labels["job"] != "idclaim" {
		t.Errorf("expected default job label 'idclaim', got %q", w.labels["job"])
	}
}

func TestNewWriter_CustomConfig(t *testing.T) {
	w := NewWriter(Config{
		URL:           "http://localhost:3100",
		BatchSize:     50,
		FlushInterval: 10 * time.Second,
		Timeout:       30 * time.Second,
		Labels: map[string]string{
			"instance":  "api-3",
			"namespace": "instance-ids",
		},
	})

	if w.batchSize != 50 {
		t.Errorf("expected batchSize 50, got %d", w.batchSize)
	}
	if w.flushInterval != 10*time.Second {
		t.Errorf("expected flushInterval 10s, got %v", w.flushInterval)
	}
	if w.labels["instance"] != "api-3" {
		t.Errorf("expected instance label 'api-3', got %q", w.labels["instance"])
	}
	if w.labels["namespace"] != "instance-ids" {
		t.Errorf("expected namespace label 'instance-ids', got %q", w.labels["namespace"])
	}
	// job label should still be set
	if w.labels["job"] != "idclaim" {
		t.Errorf("expected job label 'idclaim', got %q", w.labels["job"])
	}
}

func TestWriter_Write_BuffersEntries(t *testing.T) {
	w := NewWriter(Config{
		URL:       "http://localhost:3100",
		BatchSize: 10,
	})

	testMsg := []byte(`{"level":"info","msg":"test message"}`)
	for i := 0; i < 5; i++ {
		n, err := w.Write(testMsg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != len(testMsg) {
			t.Errorf("expected n=%d, got %d", len(testMsg), n)
		}
	}

	w.mu.Lock()
	bufLen := len(w.buffer)
	w.mu.Unlock()

	if bufLen != 5 {
		t.Errorf("expected 5 buffered entries, got %d", bufLen)
	}
}

func TestWriter_Write_SkipsEmptyLines(t *testing.T) {
	w := NewWriter(Config{
		URL:       "http://localhost:3100",
		BatchSize: 10,
	})

	_, _ = w.Write([]byte(""))
	_, _ = w.Write([]byte("   "))
	_, _ = w.Write([]byte("\n"))
	_, _ = w.Write([]byte(`{"level":"info","msg":"real message"}`))

	w.mu.Lock()
	bufLen := len(w.buffer)
	w.mu.Unlock()

	if bufLen != 1 {
		t.Errorf("expected 1 buffered entry (empty lines skipped), got %d", bufLen)
	}
}

func TestWriter_StopFlushesBuffered(t *testing.T) {
	var requestCount atomic.Int32
	var payloadMu sync.Mutex
	var received lokiPushRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		body, _ := io.ReadAll(r.Body)
		payloadMu.Lock()
		_ = json.Unmarshal(body, &received)
		payloadMu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	w := NewWriter(Config{
		URL:       server.URL,
		BatchSize: 100,
		Labels:    map[string]string{"instance": "api-3"},
	})
	w.Start()

	_, _ = w.Write([]byte(`{"msg":"one"}`))
	_, _ = w.Write([]byte(`{"msg":"two"}`))
	w.Stop()

	if requestCount.Load() == 0 {
		t.Fatal("expected Stop to flush buffered entries")
	}

	payloadMu.Lock()
	defer payloadMu.Unlock()
	if len(received.Streams) != 1 {
		t.Fatalf("expected 1 stream, got %d", len(received.Streams))
	}
	if received.Streams[0].Stream["instance"] != "api-3" {
		t.Errorf("missing instance label in stream")
	}
	if got := len(received.Streams[0].Values); got != 2 {
		t.Errorf("expected 2 values, got %d", got)
	}
}

func TestWriter_Write_FlushesWhenBatchFull(t *testing.T) {
	flushed := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case flushed <- struct{}{}:
		default:
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	w := NewWriter(Config{
		URL:           server.URL,
		BatchSize:     2,
		FlushInterval: time.Hour, // only the batch-full trigger can flush
	})
	w.Start()
	defer w.Stop()

	_, _ = w.Write([]byte(`{"msg":"one"}`))
	_, _ = w.Write([]byte(`{"msg":"two"}`))

	select {
	case <-flushed:
	case <-time.After(5 * time.Second):
		t.Fatal("batch-full flush never happened")
	}
}

func TestWriter_CountsFlushErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	w := NewWriter(Config{URL: server.URL})
	_, _ = w.Write([]byte(`{"msg":"doomed"}`))
	w.flush()

	if w.FlushErrors() != 1 {
		t.Errorf("expected 1 flush error, got %d", w.FlushErrors())
	}
}

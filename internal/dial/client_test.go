package dial_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voicelink/voicelink/internal/dial"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*dial.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := dial.New(dial.Config{
		BaseURL:    srv.URL,
		AccountSid: "AC123",
		AuthToken:  "tok",
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

func TestDial_PlacesCall(t *testing.T) {
	var gotPath, gotUser, gotPass string
	var gotBody map[string]any

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(dial.Call{
			AccountSid: "AC123",
			CallSid:    "CA999",
			Status:     "queued",
		})
	})

	call, err := c.Dial(context.Background(), "+15550001111", "+15550002222", "MZ0001")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if gotPath != "/v1/calls" {
		t.Errorf("path = %q, want /v1/calls", gotPath)
	}
	if gotUser != "AC123" || gotPass != "tok" {
		t.Errorf("basic auth = %q/%q", gotUser, gotPass)
	}
	if gotBody["from"] != "+15550001111" || gotBody["to"] != "+15550002222" {
		t.Errorf("body from/to = %v/%v", gotBody["from"], gotBody["to"])
	}
	if gotBody["streamSid"] != "MZ0001" {
		t.Errorf("body streamSid = %v, want MZ0001", gotBody["streamSid"])
	}
	if call.CallSid != "CA999" {
		t.Errorf("CallSid = %q, want CA999", call.CallSid)
	}
	if call.Status != "queued" {
		t.Errorf("Status = %q, want queued", call.Status)
	}
}

func TestTerminate_SendsStopEvent(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	})

	call := dial.Call{AccountSid: "AC123", CallSid: "CA999"}
	if err := c.Terminate(context.Background(), call, "MZ0001"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	if gotPath != "/v1/calls/CA999/terminate" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["event"] != "stop" {
		t.Errorf("event = %v, want stop", gotBody["event"])
	}
	stop, ok := gotBody["stop"].(map[string]any)
	if !ok {
		t.Fatalf("stop payload missing: %v", gotBody)
	}
	if stop["accountSid"] != "AC123" || stop["callSid"] != "CA999" {
		t.Errorf("stop = %v", stop)
	}
}

func TestTerminate_UnknownCall(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	err := c.Terminate(context.Background(), dial.Call{CallSid: "CAnope"}, "")
	if !errors.Is(err, dial.ErrCallNotFound) {
		t.Fatalf("err = %v, want ErrCallNotFound", err)
	}
}

func TestDial_ServerErrorSurfaced(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := c.Dial(context.Background(), "+1", "+2", "")
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := dial.New(dial.Config{}); err == nil {
		t.Fatal("expected error for empty BaseURL")
	}
}

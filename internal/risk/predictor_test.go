package risk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wardkey.org/internal/activity"
)

func TestPredictorHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "model_trained": true})
	}))
	defer srv.Close()

	trained, err := NewPredictor(srv.URL).Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !trained {
		t.Fatalf("expected trained=true")
	}
}

func TestPredictSinglePayloadDefaults(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict/single" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"risk_score": 0.3, "risk_level": "low"})
	}))
	defer srv.Close()

	rec := activity.Record{
		UserID:    "u-1",
		Action:    "view_record",
		Timestamp: time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC),
		Success:   true,
	}
	score, level, err := NewPredictor(srv.URL).PredictSingle(context.Background(), rec)
	if err != nil {
		t.Fatalf("PredictSingle: %v", err)
	}
	if score != 0.3 || level != "low" {
		t.Fatalf("unexpected result: %v %s", score, level)
	}
	if got["username"] != "u-1" {
		t.Fatalf("username fallback = %v, want user id", got["username"])
	}
	if got["user_role"] != "employee" {
		t.Fatalf("user_role default = %v, want employee", got["user_role"])
	}
	if got["ip_address"] != "unknown" {
		t.Fatalf("ip_address default = %v, want unknown", got["ip_address"])
	}
	if got["device_type"] != "desktop" {
		t.Fatalf("device_type default = %v, want desktop", got["device_type"])
	}
	if got["session_period"] != float64(30) {
		t.Fatalf("session_period default = %v, want 30", got["session_period"])
	}
}

func TestPredictSingleOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"risk_score": 1.7})
	}))
	defer srv.Close()

	_, _, err := NewPredictor(srv.URL).PredictSingle(context.Background(), activity.Record{UserID: "u-1", Action: "x", Timestamp: time.Now()})
	if err == nil {
		t.Fatalf("expected out-of-range error")
	}
}

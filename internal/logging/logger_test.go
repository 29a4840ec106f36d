package logging

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
)

// captureStdout runs fn and returns everything it printed.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() error = %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()

	_ = w.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read captured stdout: %v", err)
	}
	return string(out)
}

func TestNew(t *testing.T) {
	logger := New("eventr-test")
	if logger == nil {
		t.Fatal("New() returned nil")
	}
	if logger.service != "eventr-test" {
		t.Errorf("New() service = %q, want %q", logger.service, "eventr-test")
	}
}

func TestLogEntryJSON(t *testing.T) {
	logger := New("eventr-test")
	out := captureStdout(t, func() {
		logger.Plain().
			WithEvent("ev-1").
			WithSubscription("sub-1").
			WithDelivery("del-1").
			WithField("attempt", 3).
			Info("delivered")
	})

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (line %q)", err, out)
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
	if entry["msg"] != "delivered" {
		t.Errorf("msg = %v, want delivered", entry["msg"])
	}
	if entry["service"] != "eventr-test" {
		t.Errorf("service = %v, want eventr-test", entry["service"])
	}
	if entry["event_id"] != "ev-1" || entry["subscription_id"] != "sub-1" || entry["delivery_id"] != "del-1" {
		t.Errorf("id fields = (%v, %v, %v)", entry["event_id"], entry["subscription_id"], entry["delivery_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok {
		t.Fatalf("fields missing: %v", entry)
	}
	if fields["attempt"] != float64(3) {
		t.Errorf("fields.attempt = %v, want 3", fields["attempt"])
	}
}

func TestWithError(t *testing.T) {
	logger := New("eventr-test")
	out := captureStdout(t, func() {
		logger.Plain().WithError(errors.New("boom")).Error("delivery failed")
	})

	var entry struct {
		Level  string         `json:"level"`
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry.Level != "error" {
		t.Errorf("level = %q, want error", entry.Level)
	}
	if entry.Fields["error"] != "boom" {
		t.Errorf("fields.error = %v, want boom", entry.Fields["error"])
	}
}

func TestWithErrorNil(t *testing.T) {
	e := New("eventr-test").Plain().WithError(nil)
	if _, ok := e.Fields["error"]; ok {
		t.Error("WithError(nil) added an error field")
	}
}

func TestEmptyFieldsOmitted(t *testing.T) {
	logger := New("eventr-test")
	out := captureStdout(t, func() {
		logger.Plain().Info("no fields")
	})
	if strings.Contains(out, `"fields"`) {
		t.Errorf("empty fields serialized: %q", out)
	}
}

func TestFormattedLevels(t *testing.T) {
	logger := New("eventr-test")
	out := captureStdout(t, func() {
		logger.Plain().Warnf("retry %d of %d", 2, 6)
	})
	if !strings.Contains(out, `"retry 2 of 6"`) {
		t.Errorf("Warnf output = %q, want formatted message", out)
	}
	if !strings.Contains(out, `"warn"`) {
		t.Errorf("Warnf output = %q, want warn level", out)
	}
}

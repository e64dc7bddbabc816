package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// TestEnvelopeJSONShape verifies envelope field names match the public API.
func TestEnvelopeJSONShape(t *testing.T) {
	env := SuccessEnvelope(map[string]string{"markdown": "# hi"}, 1)

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Failed to marshal envelope: %v", err)
	}

	jsonStr := string(data)
	for _, field := range []string{`"success":true`, `"data"`, `"creditsCost":1`} {
		if !strings.Contains(jsonStr, field) {
			t.Errorf("Expected %s in JSON: %s", field, jsonStr)
		}
	}
	if strings.Contains(jsonStr, `"error"`) {
		t.Errorf("Success envelope must not carry an error body: %s", jsonStr)
	}
}

func TestFailureEnvelopeZeroCost(t *testing.T) {
	env := FailureEnvelope("navigation failed")

	if env.Success {
		t.Error("Failure envelope reports success")
	}
	if env.CreditsCost != 0 {
		t.Errorf("Failure envelope creditsCost = %d, want 0", env.CreditsCost)
	}
	if env.Error == nil || env.Error.Message != "navigation failed" {
		t.Errorf("Failure envelope error = %+v", env.Error)
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Failed to marshal envelope: %v", err)
	}
	if !strings.Contains(string(data), `"creditsCost":0`) {
		t.Errorf("Expected creditsCost 0 in JSON: %s", data)
	}
}

func TestOperationCost(t *testing.T) {
	for _, kind := range []OperationKind{OpMarkdown, OpContent, OpLinks, OpScrape, OpScreenshot, OpPDF, OpSearch} {
		if got := kind.Cost(); got != 1 {
			t.Errorf("Cost(%s) = %d, want 1", kind, got)
		}
	}
	if got := OpExtract.Cost(); got != 2 {
		t.Errorf("Cost(%s) = %d, want 2", OpExtract, got)
	}
}

func TestFileRecordJSONFieldNames(t *testing.T) {
	rec := FileRecord{
		ID:        "a1b2c3d4e5f6",
		Kind:      FileKindScreenshot,
		SourceURL: "https://example.com",
		Filename:  "example_com_1700000000000.png",
		ObjectKey: "screenshots/abcd/2023-11-14/example_com_1700000000000.png",
		PublicURL: "https://cdn.example.dev/screenshots/abcd/2023-11-14/example_com_1700000000000.png",
		CreatedAt: time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Failed to marshal record: %v", err)
	}

	jsonStr := string(data)
	for _, field := range []string{`"id"`, `"kind"`, `"source_url"`, `"filename"`, `"object_key"`, `"public_url"`, `"created_at"`} {
		if !strings.Contains(jsonStr, field) {
			t.Errorf("Expected field %s not found in JSON: %s", field, jsonStr)
		}
	}
}

func TestSessionsExhaustedErrorUnwrap(t *testing.T) {
	err := NewSessionsExhaustedError("max_concurrent", 7*time.Second)

	if !errors.Is(err, ErrSessionsExhausted) {
		t.Error("SessionsExhaustedError does not unwrap to ErrSessionsExhausted")
	}
	if err.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %s, want 7s", err.RetryAfter)
	}

	var exhausted *SessionsExhaustedError
	if !errors.As(err, &exhausted) {
		t.Error("errors.As failed for SessionsExhaustedError")
	}
}

func TestSessionsExhaustedErrorDefaultRetry(t *testing.T) {
	err := NewSessionsExhaustedError("acquisitions", 0)
	if err.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %s, want a positive default", err.RetryAfter)
	}
}

func TestCreditErrorUnwrap(t *testing.T) {
	err := &CreditError{Balance: 1, Cost: 2}
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Error("CreditError does not unwrap to ErrInsufficientCredits")
	}
	if !strings.Contains(err.Error(), "balance 1") || !strings.Contains(err.Error(), "cost 2") {
		t.Errorf("CreditError message = %q", err.Error())
	}
}

func TestValidationErrorUnwrap(t *testing.T) {
	err := NewValidationError("waitTime", "waitTime cannot be negative")
	if !errors.Is(err, ErrInvalidRequest) {
		t.Error("ValidationError does not unwrap to ErrInvalidRequest")
	}
	if err.Error() != "waitTime: waitTime cannot be negative" {
		t.Errorf("ValidationError message = %q", err.Error())
	}
}

package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/imsks/pulse"
	"github.com/imsks/pulse/job"
)

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := job.NewRegistry()

	var got emailPayload
	def := job.NewDefinition("SEND_EMAIL", func(_ context.Context, p emailPayload) (any, error) {
		got = p
		return map[string]string{"status": "sent"}, nil
	})
	if err := job.RegisterDefinition(r, def); err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	h, ok := r.Get("SEND_EMAIL")
	if !ok {
		t.Fatal("expected handler to be registered")
	}

	payload, _ := json.Marshal(emailPayload{To: "alice@example.com", Subject: "Hello"})
	result, err := h(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.To != "alice@example.com" {
		t.Errorf("To = %q, want %q", got.To, "alice@example.com")
	}
	if string(result) != `{"status":"sent"}` {
		t.Errorf("result = %s, want %s", result, `{"status":"sent"}`)
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := job.NewRegistry()

	def := job.NewDefinition("SEND_EMAIL", func(_ context.Context, _ emailPayload) (any, error) {
		return nil, nil
	})
	if err := job.RegisterDefinition(r, def); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := job.RegisterDefinition(r, def)
	if !errors.Is(err, pulse.ErrHandlerExists) {
		t.Fatalf("second register error = %v, want ErrHandlerExists", err)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := job.NewRegistry()
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("expected no handler for unregistered job type")
	}
}

func TestRegistry_TypesSorted(t *testing.T) {
	r := job.NewRegistry()

	for _, name := range []string{"JOB_C", "JOB_A", "JOB_B"} {
		def := job.NewDefinition(name, func(_ context.Context, _ struct{}) (any, error) { return nil, nil })
		if err := job.RegisterDefinition(r, def); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	types := r.Types()
	expected := []string{"JOB_A", "JOB_B", "JOB_C"}
	if len(types) != len(expected) {
		t.Fatalf("expected %d types, got %d", len(expected), len(types))
	}
	for i, want := range expected {
		if types[i] != want {
			t.Errorf("types[%d] = %q, want %q", i, types[i], want)
		}
	}
}

func TestRegistry_Opts(t *testing.T) {
	r := job.NewRegistry()

	def := job.NewDefinition("SLOW_JOB",
		func(_ context.Context, _ struct{}) (any, error) { return nil, nil },
		job.WithMaxAttempts(5),
		job.WithTimeout(30*time.Second),
	)
	if err := job.RegisterDefinition(r, def); err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	opts, ok := r.Opts("SLOW_JOB")
	if !ok {
		t.Fatal("expected opts for registered type")
	}
	if opts.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", opts.MaxAttempts)
	}
	if opts.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", opts.Timeout)
	}
}

func TestRegistry_InvalidJSON(t *testing.T) {
	r := job.NewRegistry()
	def := job.NewDefinition("TYPED_JOB", func(_ context.Context, _ emailPayload) (any, error) {
		t.Fatal("handler should not be called with invalid JSON")
		return nil, nil
	})
	if err := job.RegisterDefinition(r, def); err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	h, _ := r.Get("TYPED_JOB")
	if _, err := h(context.Background(), []byte(`{invalid json`)); err == nil {
		t.Fatal("expected error for invalid JSON payload")
	}
}

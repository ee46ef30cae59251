package id_test

import (
	"encoding/json"
	"testing"

	"github.com/imsks/pulse/id"
)

func TestNewAndParseRoundtrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		newID  func() id.ID
		parse  func(string) (id.ID, error)
		prefix id.Prefix
	}{
		{"job", func() id.ID { return id.NewJobID() }, id.ParseJobID, id.PrefixJob},
		{"dlq", func() id.ID { return id.NewDLQID() }, id.ParseDLQID, id.PrefixDLQ},
		{"worker", func() id.ID { return id.NewWorkerID() }, id.ParseWorkerID, id.PrefixWorker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generated := tt.newID()
			if generated.IsNil() {
				t.Fatal("generated ID is nil")
			}
			if generated.Prefix() != tt.prefix {
				t.Errorf("Prefix = %q, want %q", generated.Prefix(), tt.prefix)
			}

			parsed, err := tt.parse(generated.String())
			if err != nil {
				t.Fatalf("parse %q: %v", generated.String(), err)
			}
			if parsed != generated {
				t.Errorf("roundtrip mismatch: %v != %v", parsed, generated)
			}
		})
	}
}

func TestParseWithPrefixRejectsWrongPrefix(t *testing.T) {
	t.Parallel()

	jobID := id.NewJobID()
	if _, err := id.ParseDLQID(jobID.String()); err == nil {
		t.Errorf("ParseDLQID accepted a job ID %q", jobID.String())
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "not-a-typeid", "job_!!!"} {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", s)
		}
	}
}

func TestJSONRoundtrip(t *testing.T) {
	t.Parallel()

	orig := id.NewJobID()
	b, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded id.JobID
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != orig {
		t.Errorf("roundtrip mismatch: %v != %v", decoded, orig)
	}
}

func TestNilID(t *testing.T) {
	t.Parallel()

	var zero id.ID
	if !zero.IsNil() {
		t.Error("zero ID should be nil")
	}
	if zero.String() != "" {
		t.Errorf("nil ID String = %q, want empty", zero.String())
	}
}

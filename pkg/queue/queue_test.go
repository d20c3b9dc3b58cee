package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type payload struct {
	RunID   string   `json:"run_id"`
	Symbols []string `json:"symbols"`
}

func TestParsePayload(t *testing.T) {
	want := payload{RunID: "r1", Symbols: []string{"AAA"}}
	raw, _ := json.Marshal(want)

	var generic map[string]interface{}
	_ = json.Unmarshal(raw, &generic)

	for name, in := range map[string]interface{}{
		"value":   want,
		"pointer": &want,
		"map":     generic,
		"raw":     json.RawMessage(raw),
	} {
		got, err := ParsePayload[payload](in)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got.RunID != "r1" || len(got.Symbols) != 1 {
			t.Errorf("%s: got %+v", name, got)
		}
	}

	if _, err := ParsePayload[payload](42); err == nil {
		t.Fatal("expected error for unsupported payload")
	}
}

func TestSettle(t *testing.T) {
	failed := errors.New("store down")
	tests := []struct {
		name     string
		attempts int
		err      error
		stopping bool
		want     outcome
	}{
		{"success", 0, nil, false, outcomeDone},
		{"first failure retries", 0, failed, false, outcomeRetry},
		{"last retry", 1, failed, false, outcomeRetry},
		{"exhausted", 2, failed, false, outcomeDead},
		{"interrupted by shutdown", 2, context.Canceled, true, outcomeAbandoned},
		{"job timeout is a failure", 0, context.DeadlineExceeded, false, outcomeRetry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := settle(Message{Attempts: tt.attempts}, 2, tt.err, tt.stopping)
			if got != tt.want {
				t.Fatalf("settle = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	var nilCfg *Config
	c := nilCfg.withDefaults()
	if c.Workers != 1 || c.RetryDelay != 10*time.Second || c.PollTimeout != time.Second {
		t.Fatalf("defaults = %+v", c)
	}
	c = (&Config{Workers: 4, RetryDelay: time.Minute}).withDefaults()
	if c.Workers != 4 || c.RetryDelay != time.Minute {
		t.Fatalf("explicit values lost: %+v", c)
	}
}

func TestParsePayloadBytes(t *testing.T) {
	got, err := ParsePayload[payload]([]byte(`{"run_id":"r2","symbols":["A","B"]}`))
	if err != nil || got.RunID != "r2" || len(got.Symbols) != 2 {
		t.Fatalf("got %+v, %v", got, err)
	}
}

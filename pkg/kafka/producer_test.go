package kafka

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
)

func TestEncodeValue(t *testing.T) {
	cases := []struct {
		in   interface{}
		want string
	}{
		{[]byte("raw"), "raw"},
		{"text", "text"},
		{map[string]int{"trades": 3}, `{"trades":3}`},
	}
	for _, c := range cases {
		got, err := encodeValue(c.in)
		if err != nil {
			t.Fatalf("encode %v: %v", c.in, err)
		}
		if string(got) != c.want {
			t.Errorf("encode %v = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestCompressionCodec(t *testing.T) {
	if c, err := compressionCodec("zstd"); err != nil || c != kafka.Zstd {
		t.Errorf("zstd = %v, %v", c, err)
	}
	if _, err := compressionCodec("bogus"); err == nil {
		t.Error("unknown codec should be rejected")
	}
}

func TestNewProducerValidates(t *testing.T) {
	reg := prometheus.NewRegistry()
	tests := []struct {
		name string
		opts []ProducerOption
	}{
		{"no brokers", nil},
		{"bad codec", []ProducerOption{WithBrokers([]string{"localhost:9092"}), WithCompression("brotli")}},
		{"bad acks", []ProducerOption{WithBrokers([]string{"localhost:9092"}), WithDelivery(2, 3)}},
	}
	for _, tt := range tests {
		if _, err := NewProducer(append(tt.opts, WithRegisterer(reg))...); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestPublishBatchRejectsUnencodableValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithRegisterer(reg))
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	defer p.Close()

	err = p.PublishBatch(context.Background(), "backtest.reports", []Message{{Value: "ok"}, {Value: make(chan int)}})
	if err == nil || !strings.Contains(err.Error(), "message 1") {
		t.Fatalf("expected encode error for message 1, got %v", err)
	}
	if n := testutil.CollectAndCount(p.metrics.messages); n != 0 {
		t.Fatalf("nothing should be recorded before a write, got %d series", n)
	}
}

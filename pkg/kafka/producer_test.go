package kafka

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	kafkago "github.com/segmentio/kafka-go"
)

func TestNewProducerRequiresBrokers(t *testing.T) {
	if _, err := NewProducer(); err == nil {
		t.Fatalf("expected error without brokers")
	}
}

func TestNewProducerRegistersMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewProducer(WithBrokers([]string{"127.0.0.1:1"}), WithTopic("trials"), WithRegisterer(reg))
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	defer p.Close()

	if p.writer.Compression != kafkago.Gzip {
		t.Fatalf("unexpected compression %v", p.writer.Compression)
	}
	if err := p.PublishBatch(context.Background(), "", nil); err != nil {
		t.Fatalf("empty batch must be a no-op: %v", err)
	}
	p.m.observe("trials", "gzip", 10, 1, 0, nil)
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected producer metrics on the registry")
	}
}

func TestParseCompression(t *testing.T) {
	cases := map[string]kafkago.Compression{
		"gzip":   kafkago.Gzip,
		"snappy": kafkago.Snappy,
		"lz4":    kafkago.Lz4,
		"zstd":   kafkago.Zstd,
		"bogus":  kafkago.Gzip,
	}
	for in, want := range cases {
		if got := parseCompression(in); got != want {
			t.Fatalf("parseCompression(%q) = %v, want %v", in, got, want)
		}
	}
}

package mqtt

import "testing"

func TestPublishBeforeStartFails(t *testing.T) {
	p := NewEdgePublisher("127.0.0.1", 1883, Options{})
	if err := p.Publish("x1", 1); err == nil {
		t.Fatalf("expected Publish before Start to fail")
	}
}

func TestNewEdgePublisherDefaultsTopic(t *testing.T) {
	p := NewEdgePublisher("broker.example.com", 1883, Options{})
	if p.opts.Topic != "s7/triggers" {
		t.Fatalf("topic = %q, want default s7/triggers", p.opts.Topic)
	}
}

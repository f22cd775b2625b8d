package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

func dlqValue(t *testing.T, payload any) []byte {
	t.Helper()

	raw, err := json.Marshal(map[string]any{
		"outbox_id":        "outbox-1",
		"aggregate_type":   domain.AggregateOrder,
		"aggregate_id":     "order-1",
		"event_type":       domain.EventOrderStatusChanged,
		"payload":          payload,
		"publish_error":    "kafka: broker not available",
		"dlq_published_at": "2026-01-02T03:04:05Z",
	})
	if err != nil {
		t.Fatalf("marshal dlq record: %v", err)
	}
	return raw
}

func TestParseBrokers(t *testing.T) {
	brokers := parseBrokers(" broker-1:9092, ,broker-2:9092 ")
	if len(brokers) != 2 || brokers[0] != "broker-1:9092" || brokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %+v", brokers)
	}
}

func TestExtractReplayMessage_OutboxRecord(t *testing.T) {
	msg := &sarama.ConsumerMessage{
		Topic: kafka.TopicDeadLetterQueue,
		Value: dlqValue(t, map[string]any{"status": "confirmed"}),
	}

	got, ok, err := extractReplayMessage(msg, "")
	if err != nil || !ok {
		t.Fatalf("expected replay candidate, got ok=%v err=%v", ok, err)
	}
	if got.topic != kafka.TopicOrderEvents {
		t.Errorf("unexpected topic: %s", got.topic)
	}
	if got.key != "order-1" {
		t.Errorf("unexpected key: %s", got.key)
	}
	if got.headers[kafka.HeaderEventType] != domain.EventOrderStatusChanged || got.headers[headerReplayedFrom] != kafka.TopicDeadLetterQueue {
		t.Errorf("unexpected headers: %+v", got.headers)
	}

	var envelope kafka.Envelope
	if err := json.Unmarshal(got.value, &envelope); err != nil {
		t.Fatalf("replay value must be an envelope: %v", err)
	}
	if envelope.ID != "outbox-1" || envelope.AggregateID != "order-1" || envelope.EventType != domain.EventOrderStatusChanged {
		t.Errorf("unexpected envelope: %+v", envelope)
	}
	if string(envelope.Payload) != `{"status":"confirmed"}` {
		t.Errorf("original payload must be restored, got %s", envelope.Payload)
	}
}

func TestExtractReplayMessage_TopicPriority(t *testing.T) {
	value := dlqValue(t, map[string]any{"status": "confirmed"})
	withHeader := &sarama.ConsumerMessage{
		Value: value,
		Headers: []*sarama.RecordHeader{
			{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte("storefront.custom")},
		},
	}

	testCases := []struct {
		name     string
		msg      *sarama.ConsumerMessage
		override string
		want     string
	}{
		{name: "override wins", msg: withHeader, override: "storefront.replay", want: "storefront.replay"},
		{name: "original topic header", msg: withHeader, want: "storefront.custom"},
		{name: "aggregate routing", msg: &sarama.ConsumerMessage{Value: value}, want: kafka.TopicOrderEvents},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok, err := extractReplayMessage(tc.msg, tc.override)
			if err != nil || !ok {
				t.Fatalf("expected replay candidate, got ok=%v err=%v", ok, err)
			}
			if got.topic != tc.want {
				t.Fatalf("topic = %s, want %s", got.topic, tc.want)
			}
		})
	}
}

func TestExtractReplayMessage_SkipsAndErrors(t *testing.T) {
	testCases := []struct {
		name    string
		value   []byte
		wantErr bool
	}{
		{name: "not json", value: []byte("garbage")},
		{name: "foreign payload", value: []byte(`{"foo":"bar"}`)},
		{name: "null payload", value: dlqValue(t, nil), wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: tc.value}, "")
			if ok {
				t.Fatal("expected message to be skipped")
			}
			if (err != nil) != tc.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestReadConfig(t *testing.T) {
	env := func(values map[string]string) func(string) (string, bool) {
		return func(key string) (string, bool) {
			v, ok := values[key]
			return v, ok
		}
	}

	t.Run("flags", func(t *testing.T) {
		fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
		cfg, err := readConfig(fs, []string{
			"-brokers=b1:9092,b2:9092", "-target-topic=storefront.replay", "-limit=5", "-execute", "-from-newest", "-idle-timeout=1s",
		}, env(nil))
		if err != nil {
			t.Fatalf("readConfig failed: %v", err)
		}
		if len(cfg.brokers) != 2 || cfg.sourceTopic != kafka.TopicDeadLetterQueue || cfg.targetTopic != "storefront.replay" {
			t.Fatalf("unexpected config: %+v", cfg)
		}
		if cfg.limit != 5 || !cfg.execute || !cfg.fromNewest || cfg.idleTimeout != time.Second {
			t.Fatalf("unexpected config: %+v", cfg)
		}
	})

	t.Run("env brokers", func(t *testing.T) {
		fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
		cfg, err := readConfig(fs, nil, env(map[string]string{envKafkaBrokers: "env:9092"}))
		if err != nil {
			t.Fatalf("readConfig failed: %v", err)
		}
		if len(cfg.brokers) != 1 || cfg.brokers[0] != "env:9092" || cfg.execute {
			t.Fatalf("unexpected config: %+v", cfg)
		}
	})

	invalid := map[string][]string{
		"no brokers":   nil,
		"empty source": {"-brokers=b:9092", "-source-topic= "},
		"zero limit":   {"-brokers=b:9092", "-limit=0"},
		"zero idle":    {"-brokers=b:9092", "-idle-timeout=0s"},
		"unknown flag": {"-brokers=b:9092", "-nope"},
	}
	for name, args := range invalid {
		t.Run(name, func(t *testing.T) {
			fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
			fs.SetOutput(io.Discard)
			if _, err := readConfig(fs, args, env(nil)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestProcessPartition_DryRun(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{
				{Offset: 0, Value: dlqValue(t, map[string]any{"status": "confirmed"})},
				{Offset: 1, Value: []byte(`{"foo":"bar"}`)},
			}),
		},
	}
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, idleTimeout: 20 * time.Millisecond}

	stats, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 10)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats != (replayStats{processed: 2, replayed: 1, skipped: 1}) {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(consumer.calls) != 1 || consumer.calls[0].offset != 0 {
		t.Fatalf("unexpected consume calls: %+v", consumer.calls)
	}
}

func TestProcessPartition_ExecuteFromNewest(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 3, newest: 10}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{
				{Offset: 8, Value: dlqValue(t, map[string]any{"n": 1})},
				{Offset: 9, Value: dlqValue(t, map[string]any{"n": 2})},
			}),
		},
	}
	producer := &stubReplayProducer{}
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, execute: true, fromNewest: true, idleTimeout: 20 * time.Millisecond}

	stats, err := processPartition(context.Background(), consumer, client, producer, cfg, 0, 2)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats.replayed != 2 || len(producer.sent) != 2 {
		t.Fatalf("expected two replays, got stats=%+v sent=%d", stats, len(producer.sent))
	}
	if consumer.calls[0].offset != 8 {
		t.Fatalf("expected start offset 8, got %d", consumer.calls[0].offset)
	}
	if producer.sent[0].topic != kafka.TopicOrderEvents {
		t.Fatalf("unexpected replay topic: %s", producer.sent[0].topic)
	}
}

func TestProcessPartition_Errors(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, execute: true, idleTimeout: 20 * time.Millisecond}
	message := []*sarama.ConsumerMessage{{Offset: 0, Value: dlqValue(t, map[string]any{"n": 1})}}

	t.Run("offset", func(t *testing.T) {
		client := &stubOffsetClient{offsetErr: errors.New("boom")}
		if _, err := processPartition(context.Background(), &stubPartitionConsumerSource{}, client, nil, cfg, 0, 1); err == nil {
			t.Fatal("expected offset error")
		}
	})

	t.Run("consume", func(t *testing.T) {
		client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
		source := &stubPartitionConsumerSource{consumeErr: errors.New("boom")}
		if _, err := processPartition(context.Background(), source, client, nil, cfg, 0, 1); err == nil {
			t.Fatal("expected consume error")
		}
	})

	t.Run("publish", func(t *testing.T) {
		client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
		source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: closedPartitionConsumer(message)}}
		producer := &stubReplayProducer{err: errors.New("broker down")}
		if _, err := processPartition(context.Background(), source, client, producer, cfg, 0, 1); err == nil {
			t.Fatal("expected publish error")
		}
	})

	t.Run("empty partition", func(t *testing.T) {
		client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 5, newest: 5}}}
		stats, err := processPartition(context.Background(), &stubPartitionConsumerSource{}, client, nil, cfg, 0, 1)
		if err != nil || stats.processed != 0 {
			t.Fatalf("expected no-op, got %+v %v", stats, err)
		}
	})

	t.Run("context canceled", func(t *testing.T) {
		client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
		pc := &stubPartitionConsumer{
			messages: make(chan *sarama.ConsumerMessage),
			errors:   make(chan *sarama.ConsumerError),
		}
		source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pc}}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		slow := cfg
		slow.idleTimeout = time.Minute
		if _, err := processPartition(ctx, source, client, nil, slow, 0, 1); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

func TestRunReplay(t *testing.T) {
	client := &stubOffsetClient{
		partitions: []int32{1, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 1},
			1: {oldest: 0, newest: 1},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: dlqValue(t, map[string]any{"n": 0})}}),
			1: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 1, Offset: 0, Value: dlqValue(t, map[string]any{"n": 1})}}),
		},
	}
	producer := &stubReplayProducer{}
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, limit: 1, execute: true, idleTimeout: 20 * time.Millisecond}

	stats, err := runReplay(context.Background(), cfg, client, consumer, producer)
	if err != nil {
		t.Fatalf("runReplay failed: %v", err)
	}
	if stats.replayed != 1 || len(consumer.calls) != 1 || consumer.calls[0].partition != 0 {
		t.Fatalf("limit must stop after the first partition: stats=%+v calls=%+v", stats, consumer.calls)
	}

	if _, err := runReplay(context.Background(), cfg, client, consumer, nil); err == nil {
		t.Fatal("expected error without producer in execute mode")
	}
	if _, err := runReplay(context.Background(), cfg, nil, nil, nil); err == nil {
		t.Fatal("expected error without client")
	}
}

func TestRun_UsesDependencies(t *testing.T) {
	original := newReplayDependencies
	defer func() { newReplayDependencies = original }()

	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 0}}}
	consumer := &stubPartitionConsumerSource{}
	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, consumer, nil, nil
	}

	if err := run(context.Background(), config{sourceTopic: kafka.TopicDeadLetterQueue, limit: 1, idleTimeout: time.Millisecond}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !client.closed || !consumer.closed {
		t.Fatal("run must close kafka dependencies")
	}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return nil, nil, nil, errors.New("no brokers")
	}
	if err := run(context.Background(), config{}); err == nil {
		t.Fatal("expected dependency error")
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions []int32
	offsets    map[int32]offsetRange
	offsetErr  error
	closed     bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if s.offsetErr != nil {
		return 0, s.offsetErr
	}
	r := s.offsets[partition]
	if marker == sarama.OffsetOldest {
		return r.oldest, nil
	}
	return r.newest, nil
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	return s.partitions, nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	return s.consumers[partition], nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error                             { return nil }

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	pc := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage, len(messages)),
		errors:   make(chan *sarama.ConsumerError),
	}
	for _, msg := range messages {
		pc.messages <- msg
	}
	close(pc.messages)
	return pc
}

type sentMessage struct {
	topic string
	key   string
	value []byte
}

type stubReplayProducer struct {
	sent []sentMessage
	err  error
}

func (s *stubReplayProducer) Send(topic, key string, value []byte, _ map[string]string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{topic: topic, key: key, value: value})
	return nil
}

func (s *stubReplayProducer) Close() error { return nil }

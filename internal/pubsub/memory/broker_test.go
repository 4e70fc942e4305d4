package memory

import (
	"context"
	"testing"
	"time"

	"github.com/jayaprabhakar/venice/internal/pubsub"
)

func putMsg(value byte) pubsub.Message {
	return pubsub.Message{
		Type: pubsub.MessageTypePut,
		Put: &pubsub.Put{
			SchemaID:                   1,
			Value:                      []byte{value},
			ReplicationMetadataPayload: []byte{},
		},
	}
}

func TestSubscribeEarliestDeliversAll(t *testing.T) {
	log := NewLog()
	base := time.Now()
	for i := range 3 {
		log.Append("t_v1", 0, []byte{byte(i)}, putMsg(byte(i)), base.Add(time.Duration(i)*time.Second))
	}

	c := NewConsumer(log)
	tp := pubsub.TopicPartition{Topic: "t_v1", Partition: 0}
	if err := c.Subscribe(context.Background(), tp, pubsub.EarliestOffset); err != nil {
		t.Fatal(err)
	}

	batches, err := c.Poll(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	envs := batches[tp]
	if len(envs) != 3 {
		t.Fatalf("expected 3 envelopes, got %d", len(envs))
	}
	for i, env := range envs {
		if env.Offset != int64(i) {
			t.Errorf("envelope %d: offset %d", i, env.Offset)
		}
	}
}

func TestSubscribeResumesAfterOffset(t *testing.T) {
	log := NewLog()
	for i := range 4 {
		log.Append("t_v1", 0, nil, putMsg(byte(i)), time.Now())
	}

	c := NewConsumer(log)
	tp := pubsub.TopicPartition{Topic: "t_v1", Partition: 0}
	// "Resume after 1": first delivered record is offset 2.
	if err := c.Subscribe(context.Background(), tp, 1); err != nil {
		t.Fatal(err)
	}
	batches, err := c.Poll(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	envs := batches[tp]
	if len(envs) != 2 || envs[0].Offset != 2 {
		t.Fatalf("expected offsets [2 3], got %+v", envs)
	}
}

func TestPollAdvancesCursor(t *testing.T) {
	log := NewLog()
	log.Append("t_v1", 0, nil, putMsg(1), time.Now())

	c := NewConsumer(log)
	tp := pubsub.TopicPartition{Topic: "t_v1", Partition: 0}
	if err := c.Subscribe(context.Background(), tp, pubsub.EarliestOffset); err != nil {
		t.Fatal(err)
	}
	if batches, _ := c.Poll(context.Background(), time.Second); len(batches[tp]) != 1 {
		t.Fatal("expected first poll to deliver")
	}
	// Nothing new: poll times out empty.
	if batches, _ := c.Poll(context.Background(), 10*time.Millisecond); len(batches) != 0 {
		t.Fatal("expected empty poll")
	}
	// New append becomes visible.
	log.Append("t_v1", 0, nil, putMsg(2), time.Now())
	batches, _ := c.Poll(context.Background(), time.Second)
	if envs := batches[tp]; len(envs) != 1 || envs[0].Offset != 1 {
		t.Fatalf("expected offset 1, got %+v", envs)
	}
}

func TestPauseResume(t *testing.T) {
	log := NewLog()
	log.Append("t_v1", 0, nil, putMsg(1), time.Now())

	c := NewConsumer(log)
	tp := pubsub.TopicPartition{Topic: "t_v1", Partition: 0}
	if err := c.Subscribe(context.Background(), tp, pubsub.EarliestOffset); err != nil {
		t.Fatal(err)
	}
	c.Pause(tp)
	if batches, _ := c.Poll(context.Background(), 10*time.Millisecond); len(batches) != 0 {
		t.Fatal("paused partition must not deliver")
	}
	c.Resume(tp)
	if batches, _ := c.Poll(context.Background(), time.Second); len(batches[tp]) != 1 {
		t.Fatal("resumed partition must deliver")
	}
}

func TestAssignmentMirrorsSubscriptions(t *testing.T) {
	c := NewConsumer(NewLog())
	tp := pubsub.TopicPartition{Topic: "t_v1", Partition: 0}
	if err := c.Subscribe(context.Background(), tp, pubsub.EarliestOffset); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Assignment()[tp]; !ok {
		t.Fatal("expected tp in assignment")
	}
	if err := c.Unsubscribe(context.Background(), tp); err != nil {
		t.Fatal(err)
	}
	if len(c.Assignment()) != 0 {
		t.Fatal("expected empty assignment")
	}
}

func TestEndOffset(t *testing.T) {
	log := NewLog()
	c := NewConsumer(log)
	tp := pubsub.TopicPartition{Topic: "t_v1", Partition: 0}

	if off, _ := c.EndOffset(context.Background(), tp); off != -1 {
		t.Fatalf("empty partition end offset: %d", off)
	}
	log.Append("t_v1", 0, nil, putMsg(1), time.Now())
	log.Append("t_v1", 0, nil, putMsg(2), time.Now())
	if off, _ := c.EndOffset(context.Background(), tp); off != 1 {
		t.Fatalf("end offset: %d", off)
	}
}

func TestOffsetForTime(t *testing.T) {
	log := NewLog()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := range 3 {
		log.Append("t_v1_cc", 0, nil, putMsg(byte(i)), base.Add(time.Duration(i)*time.Minute))
	}

	c := NewConsumer(log)
	tp := pubsub.TopicPartition{Topic: "t_v1_cc", Partition: 0}

	off, ok, _ := c.OffsetForTime(context.Background(), tp, base.Add(30*time.Second))
	if !ok || off != 1 {
		t.Fatalf("expected offset 1, got %d ok=%v", off, ok)
	}
	_, ok, _ = c.OffsetForTime(context.Background(), tp, base.Add(time.Hour))
	if ok {
		t.Fatal("expected no offset past the last record")
	}
}

func TestBatchLimit(t *testing.T) {
	log := NewLog()
	for i := range 5 {
		log.Append("t_v1", 0, nil, putMsg(byte(i)), time.Now())
	}
	c := NewConsumer(log)
	c.SetBatchLimit(2)
	tp := pubsub.TopicPartition{Topic: "t_v1", Partition: 0}
	if err := c.Subscribe(context.Background(), tp, pubsub.EarliestOffset); err != nil {
		t.Fatal(err)
	}
	batches, _ := c.Poll(context.Background(), time.Second)
	if len(batches[tp]) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(batches[tp]))
	}
	batches, _ = c.Poll(context.Background(), time.Second)
	if envs := batches[tp]; len(envs) != 2 || envs[0].Offset != 2 {
		t.Fatalf("expected offsets [2 3], got %+v", envs)
	}
}

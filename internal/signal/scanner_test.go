package signal

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	posts map[string][]Post
	fail  map[string]error
}

func (s *stubSource) Fetch(_ context.Context, community string, _ int) ([]Post, error) {
	if err := s.fail[community]; err != nil {
		return nil, err
	}
	return s.posts[community], nil
}

type recordingPublisher struct {
	published []Signal
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, signals []Signal) error {
	p.published = append(p.published, signals...)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func TestScannerSkipsFailingCommunity(t *testing.T) {
	source := &stubSource{
		posts: map[string][]Post{"memecoins": {{ID: "1", Title: "buying $PEPE", Upvotes: 10}}},
		fail:  map[string]error{"broken": errors.New("429 too many requests")},
	}
	publisher := &recordingPublisher{}
	scanner := NewScanner(source, nil, publisher, 0)

	signals, err := scanner.Scan(context.Background(), []string{"broken", "memecoins"})
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, signals, publisher.published)
}

func TestScannerAllCommunitiesFail(t *testing.T) {
	source := &stubSource{fail: map[string]error{"a": errors.New("down")}}
	_, err := NewScanner(source, nil, nil, 10).Scan(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
}

func TestScannerReturnsSignalsWhenPublishFails(t *testing.T) {
	source := &stubSource{posts: map[string][]Post{"a": {{ID: "1", Title: "selling $ETH"}}}}
	publisher := &recordingPublisher{err: errors.New("broker unavailable")}

	signals, err := NewScanner(source, nil, publisher, 10).Scan(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Len(t, signals, 1)
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisherKeysByToken(t *testing.T) {
	writer := &fakeWriter{}
	publisher := &KafkaPublisher{writer: writer}

	err := publisher.Publish(context.Background(), []Signal{
		{Action: ActionBuy, Token: "PEPE", Confidence: 0.8, Source: Source{PostID: "p1"}},
		{Action: ActionSell, Token: "ETH", Confidence: 0.4, Source: Source{PostID: "p2"}},
	})
	require.NoError(t, err)
	require.Len(t, writer.msgs, 2)
	assert.Equal(t, "PEPE", string(writer.msgs[0].Key))
	assert.Contains(t, string(writer.msgs[0].Value), `"action":"buy"`)
	assert.Equal(t, "sell", string(writer.msgs[1].Headers[0].Value))

	require.NoError(t, publisher.Publish(context.Background(), nil))
	assert.Len(t, writer.msgs, 2)
}

func TestNewKafkaPublisherRequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{})
	require.Error(t, err)
}

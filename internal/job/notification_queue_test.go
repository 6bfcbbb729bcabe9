package job

import (
	"container/heap"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fx-insight/internal/logging"
	"github.com/fx-insight/internal/retry"
	"github.com/fx-insight/internal/storage"
)

type publishedMessage struct {
	channel string
	body    []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	calls    int
	failN    int // fail the first failN calls
}

func (p *fakePublisher) Publish(_ context.Context, channel string, message interface{}) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if p.calls <= p.failN {
		return 0, pkgerrors.New("connection reset")
	}
	p.messages = append(p.messages, publishedMessage{channel: channel, body: message.([]byte)})
	return 1, nil
}

func (p *fakePublisher) published() []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedMessage(nil), p.messages...)
}

func fastRetry(attempts int) *retry.RetryConfig {
	return &retry.RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func newTestQueue(pub Publisher, cfg NotificationQueueConfig) (*NotificationQueue, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	if cfg.Retry == nil {
		cfg.Retry = fastRetry(3)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	return NewNotificationQueue(pub, cfg, logging.NewFromZap(zap.New(core))), logs
}

func decodeNotification(t *testing.T, body []byte) Notification {
	t.Helper()
	var n Notification
	require.NoError(t, json.Unmarshal(body, &n))
	return n
}

func TestNotificationQueue_DeliversHighestPriorityFirst(t *testing.T) {
	pub := &fakePublisher{}
	q, _ := newTestQueue(pub, NotificationQueueConfig{Workers: 1})

	require.True(t, q.Enqueue(NewNotification("u1", NotificationFxImpactAlert, nil)))
	require.True(t, q.Enqueue(NewNotification("u2", NotificationFxImpactAlert, nil)))
	require.True(t, q.Enqueue(NewNotification("u3", NotificationRiskLevelHigh, nil)))
	assert.Equal(t, 3, q.GetQueueSize())

	require.NoError(t, q.Start(context.Background()))
	defer func() { _ = q.Stop() }()

	require.Eventually(t, func() bool { return q.Stats().Delivered == 3 }, time.Second, 5*time.Millisecond)

	msgs := pub.published()
	require.Len(t, msgs, 3)
	assert.Equal(t, "fx:alerts:user:u3", msgs[0].channel)
	assert.Equal(t, "fx:alerts:user:u1", msgs[1].channel, "FIFO within a priority")
	assert.Equal(t, "fx:alerts:user:u2", msgs[2].channel)

	first := decodeNotification(t, msgs[0].body)
	assert.Equal(t, NotificationRiskLevelHigh, first.Type)
	assert.Equal(t, "u3", first.UserID)
	assert.NotEmpty(t, first.ID)
}

func TestNotificationQueue_DropsWhenFull(t *testing.T) {
	q, logs := newTestQueue(&fakePublisher{}, NotificationQueueConfig{Capacity: 2})

	assert.True(t, q.Enqueue(NewNotification("u1", NotificationFxImpactAlert, nil)))
	assert.True(t, q.Enqueue(NewNotification("u1", NotificationFxImpactAlert, nil)))
	assert.False(t, q.Enqueue(NewNotification("u1", NotificationRiskLevelHigh, nil)))
	assert.False(t, q.Enqueue(nil))

	stats := q.Stats()
	assert.Equal(t, 2, stats.Queued)
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, 1, logs.FilterMessage("notification queue full, dropping notification").Len())
}

func TestNotificationQueue_RetriesTransientFailures(t *testing.T) {
	pub := &fakePublisher{failN: 2}
	q, _ := newTestQueue(pub, NotificationQueueConfig{Workers: 2, Retry: fastRetry(3)})

	require.NoError(t, q.Start(context.Background()))
	q.Enqueue(NewNotification("u1", NotificationRiskLevelHigh, map[string]int{"riskScore": 80}))

	require.Eventually(t, func() bool { return q.Stats().Delivered == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Stop())

	assert.Equal(t, 3, pub.calls)
	assert.Zero(t, q.Stats().Failed)
}

func TestNotificationQueue_CountsFailuresAfterRetries(t *testing.T) {
	pub := &fakePublisher{failN: 100}
	q, logs := newTestQueue(pub, NotificationQueueConfig{Retry: fastRetry(2)})

	require.NoError(t, q.Start(context.Background()))
	q.Enqueue(NewNotification("u1", NotificationFxImpactAlert, nil))

	require.Eventually(t, func() bool { return q.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Stop())

	assert.Equal(t, 2, pub.calls)
	assert.Zero(t, q.Stats().Delivered)
	assert.Equal(t, 1, logs.FilterMessage("failed to publish notification").Len())
}

func TestNotificationQueue_StartStop(t *testing.T) {
	q, _ := newTestQueue(&fakePublisher{}, NotificationQueueConfig{})

	assert.False(t, q.IsRunning())
	assert.Error(t, q.Stop(), "stop before start is rejected")

	require.NoError(t, q.Start(context.Background()))
	assert.True(t, q.IsRunning())
	assert.Error(t, q.Start(context.Background()), "second start is rejected")

	require.NoError(t, q.Stop())
	assert.False(t, q.IsRunning())

	// restartable; queued work survives a stop
	q.Enqueue(NewNotification("u1", NotificationFxImpactAlert, nil))
	require.NoError(t, q.Start(context.Background()))
	require.Eventually(t, func() bool { return q.Stats().Delivered == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Stop())
	assert.Zero(t, q.GetActiveTasks())
}

func TestNotificationQueue_PublishesToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, AlertChannel("user-7"))
	defer sub.Close()
	_, err := sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	q, _ := newTestQueue(storage.NewRedisCacheFromClient(client), NotificationQueueConfig{})
	require.NoError(t, q.Start(ctx))
	defer func() { _ = q.Stop() }()

	q.Enqueue(NewNotification("user-7", NotificationRiskLevelHigh, RiskAlertPayload{BaseCurrency: "USD", RiskScore: 85}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fx:alerts:user:user-7", msg.Channel)

	n := decodeNotification(t, []byte(msg.Payload))
	assert.Equal(t, NotificationRiskLevelHigh, n.Type)
	assert.Equal(t, 10, n.Priority)

	payload, ok := n.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "USD", payload["baseCurrency"])
	assert.EqualValues(t, 85, payload["riskScore"])
}

func TestPriorityQueue_Ordering(t *testing.T) {
	q, _ := newTestQueue(&fakePublisher{}, NotificationQueueConfig{})
	for _, typ := range []NotificationType{NotificationFxImpactAlert, "digest", NotificationRiskLevelHigh, NotificationFxImpactAlert} {
		q.Enqueue(NewNotification("u1", typ, nil))
	}

	var got []NotificationType
	for q.queue.Len() > 0 {
		item := heap.Pop(q.queue).(*QueueItem)
		assert.Equal(t, -1, item.Index)
		got = append(got, item.Notification.Type)
	}
	assert.Equal(t, []NotificationType{NotificationRiskLevelHigh, NotificationFxImpactAlert, NotificationFxImpactAlert, "digest"}, got)
}

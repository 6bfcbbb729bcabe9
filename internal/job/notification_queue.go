package job

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fx-insight/internal/logging"
	"github.com/fx-insight/internal/retry"
)

// NotificationType identifies the kind of alert carried by a Notification
type NotificationType string

const (
	NotificationRiskLevelHigh NotificationType = "risk_level_high"
	NotificationFxImpactAlert NotificationType = "fx_impact_alert"
)

// priority returns the dispatch priority of a notification type.
// Higher values are delivered first.
func (t NotificationType) priority() int {
	switch t {
	case NotificationRiskLevelHigh:
		return 10
	case NotificationFxImpactAlert:
		return 5
	default:
		return 1
	}
}

// Notification is a single alert addressed to one user
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	Priority  int              `json:"priority"`
	Payload   interface{}      `json:"payload,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// NewNotification creates a notification with a fresh id and the default
// priority for its type
func NewNotification(userID string, typ NotificationType, payload interface{}) *Notification {
	return &Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      typ,
		Priority:  typ.priority(),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// AlertChannel is the pub/sub channel a user's alerts are published to
func AlertChannel(userID string) string {
	return "fx:alerts:user:" + userID
}

// Publisher delivers a message to a pub/sub channel and reports how many
// subscribers received it. storage.RedisCache satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) (int64, error)
}

// NotificationQueueConfig configures a NotificationQueue
type NotificationQueueConfig struct {
	Workers      int                // concurrent deliveries
	Capacity     int                // pending notifications kept before Enqueue drops
	PollInterval time.Duration      // fallback dispatch tick
	Retry        *retry.RetryConfig // publish retry policy
}

// NotificationStats is a point-in-time view of queue counters
type NotificationStats struct {
	Queued    int   `json:"queued"`
	Active    int   `json:"active"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
}

// NotificationQueue delivers alerts asynchronously through a bounded pool
// of workers. Enqueue never blocks the caller.
type NotificationQueue struct {
	mu sync.RWMutex

	queue *PriorityQueue
	seq   uint64

	publisher    Publisher
	capacity     int
	workers      int
	workerSem    chan struct{}
	pollInterval time.Duration
	retryConfig  *retry.RetryConfig
	logger       *logging.Logger

	wake     chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	started  bool
	inFlight sync.WaitGroup
	active   map[string]*Notification

	delivered atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// NewNotificationQueue creates a notification queue publishing through publisher
func NewNotificationQueue(publisher Publisher, cfg NotificationQueueConfig, logger *logging.Logger) *NotificationQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultRetryConfig()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	q := &NotificationQueue{
		queue:        &PriorityQueue{},
		publisher:    publisher,
		capacity:     cfg.Capacity,
		workers:      cfg.Workers,
		workerSem:    make(chan struct{}, cfg.Workers),
		pollInterval: cfg.PollInterval,
		retryConfig:  cfg.Retry,
		logger:       logger.WithField("component", "notification_queue"),
		wake:         make(chan struct{}, 1),
		active:       make(map[string]*Notification),
	}
	heap.Init(q.queue)
	return q
}

// Start begins dispatching queued notifications
func (q *NotificationQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return fmt.Errorf("notification queue already started")
	}
	q.started = true
	q.stopCh = make(chan struct{})
	q.done = make(chan struct{})

	go q.run(ctx, q.stopCh, q.done)

	q.logger.WithField("workers", q.workers).Info("notification queue started")
	return nil
}

// Stop halts dispatching and waits for in-flight deliveries to finish.
// Notifications still queued stay queued until the next Start.
func (q *NotificationQueue) Stop() error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return fmt.Errorf("notification queue not running")
	}
	q.started = false
	close(q.stopCh)
	done := q.done
	q.mu.Unlock()

	<-done
	q.inFlight.Wait()

	q.logger.WithField("pending", q.GetQueueSize()).Info("notification queue stopped")
	return nil
}

// Enqueue adds a notification without blocking. It returns false when the
// queue is full and the notification was dropped.
func (q *NotificationQueue) Enqueue(n *Notification) bool {
	if n == nil {
		return false
	}

	q.mu.Lock()
	if q.queue.Len() >= q.capacity {
		q.mu.Unlock()
		q.dropped.Add(1)
		q.logger.WithFields(map[string]interface{}{
			"notification_id": n.ID,
			"user_id":         n.UserID,
			"type":            string(n.Type),
		}).Warn("notification queue full, dropping notification")
		return false
	}
	q.seq++
	heap.Push(q.queue, &QueueItem{
		Notification: n,
		Priority:     n.Priority,
		Seq:          q.seq,
		Index:        -1,
	})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// run is the dispatch loop
func (q *NotificationQueue) run(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-q.wake:
			q.dispatch(ctx)
		case <-ticker.C:
			q.dispatch(ctx)
		}
	}
}

// dispatch hands queued notifications to workers until either runs out
func (q *NotificationQueue) dispatch(ctx context.Context) {
	for q.processNext(ctx) {
	}
}

// processNext starts delivery of the highest-priority notification.
// It returns false when no worker slot or no notification is available.
func (q *NotificationQueue) processNext(ctx context.Context) bool {
	select {
	case q.workerSem <- struct{}{}:
	default:
		return false
	}

	q.mu.Lock()
	if q.queue.Len() == 0 {
		q.mu.Unlock()
		<-q.workerSem
		return false
	}
	item := heap.Pop(q.queue).(*QueueItem)
	n := item.Notification
	q.active[n.ID] = n
	q.inFlight.Add(1)
	q.mu.Unlock()

	go func() {
		defer func() {
			q.mu.Lock()
			delete(q.active, n.ID)
			q.mu.Unlock()
			<-q.workerSem
			q.inFlight.Done()
		}()
		q.deliver(ctx, n)
	}()
	return true
}

// deliver publishes one notification, retrying transient publisher failures
func (q *NotificationQueue) deliver(ctx context.Context, n *Notification) {
	logger := q.logger.WithFields(map[string]interface{}{
		"notification_id": n.ID,
		"user_id":         n.UserID,
		"type":            string(n.Type),
	})

	body, err := json.Marshal(n)
	if err != nil {
		q.failed.Add(1)
		logger.WithError(err).Error("failed to encode notification")
		return
	}

	channel := AlertChannel(n.UserID)
	var receivers int64
	result := retry.WithExponentialBackoff(logging.WithLogger(ctx, logger), q.retryConfig, func(ctx context.Context, attempt int) error {
		var err error
		receivers, err = q.publisher.Publish(ctx, channel, body)
		return err
	})
	if err := result.Err(); err != nil {
		q.failed.Add(1)
		logger.WithError(err).Error("failed to publish notification")
		return
	}

	q.delivered.Add(1)
	logger.WithFields(map[string]interface{}{
		"channel":   channel,
		"receivers": receivers,
	}).Debug("notification published")
}

// GetQueueSize returns the number of notifications waiting for a worker
func (q *NotificationQueue) GetQueueSize() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.queue.Len()
}

// GetActiveTasks returns the number of deliveries in progress
func (q *NotificationQueue) GetActiveTasks() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return len(q.active)
}

// IsRunning reports whether the dispatch loop is running
func (q *NotificationQueue) IsRunning() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.started
}

// Stats returns the queue counters
func (q *NotificationQueue) Stats() NotificationStats {
	return NotificationStats{
		Queued:    q.GetQueueSize(),
		Active:    q.GetActiveTasks(),
		Delivered: q.delivered.Load(),
		Dropped:   q.dropped.Load(),
		Failed:    q.failed.Load(),
	}
}

// QueueItem represents an item in the priority queue
type QueueItem struct {
	Notification *Notification
	Priority     int
	Seq          uint64
	Index        int
}

// PriorityQueue implements heap.Interface for notifications.
// Higher priority values are processed first, FIFO within a priority.
type PriorityQueue []*QueueItem

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	if pq[i].Priority != pq[j].Priority {
		return pq[i].Priority > pq[j].Priority
	}
	return pq[i].Seq < pq[j].Seq
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].Index = i
	pq[j].Index = j
}

func (pq *PriorityQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*QueueItem)
	item.Index = n
	*pq = append(*pq, item)
}

func (pq *PriorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.Index = -1 // for safety
	*pq = old[0 : n-1]
	return item
}

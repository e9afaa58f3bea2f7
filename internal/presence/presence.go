// Package presence tracks which usernames are currently online across all
// server instances, and fans out friend/invite notifications cross-instance.
// It is the only Redis-backed component in the core; Topology's room state
// stays process-local.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/netsblox/cloud/internal/logging"
	"github.com/netsblox/cloud/internal/metrics"
	"go.uber.org/zap"
)

const onlineSetKey = "netsblox:online-usernames"

// Notification is the envelope relayed between instances for invites the
// Topology singleton must deliver to a username connected to a *different*
// instance (occupant/collaboration/friend-request changes).
type Notification struct {
	Username string          `json:"username"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
}

const notificationChannel = "netsblox:notifications"

// Service wraps a redis client with a circuit breaker; all methods degrade
// gracefully (log-and-continue) when s is nil or the breaker is open, since
// presence tracking must never block message delivery.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

func NewService(addr, password string) (*Service, error) {
	if addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "presence-redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateClosed:
				v = 0
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("presence-redis").Set(v)
		},
	}

	return &Service{client: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return s.degrade(ctx, "ping", err)
}

// MarkOnline / MarkOffline maintain the global online-usernames set, which
// backs Friend Actions' online-friends filter.
func (s *Service) MarkOnline(ctx context.Context, username string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.SAdd(ctx, onlineSetKey, username).Err()
	})
	return s.degrade(ctx, "mark_online", err)
}

func (s *Service) MarkOffline(ctx context.Context, username string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.SRem(ctx, onlineSetKey, username).Err()
	})
	return s.degrade(ctx, "mark_offline", err)
}

// OnlineUsernames returns the full snapshot; callers filter by friends list.
func (s *Service) OnlineUsernames(ctx context.Context) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.SMembers(ctx, onlineSetKey).Result()
	})
	if err := s.degrade(ctx, "online_usernames", err); err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.([]string), nil
}

// Publish fans a notification out to every instance; local delivery to a
// currently-connected client of Username is the subscriber's job.
func (s *Service) Publish(ctx context.Context, n Notification) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		data, err := json.Marshal(n)
		if err != nil {
			return nil, err
		}
		return nil, s.client.Publish(ctx, notificationChannel, data).Err()
	})
	return s.degrade(ctx, "publish", err)
}

// Subscribe starts a background goroutine delivering remote notifications
// to handler until ctx is done. wg, if non-nil, is released on exit so
// callers can goleak-verify shutdown.
func (s *Service) Subscribe(ctx context.Context, wg *sync.WaitGroup, handler func(Notification)) {
	if s == nil || s.client == nil {
		return
	}
	pubsub := s.client.Subscribe(ctx, notificationChannel)
	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var n Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					logging.Warn(ctx, "discarding malformed presence notification", zap.Error(err))
					continue
				}
				handler(n)
			}
		}
	}()
}

func (s *Service) degrade(ctx context.Context, op string, err error) error {
	if err == nil {
		metrics.PresenceOperationsTotal.WithLabelValues(op, "ok").Inc()
		return nil
	}
	if err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("presence-redis").Inc()
		metrics.PresenceOperationsTotal.WithLabelValues(op, "breaker_open").Inc()
		logging.Warn(ctx, "presence circuit breaker open, degrading", zap.String("op", op))
		return nil
	}
	metrics.PresenceOperationsTotal.WithLabelValues(op, "error").Inc()
	logging.Error(ctx, "presence operation failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("presence %s failed: %w", op, err)
}

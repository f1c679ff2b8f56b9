// ABOUTME: Redis backed remote table service: one hash per table plus a pub/sub change channel
// ABOUTME: Writes publish change notices that every subscribed node turns into listener events

package redisrt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-redis/redis/v8"
	"github.com/harper/feedsync/internal/remote"
)

// DefaultPrefix namespaces every key and channel.
const DefaultPrefix = "feedsync"

// ErrStreamGap is returned by Ping after the change channel had to be
// resubscribed. Notices published in between are lost.
var ErrStreamGap = errors.New("redis change stream was interrupted")

// Options configures a Service.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	NodeID   string
	Logger   *log.Logger
}

// Service implements remote.Service on Redis.
type Service struct {
	client *redis.Client
	prefix string
	node   string
	logger *log.Logger

	hub remote.Hub

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}

	subscribed bool // owned by the consume goroutine
	gap        atomic.Bool
}

// notice is published on the change channel after every write.
type notice struct {
	Table   remote.TableID  `json:"table"`
	Key     string          `json:"key"`
	Deleted bool            `json:"deleted,omitempty"`
	Origin  string          `json:"origin"`
	Row     json.RawMessage `json:"row,omitempty"`
}

// New connects to Redis and checks the connection.
func New(ctx context.Context, opts Options) (*Service, error) {
	if opts.NodeID == "" {
		return nil, fmt.Errorf("redis remote: node id is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}

	return &Service{
		client: client,
		prefix: opts.Prefix,
		node:   opts.NodeID,
		logger: opts.Logger.WithPrefix("redis"),
	}, nil
}

func (s *Service) tableKey(table remote.TableID) string {
	return s.prefix + ":" + string(table)
}

func (s *Service) channel() string {
	return s.prefix + ":changes"
}

func (s *Service) publish(ctx context.Context, pipe redis.Pipeliner, n notice) error {
	msg, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	pipe.Publish(ctx, s.channel(), msg)
	return nil
}

// Insert writes row under key and announces it.
func (s *Service) Insert(ctx context.Context, table remote.TableID, key string, row any) error {
	raw, err := remote.Seal(s.node, row)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.tableKey(table), key, raw)
		return s.publish(ctx, pipe, notice{Table: table, Key: key, Origin: s.node, Row: raw})
	})
	if err != nil {
		return fmt.Errorf("insert %s/%s: %w", table, key, err)
	}
	return nil
}

// DeleteByKey removes key and announces the deletion.
func (s *Service) DeleteByKey(ctx context.Context, table remote.TableID, key string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.tableKey(table), key)
		return s.publish(ctx, pipe, notice{Table: table, Key: key, Deleted: true, Origin: s.node})
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, key, err)
	}
	return nil
}

// WriteFullState replaces the table hash atomically. Other nodes pick the
// new state up at their next initial sync.
func (s *Service) WriteFullState(ctx context.Context, table remote.TableID, rows map[string]any) error {
	values := make(map[string]interface{}, len(rows))
	for key, row := range rows {
		raw, err := remote.Seal(s.node, row)
		if err != nil {
			return err
		}
		values[key] = raw
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.tableKey(table))
		if len(values) > 0 {
			pipe.HSet(ctx, s.tableKey(table), values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write full state %s: %w", table, err)
	}
	return nil
}

// InitialSync reads the table hash and delivers the delta against snapshot.
func (s *Service) InitialSync(ctx context.Context, table remote.TableID, snapshot map[string]remote.KeyStatus) error {
	all, err := s.client.HGetAll(ctx, s.tableKey(table)).Result()
	if err != nil {
		return fmt.Errorf("read %s: %w", table, err)
	}
	rows := make(map[string][]byte, len(all))
	for k, v := range all {
		rows[k] = []byte(v)
	}
	records, err := remote.Reconcile(rows, snapshot)
	if err != nil {
		return err
	}
	s.hub.Emit(table, records)
	return nil
}

// Listen registers l. The first listener subscribes to the change channel.
func (s *Service) Listen(l remote.Listener) func() {
	cancel := s.hub.Add(l)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pubsub == nil {
		s.pubsub = s.client.Subscribe(context.Background(), s.channel())
		s.done = make(chan struct{})
		go s.consume(s.pubsub.ChannelWithSubscriptions(context.Background(), 100), s.done)
	}
	return cancel
}

func (s *Service) consume(ch <-chan interface{}, done chan struct{}) {
	defer close(done)
	for msg := range ch {
		s.receive(msg)
	}
}

// receive handles one pub/sub delivery. go-redis resubscribes on its own
// after a dropped connection; a second subscribe confirmation marks a gap.
func (s *Service) receive(msg interface{}) {
	switch m := msg.(type) {
	case *redis.Subscription:
		if m.Kind != "subscribe" {
			return
		}
		if s.subscribed {
			s.logger.Warn("change channel resubscribed, notices may be lost")
			s.gap.Store(true)
		}
		s.subscribed = true
	case *redis.Message:
		table, rec, err := s.decode(m.Payload)
		if err != nil {
			s.logger.Warn("dropping malformed change notice", "err", err)
			return
		}
		s.hub.Emit(table, []remote.Record{rec})
	}
}

// Ping checks the connection. It fails once after a change stream gap.
func (s *Service) Ping(ctx context.Context) error {
	if s.gap.Swap(false) {
		return ErrStreamGap
	}
	return s.client.Ping(ctx).Err()
}

// decode turns a published notice into a listener record.
func (s *Service) decode(payload string) (remote.TableID, remote.Record, error) {
	var n notice
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return "", remote.Record{}, fmt.Errorf("unmarshal notice: %w", err)
	}
	if n.Deleted {
		return n.Table, remote.Record{Key: n.Key, IsDeleted: true, IsLocalEcho: n.Origin == s.node}, nil
	}
	rec, err := remote.RecordFor(s.node, n.Key, n.Row)
	if err != nil {
		return "", remote.Record{}, err
	}
	return n.Table, rec, nil
}

// Close unsubscribes and closes the client.
func (s *Service) Close() error {
	s.mu.Lock()
	ps, done := s.pubsub, s.done
	s.pubsub = nil
	s.mu.Unlock()

	if ps != nil {
		ps.Close()
		<-done
	}
	return s.client.Close()
}

var (
	_ remote.Service = (*Service)(nil)
	_ remote.Pinger  = (*Service)(nil)
)

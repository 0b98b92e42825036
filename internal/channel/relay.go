package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"OllamaBot/internal/bot"
	xerrors "OllamaBot/internal/errors"
	"OllamaBot/pkg/logger"
)

// Replier 定义了 Relay 所需的回复能力。
type Replier interface {
	Reply(ctx context.Context, query string, rc bot.Context) bot.Reply
}

// Relay 从入站队列消费消息，调用 Replier 生成回复并写入出站队列。
//
// 多个 worker 并发处理不同会话，同一会话的消息串行处理。
type Relay struct {
	replier     Replier
	consumer    Consumer
	producer    Producer
	workerCount int
	locks       *keyedMutex
	now         func() time.Time
	newID       func() string
	log         *slog.Logger
}

// RelayOption 定义可选配置。
type RelayOption func(*Relay)

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) RelayOption {
	return func(r *Relay) {
		if workers > 0 {
			r.workerCount = workers
		}
	}
}

// WithIDGenerator 替换出站消息 ID 的生成方式。
func WithIDGenerator(fn func() string) RelayOption {
	return func(r *Relay) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// NewRelay 构造 Relay。
func NewRelay(replier Replier, consumer Consumer, producer Producer, opts ...RelayOption) *Relay {
	r := &Relay{
		replier:     replier,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		locks:       newKeyedMutex(),
		now:         time.Now,
		newID:       uuid.NewString,
		log:         logger.Named("channel"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Start 启动消费循环，直到 ctx 结束。
func (r *Relay) Start(ctx context.Context) error {
	if r.consumer == nil || r.producer == nil || r.replier == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "消息通道未初始化")
	}
	return r.consumer.Consume(ctx, r.workerCount, r.handle)
}

func (r *Relay) handle(ctx context.Context, payload []byte) error {
	in, err := DecodeInbound(payload)
	if err != nil {
		r.log.Warn("丢弃无法解析的入站消息", slog.Any("error", err), slog.Int("bytes", len(payload)))
		return nil
	}

	unlock := r.locks.Lock(in.SessionID)
	reply := r.replier.Reply(ctx, in.Query, bot.Context{Kind: in.Kind, SessionID: in.SessionID})
	unlock()

	out := Outbound{
		ID:        r.newID(),
		InboundID: in.ID,
		SessionID: in.SessionID,
		Type:      reply.Type,
		Content:   reply.Content,
		CreatedAt: r.now().Unix(),
	}
	body, err := json.Marshal(out)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "编码出站消息失败")
	}
	if err := r.producer.Publish(ctx, body); err != nil {
		r.log.Error("投递回复失败",
			slog.String("session_id", in.SessionID),
			slog.String("inbound_id", in.ID),
			slog.Any("error", err),
		)
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "投递回复失败")
	}
	r.log.Debug("回复已投递",
		slog.String("session_id", in.SessionID),
		slog.String("outbound_id", out.ID),
		slog.String("type", string(out.Type)),
	)
	return nil
}

// keyedMutex 为每个会话提供独立的互斥锁，空闲的锁会被回收。
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock 锁定 key 并返回解锁函数。
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m := k.locks[key]
	if m == nil {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

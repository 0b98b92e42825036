package bot

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"OllamaBot/internal/config"
	xerrors "OllamaBot/internal/errors"
	"OllamaBot/internal/llm"
	"OllamaBot/internal/observability/alerting"
	"OllamaBot/internal/observability/metrics"
	"OllamaBot/internal/session"
	"OllamaBot/pkg/logger"
)

// SessionManager 是回复流程依赖的会话存储能力。
type SessionManager interface {
	SessionQuery(ctx context.Context, query, id string) (*session.Session, error)
	SessionReply(ctx context.Context, reply, id string, totalTokens int) (*session.Session, error)
	ClearSession(ctx context.Context, id string) error
	ClearAllSessions(ctx context.Context) error
}

// ConfigSource 提供模型名称、清除记忆指令，并支持重新加载。
type ConfigSource interface {
	Current() *config.Config
	ClearMemoryCommands() []string
	Reload() error
}

// Bot 将机器人框架的消息转发给 Ollama 模型并生成回复。
type Bot struct {
	sessions SessionManager
	client   llm.Client
	config   ConfigSource
	sleep    Sleeper
	alerts   alerting.Dispatcher
	log      *slog.Logger
}

// Option 定义可选的 Bot 配置。
type Option func(*Bot)

// WithSleeper 替换重试之间的等待实现。
func WithSleeper(sleeper Sleeper) Option {
	return func(b *Bot) {
		if sleeper != nil {
			b.sleep = sleeper
		}
	}
}

// WithAlertDispatcher 配置告警分发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(b *Bot) {
		b.alerts = dispatcher
	}
}

// New 创建一个 Bot。
func New(sessions SessionManager, client llm.Client, cfg ConfigSource, opts ...Option) *Bot {
	b := &Bot{
		sessions: sessions,
		client:   client,
		config:   cfg,
		sleep:    sleepContext,
		log:      logger.Named("bot"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Reply 处理一条消息并返回回复，所有失败都以 ERROR 回复的形式返回。
func (b *Bot) Reply(ctx context.Context, query string, rc Context) Reply {
	reply := b.dispatch(ctx, query, rc)
	metrics.ObserveReply(string(reply.Type))
	return reply
}

func (b *Bot) dispatch(ctx context.Context, query string, rc Context) Reply {
	if rc.Kind != KindText {
		return Reply{Type: ReplyError, Content: fmt.Sprintf(textUnsupportedKindF, rc.Kind)}
	}
	if b.sessions == nil || b.client == nil || b.config == nil {
		b.log.Error("Bot 未完成初始化", slog.String("session_id", rc.SessionID))
		return Reply{Type: ReplyError, Content: defaultFallback}
	}

	log := b.log.With(slog.String("session_id", rc.SessionID))
	log.Info("收到消息", slog.String("query", query))

	switch {
	case slices.Contains(b.config.ClearMemoryCommands(), query):
		if err := b.sessions.ClearSession(ctx, rc.SessionID); err != nil {
			log.Error("清除会话失败", slog.Any("error", err))
			return Reply{Type: ReplyError, Content: textClearFailed}
		}
		return Reply{Type: ReplyInfo, Content: textMemoryCleared}
	case query == CommandClearAll:
		if err := b.sessions.ClearAllSessions(ctx); err != nil {
			log.Error("清除所有会话失败", slog.Any("error", err))
			return Reply{Type: ReplyError, Content: textClearFailed}
		}
		return Reply{Type: ReplyInfo, Content: textAllCleared}
	case query == CommandReloadConfig:
		if err := b.config.Reload(); err != nil {
			log.Error("重新加载配置失败", slog.Any("error", err))
			return Reply{Type: ReplyError, Content: textReloadFailed}
		}
		logger.Audit().Info("配置已重新加载", slog.String("session_id", rc.SessionID))
		return Reply{Type: ReplyInfo, Content: textConfigReloaded}
	}

	s, err := b.sessions.SessionQuery(ctx, query, rc.SessionID)
	if err != nil {
		log.Error("读取会话失败", slog.Any("error", err))
		return Reply{Type: ReplyError, Content: defaultFallback}
	}
	log.Debug("会话消息", slog.Int("messages", len(s.Messages)))

	outcome := b.replyText(ctx, s)
	log.Debug("模型回复",
		slog.String("content", outcome.Content),
		slog.Int("completion_tokens", outcome.CompletionTokens),
		slog.Int("total_tokens", outcome.TotalTokens),
	)

	switch {
	case outcome.CompletionTokens == 0 && outcome.Content != "":
		return Reply{Type: ReplyError, Content: outcome.Content}
	case outcome.CompletionTokens > 0:
		_, err := b.sessions.SessionReply(ctx, outcome.Content, rc.SessionID, outcome.TotalTokens)
		switch {
		case session.IsNotFound(err):
			// 会话在等待回复期间被清除或过期，回复照常返回但不再保存。
		case err != nil:
			log.Error("保存回复失败", slog.Any("error", err))
		default:
			logger.Audit().Info("回复已提交",
				slog.String("session_id", rc.SessionID),
				slog.Int("completion_tokens", outcome.CompletionTokens),
				slog.Int("total_tokens", outcome.TotalTokens),
			)
		}
		return Reply{Type: ReplyText, Content: outcome.Content}
	default:
		log.Warn("模型回复未消耗 token", slog.String("content", outcome.Content))
		return Reply{Type: ReplyError, Content: outcome.Content}
	}
}

// replyText 调用模型并按错误类型重试，最多重试 maxRetries 次。
func (b *Bot) replyText(ctx context.Context, s *session.Session) Outcome {
	log := b.log.With(slog.String("session_id", s.ID))
	for attempt := 0; ; attempt++ {
		outcome, err := b.call(ctx, s.Messages)
		if err == nil {
			return outcome
		}

		code := xerrors.CodeOf(err)
		rule, known := ruleFor(code)
		if !known {
			log.Error("调用模型出现未分类错误，清除会话", slog.String("code", string(code)), slog.Any("error", err))
			if clearErr := b.sessions.ClearSession(ctx, s.ID); clearErr != nil {
				log.Error("清除会话失败", slog.Any("error", clearErr))
			}
			b.alert(ctx, alerting.Event{
				Code:      code,
				Message:   "调用模型出现未分类错误，会话已清除",
				Severity:  xerrors.SeverityOf(err),
				SessionID: s.ID,
				Attempts:  attempt + 1,
				Metadata:  unknownMetadata(err),
			})
			return Outcome{Content: defaultFallback}
		}

		log.Warn("调用模型失败", slog.String("code", string(code)), slog.Int("attempt", attempt), slog.Any("error", err))
		if !xerrors.RetryableError(err) {
			if xerrors.ShouldAlert(err) {
				b.alert(ctx, alerting.Event{
					Code:      code,
					Message:   "调用模型失败且不可重试",
					Severity:  xerrors.SeverityOf(err),
					SessionID: s.ID,
					Attempts:  attempt + 1,
					Metadata:  xerrors.MetadataOf(err),
				})
			}
			return Outcome{Content: rule.fallback}
		}
		if attempt >= maxRetries {
			b.alert(ctx, alerting.Event{
				Code:       xerrors.CodeRetriesExhausted,
				Message:    "调用模型重试次数已用尽",
				Severity:   xerrors.AttributesOf(xerrors.CodeRetriesExhausted).Severity,
				SessionID:  s.ID,
				Attempts:   attempt + 1,
				MaxRetries: maxRetries,
				Metadata:   map[string]string{"last_code": string(code)},
			})
			return Outcome{Content: rule.fallback}
		}

		metrics.ObserveRetry(string(code))
		log.Warn(fmt.Sprintf("第%d次重试", attempt+1), slog.Duration("delay", rule.delay))
		if err := b.sleep(ctx, rule.delay); err != nil {
			log.Warn("等待重试时请求已取消", slog.Any("error", err))
			return Outcome{Content: rule.fallback}
		}
	}
}

// call 完成一次整理历史、构造请求、调用模型与统计 token 的流程。
func (b *Bot) call(ctx context.Context, messages []llm.Message) (Outcome, error) {
	prompt, history, err := FormatHistory(messages)
	if err != nil {
		return Outcome{}, err
	}
	req := BuildChatRequest(b.model(), history, prompt)

	start := time.Now()
	content, err := b.client.Chat(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = string(xerrors.CodeOf(err))
	}
	metrics.ObserveUpstream(outcome, time.Since(start))
	if err != nil {
		return Outcome{}, err
	}

	completion, total := CountTokens(req.Messages, content)
	return Outcome{Content: content, CompletionTokens: completion, TotalTokens: total}, nil
}

func unknownMetadata(err error) map[string]string {
	meta := xerrors.MetadataOf(err)
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta["error"] = err.Error()
	return meta
}

func (b *Bot) model() string {
	cfg := b.config.Current()
	if cfg == nil {
		return ""
	}
	return cfg.Bot.OllamaModel
}

func (b *Bot) alert(ctx context.Context, event alerting.Event) {
	if b.alerts == nil {
		return
	}
	event.OccurredAt = time.Now()
	if err := b.alerts.Notify(ctx, event); err != nil {
		b.log.Warn("发送告警失败", slog.String("code", string(event.Code)), slog.Any("error", err))
	}
}

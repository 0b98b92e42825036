package bot

import (
	"context"
	"time"

	xerrors "OllamaBot/internal/errors"
)

// maxRetries 是单次回复允许的最大重试次数，即最多调用模型三次。
const maxRetries = 2

// defaultFallback 是未分类错误返回给用户的文本。
const defaultFallback = "我现在有点累了，等会再来吧"

// retryRule 描述已分类错误的等待时间与最终回复；是否重试由错误码登记的属性决定。
type retryRule struct {
	delay    time.Duration
	fallback string
}

var retryRules = map[xerrors.Code]retryRule{
	xerrors.CodeRateLimited:       {delay: 20 * time.Second, fallback: "提问太快啦，请休息一下再问我吧"},
	xerrors.CodeTimeout:           {delay: 5 * time.Second, fallback: "我没有收到你的消息"},
	xerrors.CodeUpstreamFailure:   {delay: 10 * time.Second, fallback: "请再问我一次"},
	xerrors.CodeConnectionFailure: {fallback: "我连接不到你的网络"},
}

// ruleFor 返回错误码对应的重试规则，未分类的错误码返回 false。
func ruleFor(code xerrors.Code) (retryRule, bool) {
	rule, ok := retryRules[code]
	return rule, ok
}

// Sleeper 在两次重试之间等待，ctx 结束时应提前返回错误。
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

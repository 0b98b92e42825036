package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type chatCollector struct {
	mu       sync.Mutex
	replies  map[string]uint64
	retries  map[string]uint64
	upstream map[string]*histogram
}

var chatMetrics = &chatCollector{
	replies:  make(map[string]uint64),
	retries:  make(map[string]uint64),
	upstream: make(map[string]*histogram),
}

// ObserveReply counts a reply handed back to the bot framework by its type.
func ObserveReply(replyType string) {
	chatMetrics.mu.Lock()
	chatMetrics.replies[replyType]++
	chatMetrics.mu.Unlock()
}

// ObserveRetry counts a retry scheduled after a failure with the given code.
func ObserveRetry(code string) {
	chatMetrics.mu.Lock()
	chatMetrics.retries[code]++
	chatMetrics.mu.Unlock()
}

// ObserveUpstream records the latency of one call to the model endpoint.
// outcome is "ok" or the error code of the failed call.
func ObserveUpstream(outcome string, duration time.Duration) {
	chatMetrics.mu.Lock()
	defer chatMetrics.mu.Unlock()
	hist := chatMetrics.upstream[outcome]
	if hist == nil {
		hist = newHistogram(upstreamBuckets)
		chatMetrics.upstream[outcome] = hist
	}
	hist.observe(duration.Seconds())
}

func (c *chatCollector) render(builder *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()

	builder.WriteString("# HELP ollamabot_replies_total Replies returned to the bot framework by type.\n")
	builder.WriteString("# TYPE ollamabot_replies_total counter\n")
	for _, key := range sortedKeys(c.replies) {
		fmt.Fprintf(builder, "ollamabot_replies_total{type=\"%s\"} %d\n", escape(key), c.replies[key])
	}

	builder.WriteString("# HELP ollamabot_upstream_retries_total Retries of the model call by failure code.\n")
	builder.WriteString("# TYPE ollamabot_upstream_retries_total counter\n")
	for _, key := range sortedKeys(c.retries) {
		fmt.Fprintf(builder, "ollamabot_upstream_retries_total{code=\"%s\"} %d\n", escape(key), c.retries[key])
	}

	builder.WriteString("# HELP ollamabot_upstream_duration_seconds Model endpoint call duration in seconds.\n")
	builder.WriteString("# TYPE ollamabot_upstream_duration_seconds histogram\n")
	for _, key := range sortedKeys(c.upstream) {
		c.upstream[key].render(builder, "ollamabot_upstream_duration_seconds", fmt.Sprintf("outcome=\"%s\"", escape(key)))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

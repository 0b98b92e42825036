package bot

// ReplyType 表示回复的类型。
type ReplyType string

const (
	ReplyText  ReplyType = "TEXT"
	ReplyError ReplyType = "ERROR"
	ReplyInfo  ReplyType = "INFO"
)

// Reply 是返回给机器人框架的回复。
type Reply struct {
	Type    ReplyType `json:"type"`
	Content string    `json:"content"`
}

// Kind 表示收到消息的类型。
type Kind string

// 机器人框架可能投递的消息类型，只有 KindText 会被处理。
const (
	KindText        Kind = "TEXT"
	KindVoice       Kind = "VOICE"
	KindImage       Kind = "IMAGE"
	KindImageCreate Kind = "IMAGE_CREATE"
	KindFile        Kind = "FILE"
	KindVideo       Kind = "VIDEO"
	KindSharing     Kind = "SHARING"
)

// Context 携带消息类型与会话标识。
type Context struct {
	Kind      Kind
	SessionID string
}

// Outcome 是一次模型调用流程的结果，失败时 CompletionTokens 为 0。
type Outcome struct {
	Content          string
	CompletionTokens int
	TotalTokens      int
}

// 保留指令与固定回复。
const (
	CommandClearAll     = "#清除所有"
	CommandReloadConfig = "#更新配置"

	textMemoryCleared    = "记忆已清除"
	textAllCleared       = "所有人记忆已清除"
	textConfigReloaded   = "配置已更新"
	textClearFailed      = "记忆清除失败，请稍后再试"
	textReloadFailed     = "配置更新失败，请检查配置文件"
	textUnsupportedKindF = "Bot不支持处理%s类型的消息"
)

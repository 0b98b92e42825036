// Package bot 实现 Ollama 对话机器人的回复流程：识别保留指令、整理会话历史、
// 构造对话请求、按错误类型重试调用模型，并按字符数估算 token 用量。
//
// 会话存储、模型客户端与配置均以接口形式注入，包内不持有全局状态。
package bot

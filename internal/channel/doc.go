// Package channel 通过消息队列把机器人框架投递的消息转交给 bot 包处理，
// 并将回复写入出站队列。支持内存、Redis 与 RabbitMQ 三种队列实现。
package channel

// Package service 包含了应用的业务逻辑层。
package service

import "errors"

// 学习管线对外暴露的领域错误。
// 仓储层的 gorm.ErrRecordNotFound 在服务层被翻译成这里的哨兵值。
var (
	// ErrUnknownSession 表示操作引用了一个不存在的会话。
	ErrUnknownSession = errors.New("unknown session")
	// ErrUnknownPersona 表示操作引用了一个不存在的人格。
	ErrUnknownPersona = errors.New("unknown persona")
	// ErrSessionEnded 表示尝试向已结束的会话追加消息。
	ErrSessionEnded = errors.New("session already ended")
)

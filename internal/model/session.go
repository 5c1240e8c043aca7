package model

import "time"

// 消息角色常量。
const (
	RoleUser   = "user"
	RoleAgent  = "agent"
	RoleSystem = "system"
)

// ChatSession 代表一次完整的对话运行。
// 不变量：同一 (UserID, PersonaID) 任意时刻最多存在一条 Active=true 的记录。
type ChatSession struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	UserID       string     `gorm:"index:idx_user_persona_active;size:128;not null" json:"userId"`
	PersonaID    uint       `gorm:"index:idx_user_persona_active;not null" json:"personaId"`
	StartedAt    time.Time  `gorm:"autoCreateTime" json:"startedAt"`
	EndedAt      *time.Time `json:"endedAt"`
	Active       bool       `gorm:"index:idx_user_persona_active;not null;default:true" json:"active"`
	MessageCount int        `gorm:"not null;default:0" json:"messageCount"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// TurnRecord 代表会话内的单条消息，只追加不修改。
// 读取时按 created_at 升序排序，时间相同按插入顺序（主键）排序。
type TurnRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID uint      `gorm:"index;not null" json:"sessionId"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (TurnRecord) TableName() string {
	return "turn_records"
}

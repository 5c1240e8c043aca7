package repository

import (
	"time"

	"mentalist-go/internal/model"

	"gorm.io/gorm"
)

// SessionRepository 接口定义了会话及其消息记录的持久化操作。
type SessionRepository interface {
	Create(session *model.ChatSession) error
	FindByID(id uint) (*model.ChatSession, error)
	// FindActive 返回某 (userID, personaID) 最近开始的活跃会话；无则返回 gorm.ErrRecordNotFound。
	FindActive(userID string, personaID uint) (*model.ChatSession, error)
	// AppendTurn 在一个事务内追加一条消息并递增会话的 MessageCount。
	AppendTurn(sessionID uint, role, content string) error
	// End 将会话置为非活跃并记录结束时间；对已结束的会话无效果。
	End(sessionID uint, endedAt time.Time) error
	// ListTurns 按时间升序返回会话的全部消息。
	ListTurns(sessionID uint) ([]model.TurnRecord, error)
	// FindIdleActive 返回最后一条消息早于 cutoff 的活跃会话，用于空闲回收扩展。
	FindIdleActive(cutoff time.Time) ([]model.ChatSession, error)
}

// sessionRepository 是 SessionRepository 接口的 GORM 实现。
type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// Create 创建一条新的会话记录。
func (r *sessionRepository) Create(session *model.ChatSession) error {
	return r.db.Create(session).Error
}

// FindByID 根据 ID 查找会话。
func (r *sessionRepository) FindByID(id uint) (*model.ChatSession, error) {
	var session model.ChatSession
	if err := r.db.First(&session, id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// FindActive 查找最近开始的活跃会话。
func (r *sessionRepository) FindActive(userID string, personaID uint) (*model.ChatSession, error) {
	var session model.ChatSession
	err := r.db.
		Where("user_id = ? AND persona_id = ? AND active = ?", userID, personaID, true).
		Order("started_at DESC").
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// AppendTurn 追加消息并同步递增消息计数，两者在同一事务内完成。
func (r *sessionRepository) AppendTurn(sessionID uint, role, content string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		turn := model.TurnRecord{
			SessionID: sessionID,
			Role:      role,
			Content:   content,
		}
		if err := tx.Create(&turn).Error; err != nil {
			return err
		}
		return tx.Model(&model.ChatSession{}).
			Where("id = ?", sessionID).
			UpdateColumn("message_count", gorm.Expr("message_count + ?", 1)).Error
	})
}

// End 结束一个会话。仅更新仍处于活跃状态的行，因此重复调用不会改变 EndedAt。
func (r *sessionRepository) End(sessionID uint, endedAt time.Time) error {
	return r.db.Model(&model.ChatSession{}).
		Where("id = ? AND active = ?", sessionID, true).
		Updates(map[string]interface{}{"active": false, "ended_at": endedAt}).Error
}

// ListTurns 按时间升序（相同时间按插入顺序）返回会话消息。
func (r *sessionRepository) ListTurns(sessionID uint) ([]model.TurnRecord, error) {
	var turns []model.TurnRecord
	err := r.db.
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&turns).Error
	return turns, err
}

// FindIdleActive 查找最后一条消息早于 cutoff 的活跃会话。
// 没有任何消息的会话按其开始时间判断。
func (r *sessionRepository) FindIdleActive(cutoff time.Time) ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	err := r.db.
		Where("active = ?", true).
		Where("id NOT IN (?)",
			r.db.Model(&model.TurnRecord{}).
				Select("session_id").
				Where("created_at >= ?", cutoff),
		).
		Where("started_at < ?", cutoff).
		Find(&sessions).Error
	return sessions, err
}

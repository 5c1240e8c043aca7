package repository

import (
	"mentalist-go/internal/model"

	"gorm.io/gorm"
)

// OutcomeRepository 接口定义了经验判定记录的持久化操作。
// Outcome 只追加不修改，因此这里没有任何 Update 方法。
type OutcomeRepository interface {
	// Create 在给定事务内写入一条 Outcome。
	Create(tx *gorm.DB, outcome *model.Outcome) error
	// FindRecentByPersona 按时间倒序返回某人格最近的 limit 条记录。
	FindRecentByPersona(personaID uint, limit int) ([]model.Outcome, error)
	// FindRecentByUserAndPersona 按时间倒序返回某 (用户, 人格) 组合最近的 limit 条记录。
	// limit <= 0 表示不限数量。
	FindRecentByUserAndPersona(userID string, personaID uint, limit int) ([]model.Outcome, error)
	FindBySessionID(sessionID uint) (*model.Outcome, error)
}

// outcomeRepository 是 OutcomeRepository 接口的 GORM 实现。
type outcomeRepository struct {
	db *gorm.DB
}

// NewOutcomeRepository 创建一个新的 OutcomeRepository 实例。
func NewOutcomeRepository(db *gorm.DB) OutcomeRepository {
	return &outcomeRepository{db: db}
}

// Create 在事务内写入一条 Outcome 记录。
func (r *outcomeRepository) Create(tx *gorm.DB, outcome *model.Outcome) error {
	return tx.Create(outcome).Error
}

// FindRecentByPersona 查询某人格最近的经验记录，最近的排在最前。
func (r *outcomeRepository) FindRecentByPersona(personaID uint, limit int) ([]model.Outcome, error) {
	var outcomes []model.Outcome
	err := r.db.
		Where("persona_id = ?", personaID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&outcomes).Error
	return outcomes, err
}

// FindRecentByUserAndPersona 查询某 (用户, 人格) 组合最近的经验记录。
func (r *outcomeRepository) FindRecentByUserAndPersona(userID string, personaID uint, limit int) ([]model.Outcome, error) {
	q := r.db.
		Where("user_id = ? AND persona_id = ?", userID, personaID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var outcomes []model.Outcome
	err := q.Find(&outcomes).Error
	return outcomes, err
}

// FindBySessionID 根据会话 ID 查找对应的 Outcome。
func (r *outcomeRepository) FindBySessionID(sessionID uint) (*model.Outcome, error) {
	var outcome model.Outcome
	if err := r.db.Where("session_id = ?", sessionID).First(&outcome).Error; err != nil {
		return nil, err
	}
	return &outcome, nil
}

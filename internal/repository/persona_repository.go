// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"mentalist-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PersonaRepository 接口定义了人格档案的持久化操作。
type PersonaRepository interface {
	Create(persona *model.Persona) error
	FindByID(id uint) (*model.Persona, error)
	FindByName(name string) (*model.Persona, error)
	FindAll() ([]model.Persona, error)
	// FindByIDForUpdate 在给定事务内加行锁读取，用于会话结束时的计数器更新。
	FindByIDForUpdate(tx *gorm.DB, id uint) (*model.Persona, error)
	// UpdateLearningState 在给定事务内保存计数器变更。
	UpdateLearningState(tx *gorm.DB, persona *model.Persona) error
}

// personaRepository 是 PersonaRepository 接口的 GORM 实现。
type personaRepository struct {
	db *gorm.DB
}

// NewPersonaRepository 创建一个新的 PersonaRepository 实例。
func NewPersonaRepository(db *gorm.DB) PersonaRepository {
	return &personaRepository{db: db}
}

// Create 在数据库中创建一条新的人格记录。
func (r *personaRepository) Create(persona *model.Persona) error {
	return r.db.Create(persona).Error
}

// FindByID 根据 ID 查找人格。
func (r *personaRepository) FindByID(id uint) (*model.Persona, error) {
	var persona model.Persona
	if err := r.db.First(&persona, id).Error; err != nil {
		return nil, err
	}
	return &persona, nil
}

// FindByName 根据名称查找人格。
func (r *personaRepository) FindByName(name string) (*model.Persona, error) {
	var persona model.Persona
	if err := r.db.Where("name = ?", name).First(&persona).Error; err != nil {
		return nil, err
	}
	return &persona, nil
}

// FindAll 检索所有人格记录。
func (r *personaRepository) FindAll() ([]model.Persona, error) {
	var personas []model.Persona
	err := r.db.Find(&personas).Error
	return personas, err
}

// lockForUpdate 在支持行锁的数据库上附加 FOR UPDATE。
// SQLite 不支持该子句，其单写者语义本身已足够串行化。
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// FindByIDForUpdate 在事务内以 FOR UPDATE 语义读取人格行。
func (r *personaRepository) FindByIDForUpdate(tx *gorm.DB, id uint) (*model.Persona, error) {
	var persona model.Persona
	if err := lockForUpdate(tx).First(&persona, id).Error; err != nil {
		return nil, err
	}
	return &persona, nil
}

// UpdateLearningState 保存一条人格记录的学习状态字段。
func (r *personaRepository) UpdateLearningState(tx *gorm.DB, persona *model.Persona) error {
	return tx.Model(persona).Select(
		"experience_level", "total_sessions", "known_techniques", "last_session_at",
	).Updates(persona).Error
}

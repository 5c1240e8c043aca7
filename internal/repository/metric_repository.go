package repository

import (
	"mentalist-go/internal/model"

	"gorm.io/gorm"
)

// MetricRepository 接口定义了技巧指标行的持久化操作。
type MetricRepository interface {
	// FindForUpdate 在给定事务内加行锁读取某 (personaID, technique) 的指标行。
	// 不存在时返回 gorm.ErrRecordNotFound。
	FindForUpdate(tx *gorm.DB, personaID uint, technique string) (*model.TechniqueMetric, error)
	// Create 在给定事务内创建指标行。
	Create(tx *gorm.DB, metric *model.TechniqueMetric) error
	// Save 在给定事务内保存指标行的全部统计字段。
	Save(tx *gorm.DB, metric *model.TechniqueMetric) error
	// TopByPersona 按成功率降序（相同成功率按尝试次数降序）返回前 limit 条。
	TopByPersona(personaID uint, limit int) ([]model.TechniqueMetric, error)
}

// metricRepository 是 MetricRepository 接口的 GORM 实现。
type metricRepository struct {
	db *gorm.DB
}

// NewMetricRepository 创建一个新的 MetricRepository 实例。
func NewMetricRepository(db *gorm.DB) MetricRepository {
	return &metricRepository{db: db}
}

// FindForUpdate 在事务内以 FOR UPDATE 语义读取指标行。
func (r *metricRepository) FindForUpdate(tx *gorm.DB, personaID uint, technique string) (*model.TechniqueMetric, error) {
	var metric model.TechniqueMetric
	err := lockForUpdate(tx).
		Where("persona_id = ? AND technique = ?", personaID, technique).
		First(&metric).Error
	if err != nil {
		return nil, err
	}
	return &metric, nil
}

// Create 创建一条指标行。
func (r *metricRepository) Create(tx *gorm.DB, metric *model.TechniqueMetric) error {
	return tx.Create(metric).Error
}

// Save 保存指标行的统计字段。
func (r *metricRepository) Save(tx *gorm.DB, metric *model.TechniqueMetric) error {
	return tx.Model(metric).Select(
		"total_attempts", "success_count", "success_rate", "average_rating",
	).Updates(metric).Error
}

// TopByPersona 返回某人格表现最好的技巧指标。
func (r *metricRepository) TopByPersona(personaID uint, limit int) ([]model.TechniqueMetric, error) {
	var metrics []model.TechniqueMetric
	err := r.db.
		Where("persona_id = ?", personaID).
		Order("success_rate DESC, total_attempts DESC").
		Limit(limit).
		Find(&metrics).Error
	return metrics, err
}

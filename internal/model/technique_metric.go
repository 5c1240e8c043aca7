package model

import "time"

// TechniqueMetric 维护某个 (PersonaID, Technique) 组合的累计成功率与评分。
// 每条记录由在线公式增量更新，从不基于全量历史重算。
type TechniqueMetric struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	PersonaID     uint      `gorm:"uniqueIndex:idx_persona_technique;not null" json:"personaId"`
	Technique     string    `gorm:"uniqueIndex:idx_persona_technique;size:64;not null" json:"technique"`
	TotalAttempts int       `gorm:"not null;default:0" json:"totalAttempts"`
	SuccessCount  int       `gorm:"not null;default:0" json:"successCount"`
	SuccessRate   float64   `gorm:"not null;default:0" json:"successRate"`
	AverageRating float64   `gorm:"not null;default:0" json:"averageRating"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (TechniqueMetric) TableName() string {
	return "technique_metrics"
}

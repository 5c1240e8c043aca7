package service

import (
	"context"
	"errors"
	"fmt"

	"mentalist-go/internal/model"
	"mentalist-go/internal/repository"

	"gorm.io/gorm"
)

// MetricService 定义了技巧指标的增量维护接口。
type MetricService interface {
	// RecordAttempt 在给定事务内记录一次技巧尝试，采用在线公式增量更新，
	// 从不基于全量历史重算。行不存在时惰性创建。
	RecordAttempt(tx *gorm.DB, personaID uint, technique string, success bool, rating float64) (*model.TechniqueMetric, error)
	// TopTechniques 返回某人格按成功率排名最靠前的指标行。
	TopTechniques(ctx context.Context, personaID uint, limit int) ([]model.TechniqueMetric, error)
}

type metricService struct {
	metricRepo repository.MetricRepository
}

// NewMetricService 创建一个新的 MetricService 实例。
func NewMetricService(metricRepo repository.MetricRepository) MetricService {
	return &metricService{metricRepo: metricRepo}
}

// RecordAttempt 记录一次尝试。更新在行锁保护下执行，
// 并发的会话结束事件对同一 (persona, technique) 的读-改-写串行化。
func (s *metricService) RecordAttempt(tx *gorm.DB, personaID uint, technique string, success bool, rating float64) (*model.TechniqueMetric, error) {
	metric, err := s.metricRepo.FindForUpdate(tx, personaID, technique)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metric = &model.TechniqueMetric{
			PersonaID:     personaID,
			Technique:     technique,
			TotalAttempts: 1,
			AverageRating: rating,
		}
		if success {
			metric.SuccessCount = 1
			metric.SuccessRate = 1.0
		}
		if err := s.metricRepo.Create(tx, metric); err != nil {
			return nil, fmt.Errorf("failed to create technique metric: %w", err)
		}
		return metric, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load technique metric: %w", err)
	}

	// 在线更新：newAvg = (avg*n + rating) / (n+1)，对任意 n 精确复现算术平均
	newTotal := metric.TotalAttempts + 1
	if success {
		metric.SuccessCount++
	}
	metric.AverageRating = (metric.AverageRating*float64(metric.TotalAttempts) + rating) / float64(newTotal)
	metric.TotalAttempts = newTotal
	metric.SuccessRate = float64(metric.SuccessCount) / float64(newTotal)

	if err := s.metricRepo.Save(tx, metric); err != nil {
		return nil, fmt.Errorf("failed to save technique metric: %w", err)
	}
	return metric, nil
}

// TopTechniques 返回表现最好的技巧指标。
func (s *metricService) TopTechniques(ctx context.Context, personaID uint, limit int) ([]model.TechniqueMetric, error) {
	metrics, err := s.metricRepo.TopByPersona(personaID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load technique metrics: %w", err)
	}
	return metrics, nil
}

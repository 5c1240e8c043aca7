package service

import (
	"context"
	"testing"

	"mentalist-go/internal/model"
	"mentalist-go/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAttempt_CreatesRowLazily(t *testing.T) {
	db := newTestDB(t)
	svc := NewMetricService(repository.NewMetricRepository(db))

	metric, err := svc.RecordAttempt(db, 1, "card_force", true, 5.0)
	require.NoError(t, err)
	assert.Equal(t, 1, metric.TotalAttempts)
	assert.Equal(t, 1, metric.SuccessCount)
	assert.Equal(t, 1.0, metric.SuccessRate)
	assert.Equal(t, 5.0, metric.AverageRating)

	var stored model.TechniqueMetric
	require.NoError(t, db.Where("persona_id = ? AND technique = ?", 1, "card_force").First(&stored).Error)
	assert.Equal(t, 1, stored.TotalAttempts)
}

func TestRecordAttempt_OnlineUpdate(t *testing.T) {
	db := newTestDB(t)
	svc := NewMetricService(repository.NewMetricRepository(db))

	_, err := svc.RecordAttempt(db, 1, "card_force", true, 5.0)
	require.NoError(t, err)

	metric, err := svc.RecordAttempt(db, 1, "card_force", false, 2.0)
	require.NoError(t, err)
	assert.Equal(t, 2, metric.TotalAttempts)
	assert.Equal(t, 1, metric.SuccessCount)
	assert.Equal(t, 0.5, metric.SuccessRate)
	assert.Equal(t, 3.5, metric.AverageRating)
}

// 在线公式必须对任意 n 复现算术平均。
func TestRecordAttempt_AverageMatchesFullHistory(t *testing.T) {
	db := newTestDB(t)
	svc := NewMetricService(repository.NewMetricRepository(db))

	ratings := []float64{5, 4, 3, 2, 1, 4, 5, 3}
	var sum float64
	var last *model.TechniqueMetric
	for _, r := range ratings {
		sum += r
		metric, err := svc.RecordAttempt(db, 7, "cold_reading", r >= 4, r)
		require.NoError(t, err)
		last = metric
	}

	assert.Equal(t, len(ratings), last.TotalAttempts)
	assert.InDelta(t, sum/float64(len(ratings)), last.AverageRating, 1e-9)
	assert.InDelta(t, 4.0/8.0, last.SuccessRate, 1e-9)
}

func TestRecordAttempt_IsolatedPerPersonaAndTechnique(t *testing.T) {
	db := newTestDB(t)
	svc := NewMetricService(repository.NewMetricRepository(db))

	_, err := svc.RecordAttempt(db, 1, "card_force", true, 5.0)
	require.NoError(t, err)
	_, err = svc.RecordAttempt(db, 1, "cold_reading", false, 2.0)
	require.NoError(t, err)
	_, err = svc.RecordAttempt(db, 2, "card_force", false, 1.0)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&model.TechniqueMetric{}).Count(&count).Error)
	assert.EqualValues(t, 3, count)

	metric, err := repository.NewMetricRepository(db).FindForUpdate(db, 1, "card_force")
	require.NoError(t, err)
	assert.Equal(t, 1, metric.TotalAttempts)
	assert.Equal(t, 1.0, metric.SuccessRate)
}

func TestTopTechniques_Ordering(t *testing.T) {
	db := newTestDB(t)
	svc := NewMetricService(repository.NewMetricRepository(db))

	// cold_reading 两次全成功，card_force 两次一半成功，misdirection 一次失败
	_, err := svc.RecordAttempt(db, 1, "cold_reading", true, 5.0)
	require.NoError(t, err)
	_, err = svc.RecordAttempt(db, 1, "cold_reading", true, 4.0)
	require.NoError(t, err)
	_, err = svc.RecordAttempt(db, 1, "card_force", true, 5.0)
	require.NoError(t, err)
	_, err = svc.RecordAttempt(db, 1, "card_force", false, 2.0)
	require.NoError(t, err)
	_, err = svc.RecordAttempt(db, 1, "misdirection", false, 1.0)
	require.NoError(t, err)

	metrics, err := svc.TopTechniques(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	assert.Equal(t, "cold_reading", metrics[0].Technique)
	assert.Equal(t, "card_force", metrics[1].Technique)
}

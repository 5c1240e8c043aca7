// Package model 包含了应用的数据模型定义。
package model

import (
	"encoding/json"
	"time"
)

// Persona 代表一个可学习的表演者人格档案。
// 计数器只由经验沉淀流程在会话结束后更新，人格记录从不删除。
type Persona struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Name            string     `gorm:"uniqueIndex;size:64;not null" json:"name"`
	BasePrompt      string     `gorm:"type:text;not null" json:"basePrompt"`
	KnowledgeBase   string     `gorm:"type:text" json:"knowledgeBase"`
	ExperienceLevel int        `gorm:"not null;default:0" json:"experienceLevel"`
	TotalSessions   int        `gorm:"not null;default:0" json:"totalSessions"`
	KnownTechniques string     `gorm:"type:text" json:"-"` // JSON 序列化的技巧名称集合，只增不减
	LearningEnabled bool       `gorm:"not null;default:true" json:"learningEnabled"`
	LastSessionAt   *time.Time `json:"lastSessionAt"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"createdAt"`
}

func (Persona) TableName() string {
	return "personas"
}

// TechniqueSet 反序列化 KnownTechniques 字段。
func (p *Persona) TechniqueSet() []string {
	if p.KnownTechniques == "" {
		return nil
	}
	var techniques []string
	if err := json.Unmarshal([]byte(p.KnownTechniques), &techniques); err != nil {
		return nil
	}
	return techniques
}

// AddTechnique 将一个技巧加入集合（幂等），返回是否发生了变化。
func (p *Persona) AddTechnique(technique string) bool {
	techniques := p.TechniqueSet()
	for _, t := range techniques {
		if t == technique {
			return false
		}
	}
	techniques = append(techniques, technique)
	b, err := json.Marshal(techniques)
	if err != nil {
		return false
	}
	p.KnownTechniques = string(b)
	return true
}

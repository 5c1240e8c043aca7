package model

import (
	"encoding/json"
	"time"
)

// 观众反应的五档取值，由 sentiment 确定性映射得到。
const (
	ReactionAmazed    = "amazed"
	ReactionEngaged   = "engaged"
	ReactionNeutral   = "neutral"
	ReactionSkeptical = "skeptical"
	ReactionConfused  = "confused"
)

// DefaultTechnique 是分析未能识别出具体技巧时的兜底取值。
const DefaultTechnique = "general_interaction"

// 分析结果的来源标识。
const (
	AnalyzedByExternal  = "external"
	AnalyzedByHeuristic = "heuristic"
)

// Outcome 是每次会话结束后写入的唯一一条经验判定记录。
// 写入后不再修改，是学习管线其余部分读取的只追加账本。
type Outcome struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	PersonaID       uint      `gorm:"index;not null" json:"personaId"`
	UserID          string    `gorm:"index;size:128;not null" json:"userId"`
	SessionID       uint      `gorm:"uniqueIndex;not null" json:"sessionId"`
	Sentiment       float64   `gorm:"not null" json:"sentiment"`
	Reaction        string    `gorm:"size:16;not null" json:"reaction"`
	Technique       string    `gorm:"size:64;not null" json:"technique"`
	WhatWorked      string    `gorm:"type:text" json:"whatWorked"`
	WhatFailed      string    `gorm:"type:text" json:"whatFailed"`
	LessonLearned   string    `gorm:"type:text" json:"lessonLearned"`
	TurnCount       int       `gorm:"not null" json:"turnCount"`
	DurationSeconds int       `gorm:"not null" json:"durationSeconds"`
	KeyMoments      string    `gorm:"type:text" json:"-"` // JSON 序列化的有序字符串列表
	AnalyzedBy      string    `gorm:"size:16;not null" json:"analyzedBy"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Outcome) TableName() string {
	return "outcomes"
}

// KeyMomentList 反序列化 KeyMoments 字段。
func (o *Outcome) KeyMomentList() []string {
	if o.KeyMoments == "" {
		return nil
	}
	var moments []string
	if err := json.Unmarshal([]byte(o.KeyMoments), &moments); err != nil {
		return nil
	}
	return moments
}

// TranscriptAnalysis 是分析服务对一段完整会话记录的结构化判定。
// AnalyzedBy 记录判定来自外部模型还是本地启发式兜底。
type TranscriptAnalysis struct {
	Sentiment     float64  `json:"sentiment"`
	Technique     string   `json:"technique_used"`
	WhatWorked    string   `json:"what_worked"`
	WhatFailed    string   `json:"what_did_not_work"`
	LessonLearned string   `json:"lesson_learned"`
	KeyMoments    []string `json:"key_moments"`
	Success       bool     `json:"mentalist_success"`
	AnalyzedBy    string   `json:"-"`
}

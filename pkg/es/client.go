// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mentalist-go/internal/config"
	"mentalist-go/internal/model"
	"mentalist-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// OutcomeDocument 是写入经验索引的文档结构，用于对历史经验做全文检索。
type OutcomeDocument struct {
	OutcomeID     uint      `json:"outcome_id"`
	PersonaID     uint      `json:"persona_id"`
	UserID        string    `json:"user_id"`
	Technique     string    `json:"technique"`
	Reaction      string    `json:"reaction"`
	Sentiment     float64   `json:"sentiment"`
	WhatWorked    string    `json:"what_worked"`
	WhatFailed    string    `json:"what_did_not_work"`
	LessonLearned string    `json:"lesson_learned"`
	KeyMoments    []string  `json:"key_moments"`
	CreatedAt     time.Time `json:"created_at"`
}

// InitES 初始化 Elasticsearch 客户端
func InitES(esCfg config.ElasticsearchConfig) error {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(esCfg.IndexName)
}

// Enabled 返回客户端是否已初始化。未配置 ES 时经验索引被跳过。
func Enabled() bool {
	return ESClient != nil
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(indexName string) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	// 如果 res.StatusCode 是 200，说明索引已存在
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	// 如果 res.StatusCode 是 404，说明索引不存在，需要创建
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := `{
		"mappings": {
			"properties": {
				"outcome_id": { "type": "long" },
				"persona_id": { "type": "long" },
				"user_id": { "type": "keyword" },
				"technique": { "type": "keyword" },
				"reaction": { "type": "keyword" },
				"sentiment": { "type": "float" },
				"what_worked": { "type": "text" },
				"what_did_not_work": { "type": "text" },
				"lesson_learned": { "type": "text" },
				"key_moments": { "type": "text" },
				"created_at": { "type": "date" }
			}
		}
	}`

	res, err = ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(mapping)),
	)

	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// IndexOutcome 将一条经验记录索引到 Elasticsearch。
func IndexOutcome(ctx context.Context, indexName string, outcome *model.Outcome) error {
	doc := OutcomeDocument{
		OutcomeID:     outcome.ID,
		PersonaID:     outcome.PersonaID,
		UserID:        outcome.UserID,
		Technique:     outcome.Technique,
		Reaction:      outcome.Reaction,
		Sentiment:     outcome.Sentiment,
		WhatWorked:    outcome.WhatWorked,
		WhatFailed:    outcome.WhatFailed,
		LessonLearned: outcome.LessonLearned,
		KeyMoments:    outcome.KeyMomentList(),
		CreatedAt:     outcome.CreatedAt,
	}

	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: strconv.FormatUint(uint64(outcome.ID), 10),
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, ESClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引经验记录到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index outcome")
	}

	return nil
}

// SearchLessons 对经验索引做全文检索，覆盖 lesson/what_worked/key_moments 字段。
func SearchLessons(ctx context.Context, indexName, query string, size int) ([]OutcomeDocument, error) {
	searchBody := map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"lesson_learned^2", "what_worked", "what_did_not_work", "key_moments"},
			},
		},
		"sort": []map[string]interface{}{
			{"created_at": map[string]string{"order": "desc"}},
		},
	}

	bodyBytes, err := json.Marshal(searchBody)
	if err != nil {
		return nil, err
	}

	res, err := ESClient.Search(
		ESClient.Search.WithContext(ctx),
		ESClient.Search.WithIndex(indexName),
		ESClient.Search.WithBody(bytes.NewReader(bodyBytes)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search outcomes: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search returned error: %s", res.String())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source OutcomeDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	docs := make([]OutcomeDocument, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		docs = append(docs, hit.Source)
	}
	return docs, nil
}

// Package service 提供了搜索相关的业务逻辑。
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"docchat-go/internal/config"
	"docchat-go/internal/model"
	"docchat-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// SearchService 定义了对分块索引的关键词搜索。
// 这是对向量检索的补充能力，面向管理与排查场景。
type SearchService interface {
	KeywordSearch(ctx context.Context, query string, topK int) ([]model.KeywordSearchResult, error)
}

type searchService struct {
	esClient *elasticsearch.Client
	esCfg    config.ElasticsearchConfig
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(esClient *elasticsearch.Client, esCfg config.ElasticsearchConfig) SearchService {
	return &searchService{esClient: esClient, esCfg: esCfg}
}

// KeywordSearch 对分块文本执行 match 查询，返回得分降序的前 topK 条。
func (s *searchService) KeywordSearch(ctx context.Context, query string, topK int) ([]model.KeywordSearchResult, error) {
	if topK <= 0 {
		topK = 10
	}

	esQuery := map[string]interface{}{
		"query": map[string]interface{}{
			"match": map[string]interface{}{
				"text_content": query,
			},
		},
		"size": topK,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("序列化搜索请求失败: %w", err)
	}

	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(ctx),
		s.esClient.Search.WithIndex(s.esCfg.IndexName),
		s.esClient.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[SearchService] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.ChunkDocument `json:"_source"`
				Score  float64             `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("解析 Elasticsearch 响应失败: %w", err)
	}

	results := make([]model.KeywordSearchResult, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		results = append(results, model.KeywordSearchResult{
			DocumentID:  hit.Source.DocumentID,
			FileName:    hit.Source.FileName,
			ChunkIndex:  hit.Source.ChunkIndex,
			TextContent: hit.Source.TextContent,
			Score:       hit.Score,
		})
	}
	return results, nil
}

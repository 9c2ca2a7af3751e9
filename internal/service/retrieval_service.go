// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/embedding"
	"docchat-go/pkg/log"
)

// 检索相关的经验常数。这些数值没有原理性推导，是调出来的，
// 改动会破坏与既有缓存数据的行为兼容性，保持原样。
const (
	// DefaultTopK 是默认返回的段落数。
	DefaultTopK = 3
	// exactMatchScore 是词面回退路径下整句命中的得分。
	exactMatchScore = 0.9
	// wordOverlapWeight 是词面回退路径下词重叠比例的权重。
	wordOverlapWeight = 0.7
	// simplifiedFloor 是简化类别在泛指文档查询下的相似度下限。
	simplifiedFloor = 0.8
	// discardThreshold 是词面回退候选的丢弃阈值（向量路径候选不受限）。
	discardThreshold = 0.1
)

// Retriever 定义了段落检索的接口。
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]model.RetrievedPassage, error)
}

type retrievalService struct {
	docRepo      repository.DocumentRepository
	passageCache repository.PassageCacheRepository
}

// NewRetrievalService 创建一个新的 Retriever 实例。
func NewRetrievalService(docRepo repository.DocumentRepository, passageCache repository.PassageCacheRepository) Retriever {
	return &retrievalService{
		docRepo:      docRepo,
		passageCache: passageCache,
	}
}

// Retrieve 对所有 completed 文档的全部分块打分，返回相似度降序的前 topK 个。
// 段落缓存命中时走向量路径（查询伪向量与缓存向量的余弦相似度），
// 未命中时走词面重叠回退——缓存缺失永远不是错误。
// 排序稳定：相似度相同时按文档迭代顺序、再按分块索引先到先得。
func (s *retrievalService) Retrieve(ctx context.Context, query string, topK int) ([]model.RetrievedPassage, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	docs, err := s.docRepo.FindCompleted()
	if err != nil {
		return nil, fmt.Errorf("读取已完成文档失败: %w", err)
	}
	if len(docs) == 0 {
		return []model.RetrievedPassage{}, nil
	}

	queryVector := embedding.Embed(query)
	queryLower := strings.ToLower(query)

	var candidates []model.RetrievedPassage
	for _, doc := range docs {
		generic := referencesDocument(queryLower, doc.FileName)
		for _, chunk := range doc.Chunks {
			passage := s.scoreChunk(ctx, queryVector, queryLower, &doc, &chunk, generic)
			if passage == nil {
				continue
			}
			candidates = append(candidates, *passage)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

// scoreChunk 为单个分块打分。单块失败只记录并跳过，绝不中断整体检索。
func (s *retrievalService) scoreChunk(ctx context.Context, queryVector []float32, queryLower string, doc *model.Document, chunk *model.DocumentChunk, generic bool) *model.RetrievedPassage {
	if strings.TrimSpace(chunk.TextContent) == "" {
		log.Warnf("[Retriever] 文档 %s 分块 %d 文本为空, 跳过", doc.ID, chunk.ChunkIndex)
		return nil
	}

	var similarity float64
	var fromEmbedding bool
	if entry, ok := s.passageCache.Get(ctx, doc.ID, chunk.ChunkIndex); ok {
		similarity = embedding.Cosine(queryVector, entry.Vector)
		fromEmbedding = true
	} else {
		similarity = lexicalScore(queryLower, chunk.TextContent)
	}

	// 简化类别的提取文本必然稀疏，泛指文档的查询给予下限补偿
	if generic && model.IsSimplifiedCategory(doc.FileCategory) && similarity < simplifiedFloor {
		similarity = simplifiedFloor
	}

	// 向量路径候选始终保留，只有词面回退路径应用丢弃阈值
	if !fromEmbedding && similarity <= discardThreshold {
		return nil
	}

	return &model.RetrievedPassage{
		Text:          chunk.TextContent,
		Similarity:    similarity,
		DocumentID:    doc.ID,
		FileName:      doc.FileName,
		FileCategory:  doc.FileCategory,
		FromEmbedding: fromEmbedding,
	}
}

// lexicalScore 是无向量时的词面回退打分：
// 整句子串命中得 0.9，否则按长度大于 2 的查询词命中比例乘以 0.7。
func lexicalScore(queryLower, chunkText string) float64 {
	chunkLower := strings.ToLower(chunkText)
	if strings.Contains(chunkLower, queryLower) {
		return exactMatchScore
	}

	var total, found int
	for _, word := range strings.Fields(queryLower) {
		if len(word) <= 2 {
			continue
		}
		total++
		if strings.Contains(chunkLower, word) {
			found++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(found) / float64(total) * wordOverlapWeight
}

// referencesDocument 判断查询是否泛指"这个文档"：
// 包含 document/file/summary 一类关键词，或文档自身去扩展名的名字。
func referencesDocument(queryLower, fileName string) bool {
	for _, kw := range []string{"document", "file", "summary", "summarize", "文档", "文件", "摘要", "总结"} {
		if strings.Contains(queryLower, kw) {
			return true
		}
	}
	base := strings.ToLower(strings.TrimSpace(model.BaseName(fileName)))
	return base != "" && strings.Contains(queryLower, base)
}

package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/websearch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswerCacheKeyIsPure(t *testing.T) {
	key1 := AnswerCacheKey("room-1", "发票怎么报销?", false)
	key2 := AnswerCacheKey("room-1", "发票怎么报销?", false)
	assert.Equal(t, key1, key2)

	assert.NotEqual(t, key1, AnswerCacheKey("room-2", "发票怎么报销?", false))
	assert.NotEqual(t, key1, AnswerCacheKey("room-1", "发票怎么报销?", true))
	assert.NotEqual(t, key1, AnswerCacheKey("room-1", "发票怎么报销？", false))
}

func TestAnswerCacheHitSkipsGeneration(t *testing.T) {
	llmClient := &fakeLLMClient{reply: "根据文档，报销需要先填单。"}
	answerCache := newFakeAnswerCache()
	svc := NewAnswerService(
		&fakeRetriever{passages: []model.RetrievedPassage{
			{Text: "报销需要先填单", Similarity: 0.9, DocumentID: "doc-1", FileName: "faq.md", FileCategory: model.CategoryMD},
		}},
		answerCache,
		&fakeDocumentRepository{},
		llmClient,
		&fakeWebSearchClient{},
	)

	first := svc.Answer(context.Background(), "room-1", "发票怎么报销?", false)
	second := svc.Answer(context.Background(), "room-1", "发票怎么报销?", false)

	assert.Equal(t, 1, llmClient.calls())
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, repository.AnswerTTL, answerCache.lastTTL)
}

func TestAnswerDocumentOnlyPath(t *testing.T) {
	llmClient := &fakeLLMClient{reply: "报销流程分三步。"}
	svc := NewAnswerService(
		&fakeRetriever{passages: []model.RetrievedPassage{
			{Text: "报销第一步", Similarity: 0.876, DocumentID: "doc-1", FileName: "faq.md", FileCategory: model.CategoryMD},
			{Text: "报销第二步", Similarity: 0.5, DocumentID: "doc-1", FileName: "faq.md", FileCategory: model.CategoryMD},
		}},
		newFakeAnswerCache(),
		&fakeDocumentRepository{},
		llmClient,
		&fakeWebSearchClient{},
	)

	answer := svc.Answer(context.Background(), "room-1", "发票怎么报销?", false)

	assert.Equal(t, "报销流程分三步。", answer.Answer)
	assert.False(t, answer.WebSearchUsed)
	assert.Empty(t, answer.WebResults)

	// 同一文档的两个段落合并为一条来源, 相似度保留两位小数
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "faq.md", answer.Sources[0].DocumentName)
	assert.Equal(t, 0.88, answer.Sources[0].Similarity)

	prompt := llmClient.lastPrompt()
	assert.Contains(t, prompt, "文档段落")
	assert.Contains(t, prompt, "报销第一步")
	assert.NotContains(t, prompt, "联网搜索结果")
}

func TestAnswerWebOnlyPath(t *testing.T) {
	llmClient := &fakeLLMClient{reply: "根据搜索结果整理如下。"}
	webClient := &fakeWebSearchClient{results: []websearch.Result{
		{Title: "Go 1.24 发布", Link: "https://a.example/1", Source: "a.example"},
		{Title: "泛型进展", Link: "https://b.example/2", Source: "b.example"},
		{Title: "重复链接", Link: "https://a.example/1", Source: "a.example"},
		{Title: "第四条", Link: "https://c.example/3", Source: "c.example"},
	}}
	svc := NewAnswerService(
		&fakeRetriever{},
		newFakeAnswerCache(),
		&fakeDocumentRepository{},
		llmClient,
		webClient,
	)

	answer := svc.Answer(context.Background(), "room-1", "请联网搜索 golang 泛型的最新消息?", true)

	assert.Equal(t, "根据搜索结果整理如下。", answer.Answer)
	assert.True(t, answer.WebSearchUsed)
	assert.Empty(t, answer.Sources)
	// 按链接去重, 保持插入顺序
	require.Len(t, answer.WebResults, 3)
	assert.Equal(t, "https://a.example/1", answer.WebResults[0].Link)
	assert.Equal(t, "https://b.example/2", answer.WebResults[1].Link)
	assert.Equal(t, "https://c.example/3", answer.WebResults[2].Link)

	// 最多请求 4 条结果
	assert.Equal(t, 4, webClient.lastN)

	prompt := llmClient.lastPrompt()
	assert.Contains(t, prompt, "联网搜索结果")
	assert.NotContains(t, prompt, "文档段落")
}

func TestAnswerCombinedPath(t *testing.T) {
	llmClient := &fakeLLMClient{reply: "结合文档与网络信息回答。"}
	webClient := &fakeWebSearchClient{results: []websearch.Result{
		{Title: "外部资料", Link: "https://a.example/1", Source: "a.example"},
	}}
	svc := NewAnswerService(
		&fakeRetriever{passages: []model.RetrievedPassage{
			{Text: "文档里的段落", Similarity: 0.7, DocumentID: "doc-1", FileName: "a.txt", FileCategory: model.CategoryTXT},
		}},
		newFakeAnswerCache(),
		&fakeDocumentRepository{},
		llmClient,
		webClient,
	)

	answer := svc.Answer(context.Background(), "room-1", "请联网搜索并结合文档回答?", true)

	require.Len(t, answer.Sources, 1)
	require.Len(t, answer.WebResults, 1)
	prompt := llmClient.lastPrompt()
	assert.Contains(t, prompt, "文档段落")
	assert.Contains(t, prompt, "联网搜索结果")
	assert.Equal(t, "结合文档与网络信息回答。", answer.Answer)
}

func TestAnswerWebRequestedButDisabled(t *testing.T) {
	llmClient := &fakeLLMClient{reply: "不应被调用"}
	answerCache := newFakeAnswerCache()
	svc := NewAnswerService(
		&fakeRetriever{},
		answerCache,
		&fakeDocumentRepository{docs: []model.Document{{ID: "doc-1"}}},
		llmClient,
		&fakeWebSearchClient{},
	)

	answer := svc.Answer(context.Background(), "room-1", "请联网搜索最新消息?", false)

	assert.Equal(t, answerWebDisabled, answer.Answer)
	assert.Equal(t, 0, llmClient.calls())
	assert.False(t, answer.WebSearchUsed)
	// 固定解释性回答同样可缓存
	assert.Equal(t, 1, answerCache.size())
}

func TestAnswerNoDocuments(t *testing.T) {
	svc := NewAnswerService(
		&fakeRetriever{},
		newFakeAnswerCache(),
		&fakeDocumentRepository{},
		&fakeLLMClient{},
		&fakeWebSearchClient{},
	)

	answer := svc.Answer(context.Background(), "room-1", "这个问题没有答案?", false)
	assert.Equal(t, answerNoDocuments, answer.Answer)
	assert.Empty(t, answer.Sources)
	assert.Empty(t, answer.WebResults)
}

func TestAnswerNoRelevantContent(t *testing.T) {
	svc := NewAnswerService(
		&fakeRetriever{},
		newFakeAnswerCache(),
		&fakeDocumentRepository{docs: []model.Document{{ID: "doc-1", Status: model.DocumentStatusCompleted}}},
		&fakeLLMClient{},
		&fakeWebSearchClient{},
	)

	answer := svc.Answer(context.Background(), "room-1", "完全无关的问题?", false)
	assert.Equal(t, answerNoRelevant, answer.Answer)
}

func TestAnswerApologyNotCached(t *testing.T) {
	llmClient := &fakeLLMClient{err: errors.New("llm unavailable")}
	answerCache := newFakeAnswerCache()
	svc := NewAnswerService(
		&fakeRetriever{passages: []model.RetrievedPassage{
			{Text: "段落", Similarity: 0.9, DocumentID: "doc-1", FileName: "a.txt", FileCategory: model.CategoryTXT},
		}},
		answerCache,
		&fakeDocumentRepository{},
		llmClient,
		&fakeWebSearchClient{},
	)

	answer := svc.Answer(context.Background(), "room-1", "问题?", false)
	assert.Equal(t, answerApology, answer.Answer)
	assert.Equal(t, 0, answerCache.size())

	// 道歉回答未缓存, 重试会再次触发生成
	svc.Answer(context.Background(), "room-1", "问题?", false)
	assert.Equal(t, 2, llmClient.calls())
}

func TestAnswerRetrievalFailureDegrades(t *testing.T) {
	svc := NewAnswerService(
		&fakeRetriever{err: errors.New("database down")},
		newFakeAnswerCache(),
		&fakeDocumentRepository{},
		&fakeLLMClient{},
		&fakeWebSearchClient{},
	)

	answer := svc.Answer(context.Background(), "room-1", "问题?", false)
	assert.Equal(t, answerApology, answer.Answer)
}

func TestAnswerWebSearchFailureIsNotFatal(t *testing.T) {
	llmClient := &fakeLLMClient{reply: "仅基于文档回答。"}
	svc := NewAnswerService(
		&fakeRetriever{passages: []model.RetrievedPassage{
			{Text: "文档段落内容", Similarity: 0.9, DocumentID: "doc-1", FileName: "a.txt", FileCategory: model.CategoryTXT},
		}},
		newFakeAnswerCache(),
		&fakeDocumentRepository{},
		llmClient,
		&fakeWebSearchClient{err: websearch.ErrNotConfigured},
	)

	answer := svc.Answer(context.Background(), "room-1", "请联网搜索这个问题?", true)
	assert.Equal(t, "仅基于文档回答。", answer.Answer)
	assert.Empty(t, answer.WebResults)
	require.Len(t, answer.Sources, 1)
}

func TestAnswerWebResultsShortenTTL(t *testing.T) {
	answerCache := newFakeAnswerCache()
	webClient := &fakeWebSearchClient{results: []websearch.Result{
		{Title: "结果", Link: "https://a.example/1", Source: "a.example"},
	}}
	svc := NewAnswerService(
		&fakeRetriever{},
		answerCache,
		&fakeDocumentRepository{docs: []model.Document{{ID: "doc-1"}}},
		&fakeLLMClient{reply: "回答"},
		webClient,
	)

	// 问题全部由触发短语构成, 聚焦查询仍必须非空并真正发起搜索
	answer := svc.Answer(context.Background(), "room-1", "请联网搜索最新消息?", true)
	require.Len(t, webClient.queries, 1)
	assert.NotEmpty(t, webClient.queries[0])
	require.Len(t, answer.WebResults, 1)
	assert.Equal(t, repository.AnswerWebTTL, answerCache.lastTTL)
}

func TestWantsWebSearch(t *testing.T) {
	assert.True(t, wantsWebSearch("Please search the web for this"))
	assert.True(t, wantsWebSearch("帮我联网搜索一下"))
	assert.True(t, wantsWebSearch("What are the LATEST NEWS?"))
	assert.False(t, wantsWebSearch("发票怎么报销?"))
	assert.False(t, wantsWebSearch("what does the document say"))
}

func TestFocusedQueryFromTopPassage(t *testing.T) {
	passages := []model.RetrievedPassage{
		{Text: "Kubernetes scheduling internals rely on predicates and priorities"},
	}
	query := focusedQuery("how does kubernetes scheduling work in detail", passages)

	terms := strings.Fields(query)
	assert.LessOrEqual(t, len(terms), focusedQueryTerms)
	// 前半取自最高分段落, 后半取自问题, 按插入顺序去重
	assert.Equal(t, "kubernetes scheduling internals does work detail", query)
}

func TestFocusedQueryWithoutPassages(t *testing.T) {
	query := focusedQuery("please search the web for golang generics", nil)
	assert.NotContains(t, query, "search the web")
	assert.Contains(t, query, "golang")
	assert.Contains(t, query, "generics")
}

func TestFocusedQueryTriggerOnlyQuestion(t *testing.T) {
	// 剥离触发短语后为空时退回去掉标点的原文
	query := focusedQuery("请联网搜索最新消息?", nil)
	assert.Equal(t, "请联网搜索最新消息", query)

	query = focusedQuery("please search the web", nil)
	assert.NotEmpty(t, query)
}

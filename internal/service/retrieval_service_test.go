package service

import (
	"context"
	"testing"

	"docchat-go/internal/model"
	"docchat-go/pkg/embedding"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedDoc(id, fileName, category string, chunkTexts ...string) model.Document {
	doc := model.Document{
		ID:           id,
		FileName:     fileName,
		FileCategory: category,
		Status:       model.DocumentStatusCompleted,
	}
	for i, text := range chunkTexts {
		doc.Chunks = append(doc.Chunks, model.DocumentChunk{
			DocumentID:  id,
			ChunkIndex:  i,
			TextContent: text,
		})
	}
	return doc
}

func TestRetrieveEmptyCorpus(t *testing.T) {
	retriever := NewRetrievalService(&fakeDocumentRepository{}, newFakePassageCache())

	passages, err := retriever.Retrieve(context.Background(), "任何问题", 0)
	require.NoError(t, err)
	assert.NotNil(t, passages)
	assert.Empty(t, passages)
}

func TestRetrieveLexicalRanking(t *testing.T) {
	docRepo := &fakeDocumentRepository{docs: []model.Document{
		completedDoc("doc-1", "notes.txt", model.CategoryTXT,
			"alpha beta are discussed together in this paragraph",
			"only alpha appears in this one",
			"nothing matches this paragraph at all",
		),
	}}
	retriever := NewRetrievalService(docRepo, newFakePassageCache())

	passages, err := retriever.Retrieve(context.Background(), "alpha beta release", DefaultTopK)
	require.NoError(t, err)
	// 无命中词的分块得分为 0, 在词面回退路径下被丢弃
	require.Len(t, passages, 2)

	assert.Equal(t, "alpha beta are discussed together in this paragraph", passages[0].Text)
	assert.InDelta(t, 2.0/3.0*0.7, passages[0].Similarity, 1e-9)
	assert.False(t, passages[0].FromEmbedding)

	assert.Equal(t, "only alpha appears in this one", passages[1].Text)
	assert.InDelta(t, 1.0/3.0*0.7, passages[1].Similarity, 1e-9)
}

func TestRetrieveLexicalExactMatch(t *testing.T) {
	docRepo := &fakeDocumentRepository{docs: []model.Document{
		completedDoc("doc-1", "faq.md", model.CategoryMD,
			"报销流程如下：先填单，再找主管审批。",
		),
	}}
	retriever := NewRetrievalService(docRepo, newFakePassageCache())

	passages, err := retriever.Retrieve(context.Background(), "报销流程", DefaultTopK)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, 0.9, passages[0].Similarity)
}

func TestRetrieveEmbeddingPath(t *testing.T) {
	chunkText := "invoice reimbursement procedure step by step"
	docRepo := &fakeDocumentRepository{docs: []model.Document{
		completedDoc("doc-1", "guide.txt", model.CategoryTXT, chunkText),
	}}
	passageCache := newFakePassageCache()
	require.NoError(t, passageCache.Put(context.Background(), "doc-1", 0, chunkText, embedding.Embed(chunkText)))

	retriever := NewRetrievalService(docRepo, passageCache)

	// 查询与分块文本完全一致, 伪向量相同, 余弦相似度为 1
	passages, err := retriever.Retrieve(context.Background(), chunkText, DefaultTopK)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.True(t, passages[0].FromEmbedding)
	assert.InDelta(t, 1.0, passages[0].Similarity, 1e-9)
}

func TestRetrieveEmbeddingPathKeepsLowScores(t *testing.T) {
	docRepo := &fakeDocumentRepository{docs: []model.Document{
		completedDoc("doc-1", "guide.txt", model.CategoryTXT, "zzz unrelated content"),
	}}
	passageCache := newFakePassageCache()

	// 构造与查询向量正交的缓存向量, 相似度恰为 0
	query := "报销流程"
	qv := embedding.Embed(query)
	orthogonal := make([]float32, embedding.Dimensions)
	orthogonal[0] = qv[1]
	orthogonal[1] = -qv[0]
	require.NoError(t, passageCache.Put(context.Background(), "doc-1", 0, "zzz unrelated content", orthogonal))

	retriever := NewRetrievalService(docRepo, passageCache)

	passages, err := retriever.Retrieve(context.Background(), query, DefaultTopK)
	require.NoError(t, err)
	// 向量路径候选不受丢弃阈值限制
	require.Len(t, passages, 1)
	assert.True(t, passages[0].FromEmbedding)
	assert.Equal(t, 0.0, passages[0].Similarity)
}

func TestRetrieveSimplifiedCategoryFloor(t *testing.T) {
	docRepo := &fakeDocumentRepository{docs: []model.Document{
		completedDoc("doc-1", "年度报告.pdf", model.CategoryPDF,
			"已上传 PDF 文档：年度报告.pdf。该文件类别暂不做全文解析。",
		),
	}}
	retriever := NewRetrievalService(docRepo, newFakePassageCache())

	passages, err := retriever.Retrieve(context.Background(), "请总结 summarize this document", DefaultTopK)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, 0.8, passages[0].Similarity)
	assert.Equal(t, model.CategoryPDF, passages[0].FileCategory)
}

func TestRetrieveSimplifiedFloorNotAppliedToSpecificQuery(t *testing.T) {
	docRepo := &fakeDocumentRepository{docs: []model.Document{
		completedDoc("doc-1", "report.pdf", model.CategoryPDF,
			"已上传 PDF 文档。仅保留摘要信息。",
		),
	}}
	retriever := NewRetrievalService(docRepo, newFakePassageCache())

	// 查询既无泛指关键词也不含文件名, 不触发下限补偿, 词面得分为 0 被丢弃
	passages, err := retriever.Retrieve(context.Background(), "kubernetes scheduling internals", DefaultTopK)
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestRetrieveFileNameReference(t *testing.T) {
	docRepo := &fakeDocumentRepository{docs: []model.Document{
		completedDoc("doc-1", "handbook.pdf", model.CategoryPDF,
			"已上传 PDF 文档：handbook.pdf。",
		),
	}}
	retriever := NewRetrievalService(docRepo, newFakePassageCache())

	// 查询包含去扩展名的文件名, 同样视为泛指该文档
	passages, err := retriever.Retrieve(context.Background(), "what is in handbook", DefaultTopK)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.GreaterOrEqual(t, passages[0].Similarity, 0.8)
}

func TestRetrieveTopKAndStableOrder(t *testing.T) {
	docRepo := &fakeDocumentRepository{docs: []model.Document{
		completedDoc("doc-1", "a.txt", model.CategoryTXT,
			"alpha one", "alpha two", "alpha three",
		),
		completedDoc("doc-2", "b.txt", model.CategoryTXT,
			"alpha four", "alpha five",
		),
	}}
	retriever := NewRetrievalService(docRepo, newFakePassageCache())

	passages, err := retriever.Retrieve(context.Background(), "alpha", DefaultTopK)
	require.NoError(t, err)
	require.Len(t, passages, DefaultTopK)

	// 得分全部相同, 稳定排序下按文档迭代顺序与分块索引先到先得
	assert.Equal(t, "alpha one", passages[0].Text)
	assert.Equal(t, "alpha two", passages[1].Text)
	assert.Equal(t, "alpha three", passages[2].Text)
}

func TestRetrieveSkipsNonCompletedDocuments(t *testing.T) {
	processing := completedDoc("doc-1", "pending.txt", model.CategoryTXT, "alpha content here")
	processing.Status = model.DocumentStatusProcessing
	docRepo := &fakeDocumentRepository{docs: []model.Document{processing}}
	retriever := NewRetrievalService(docRepo, newFakePassageCache())

	passages, err := retriever.Retrieve(context.Background(), "alpha", DefaultTopK)
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestRetrieveAfterEviction(t *testing.T) {
	chunkText := "cached passage text"
	docRepo := &fakeDocumentRepository{docs: []model.Document{
		completedDoc("doc-1", "a.txt", model.CategoryTXT, chunkText),
	}}
	passageCache := newFakePassageCache()
	require.NoError(t, passageCache.Put(context.Background(), "doc-1", 0, chunkText, embedding.Embed(chunkText)))
	retriever := NewRetrievalService(docRepo, passageCache)

	// 缓存清空后回退到词面路径
	require.NoError(t, passageCache.EvictAll(context.Background(), "doc-1"))
	passages, err := retriever.Retrieve(context.Background(), "cached passage", DefaultTopK)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.False(t, passages[0].FromEmbedding)
	assert.Equal(t, 0.9, passages[0].Similarity)
}

func TestLexicalScoreShortWordsIgnored(t *testing.T) {
	// 全部查询词长度不超过 2 时得分为 0
	assert.Equal(t, 0.0, lexicalScore("a b of", "things and more things"))
}

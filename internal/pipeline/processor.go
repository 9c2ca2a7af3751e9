package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"docchat-go/internal/config"
	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/embedding"
	"docchat-go/pkg/es"
	"docchat-go/pkg/extract"
	"docchat-go/pkg/log"
	"docchat-go/pkg/storage"
	"docchat-go/pkg/tasks"
)

// Processor 封装了文档摄取的所有依赖和逻辑：
// 对象下载、文本提取、分块、段落缓存预热、ES 索引与状态流转。
type Processor struct {
	extractor    extract.Extractor
	esCfg        config.ElasticsearchConfig
	minioCfg     config.MinIOConfig
	docRepo      repository.DocumentRepository
	passageCache repository.PassageCacheRepository
	answerCache  repository.AnswerCacheRepository
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	extractor extract.Extractor,
	esCfg config.ElasticsearchConfig,
	minioCfg config.MinIOConfig,
	docRepo repository.DocumentRepository,
	passageCache repository.PassageCacheRepository,
	answerCache repository.AnswerCacheRepository,
) *Processor {
	return &Processor{
		extractor:    extractor,
		esCfg:        esCfg,
		minioCfg:     minioCfg,
		docRepo:      docRepo,
		passageCache: passageCache,
		answerCache:  answerCache,
	}
}

// Process 是文档摄取的主函数。处理成功后文档状态置为 completed，
// 此前其分块不参与检索。
func (p *Processor) Process(ctx context.Context, task tasks.DocumentProcessingTask) error {
	log.Infof("[Processor] 开始处理文档, ID: %s, FileName: %s", task.DocumentID, task.FileName)

	doc, err := p.docRepo.FindByID(task.DocumentID)
	if err != nil {
		return fmt.Errorf("查询文档记录失败: %w", err)
	}
	if doc == nil {
		// 文档在任务排队期间已被删除，直接丢弃任务
		log.Warnf("[Processor] 文档 %s 不存在, 跳过处理", task.DocumentID)
		return nil
	}

	// 1. 从 MinIO 下载原始内容
	raw, err := storage.FetchObject(ctx, p.minioCfg.BucketName, task.ObjectName)
	if err != nil {
		return fmt.Errorf("从 MinIO 下载文档失败: %w", err)
	}
	if len(raw) == 0 {
		return errors.New("文档内容为空")
	}
	log.Infof("[Processor] 步骤1: 下载成功, 大小: %d 字节", len(raw))

	// 2. 按类别提取纯文本
	textContent, err := p.extractor.ExtractText(bytes.NewReader(raw), task.FileName, task.FileCategory)
	if err != nil {
		return fmt.Errorf("提取文本失败: %w", err)
	}
	if strings.TrimSpace(textContent) == "" {
		return errors.New("提取的文本内容为空")
	}
	log.Infof("[Processor] 步骤2: 文本提取成功, 长度: %d 字符", utf8.RuneCountInString(textContent))

	// 3. 重处理是全量的：先清掉该文档的旧缓存（段落缓存按文档，回答缓存整体）
	if err := p.passageCache.EvictAll(ctx, task.DocumentID); err != nil {
		log.Warnf("[Processor] 清理段落缓存失败 (document=%s): %v", task.DocumentID, err)
	}
	if err := p.answerCache.EvictAll(ctx); err != nil {
		log.Warnf("[Processor] 清理回答缓存失败: %v", err)
	}

	// 4. 文本分块。简化类别整篇作为单一分块，不走细粒度切分。
	var chunkTexts []string
	if model.IsSimplifiedCategory(task.FileCategory) {
		chunkTexts = []string{strings.TrimSpace(textContent)}
	} else {
		chunkTexts = SplitText(textContent, DefaultChunkSize, DefaultChunkOverlap)
	}
	if len(chunkTexts) == 0 {
		return errors.New("未生成任何文本分块")
	}
	log.Infof("[Processor] 步骤3: 分块完成, 共 %d 个分块", len(chunkTexts))

	// 5. 整体替换数据库中的分块记录，索引从 0 密集分配
	dbChunks := make([]model.DocumentChunk, 0, len(chunkTexts))
	for i, chunk := range chunkTexts {
		dbChunks = append(dbChunks, model.DocumentChunk{
			DocumentID:  task.DocumentID,
			ChunkIndex:  i,
			TextContent: chunk,
		})
	}
	if err := p.docRepo.ReplaceChunks(task.DocumentID, dbChunks); err != nil {
		return fmt.Errorf("替换文档分块失败: %w", err)
	}
	if err := p.docRepo.UpdateContent(task.DocumentID, textContent); err != nil {
		return fmt.Errorf("更新文档全文失败: %w", err)
	}

	// 6. 预热段落缓存并索引到 ES。缓存写入失败只告警（缓存可随时重建），
	// ES 索引失败同样不阻断摄取（关键词搜索是补充能力）。
	for i, chunk := range chunkTexts {
		vector := embedding.Embed(chunk)
		if err := p.passageCache.Put(ctx, task.DocumentID, i, chunk, vector); err != nil {
			log.Warnf("[Processor] 预热段落缓存失败 (document=%s, chunk=%d): %v", task.DocumentID, i, err)
		}
		if es.ESClient != nil {
			chunkDoc := model.ChunkDocument{
				ChunkKey:     fmt.Sprintf("%s_%d", task.DocumentID, i),
				DocumentID:   task.DocumentID,
				ChunkIndex:   i,
				TextContent:  chunk,
				FileName:     task.FileName,
				FileCategory: task.FileCategory,
			}
			if err := es.IndexChunk(ctx, p.esCfg.IndexName, chunkDoc); err != nil {
				log.Warnf("[Processor] 索引分块 %d 到 ES 失败: %v", i, err)
			}
		}
	}

	// 7. 状态流转：processing -> completed
	if err := p.docRepo.UpdateStatus(task.DocumentID, model.DocumentStatusCompleted); err != nil {
		return fmt.Errorf("更新文档状态失败: %w", err)
	}

	log.Infof("[Processor] 文档处理成功完成, ID: %s, 分块数: %d", task.DocumentID, len(chunkTexts))
	return nil
}

// MarkFailed 在任务重试耗尽后将文档标记为 failed。
func (p *Processor) MarkFailed(ctx context.Context, task tasks.DocumentProcessingTask) {
	if err := p.docRepo.UpdateStatus(task.DocumentID, model.DocumentStatusFailed); err != nil {
		log.Errorf("[Processor] 标记文档失败状态出错, ID: %s, Error: %v", task.DocumentID, err)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"docchat-go/internal/config"
	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/es"
	"docchat-go/pkg/kafka"
	"docchat-go/pkg/log"
	"docchat-go/pkg/storage"
	"docchat-go/pkg/tasks"

	"github.com/google/uuid"
)

// ErrUnsupportedCategory 表示上传的文件类别不在支持的封闭集合内。
var ErrUnsupportedCategory = errors.New("不支持的文件类别")

// DocumentService 定义了文档管理的接口。
type DocumentService interface {
	Upload(ctx context.Context, fileName string, r io.Reader, size int64) (*model.Document, error)
	List(ctx context.Context) ([]model.Document, error)
	Get(ctx context.Context, id string) (*model.Document, error)
	Delete(ctx context.Context, id string) error
	Reprocess(ctx context.Context, id string) error
}

type documentService struct {
	docRepo      repository.DocumentRepository
	passageCache repository.PassageCacheRepository
	answerCache  repository.AnswerCacheRepository
	minioCfg     config.MinIOConfig
	esCfg        config.ElasticsearchConfig
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(
	docRepo repository.DocumentRepository,
	passageCache repository.PassageCacheRepository,
	answerCache repository.AnswerCacheRepository,
	minioCfg config.MinIOConfig,
	esCfg config.ElasticsearchConfig,
) DocumentService {
	return &documentService{
		docRepo:      docRepo,
		passageCache: passageCache,
		answerCache:  answerCache,
		minioCfg:     minioCfg,
		esCfg:        esCfg,
	}
}

func objectName(documentID string) string {
	return fmt.Sprintf("documents/%s", documentID)
}

// Upload 接收上传的文档：原始内容写入 MinIO，建立 processing 状态的记录，
// 并向 Kafka 投递处理任务。提取、分块与索引由后台管道完成。
func (s *documentService) Upload(ctx context.Context, fileName string, r io.Reader, size int64) (*model.Document, error) {
	category := model.CategoryFromFileName(fileName)
	if category == "" {
		return nil, ErrUnsupportedCategory
	}

	doc := &model.Document{
		ID:           uuid.NewString(),
		FileName:     fileName,
		FileCategory: category,
		FileSize:     size,
		Status:       model.DocumentStatusProcessing,
	}

	if err := storage.PutObject(ctx, s.minioCfg.BucketName, objectName(doc.ID), r, size); err != nil {
		return nil, fmt.Errorf("保存文档内容失败: %w", err)
	}
	if err := s.docRepo.Create(doc); err != nil {
		storage.RemoveObject(ctx, s.minioCfg.BucketName, objectName(doc.ID))
		return nil, err
	}

	task := tasks.DocumentProcessingTask{
		DocumentID:   doc.ID,
		ObjectName:   objectName(doc.ID),
		FileName:     doc.FileName,
		FileCategory: doc.FileCategory,
	}
	if err := kafka.ProduceDocumentTask(task); err != nil {
		// 任务投递失败：记录直接标记失败，等待用户重新触发
		log.Errorf("[DocumentService] 投递处理任务失败, ID: %s, Error: %v", doc.ID, err)
		_ = s.docRepo.UpdateStatus(doc.ID, model.DocumentStatusFailed)
		return nil, fmt.Errorf("投递文档处理任务失败: %w", err)
	}

	log.Infof("[DocumentService] 文档已接收并排队处理, ID: %s, FileName: %s", doc.ID, fileName)
	return doc, nil
}

// List 返回全部文档元数据。
func (s *documentService) List(ctx context.Context) ([]model.Document, error) {
	return s.docRepo.FindAll()
}

// Get 返回单个文档（含分块），不存在时返回 (nil, nil)。
func (s *documentService) Get(ctx context.Context, id string) (*model.Document, error) {
	return s.docRepo.FindByID(id)
}

// Delete 删除文档：先失效全部相关缓存，再清理 ES 索引与对象存储，
// 最后删除数据库记录。此后任何检索都不会再返回该文档的分块。
func (s *documentService) Delete(ctx context.Context, id string) error {
	doc, err := s.docRepo.FindByID(id)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	s.invalidateCaches(ctx, id)

	if es.ESClient != nil {
		if err := es.DeleteByDocumentID(ctx, s.esCfg.IndexName, id); err != nil {
			log.Warnf("[DocumentService] 清理 ES 分块索引失败, ID: %s, Error: %v", id, err)
		}
	}
	storage.RemoveObject(ctx, s.minioCfg.BucketName, objectName(id))

	if err := s.docRepo.Delete(id); err != nil {
		return err
	}
	log.Infof("[DocumentService] 文档已删除, ID: %s, FileName: %s", id, doc.FileName)
	return nil
}

// Reprocess 重新处理文档：失效缓存、状态回到 processing、重新排队。
func (s *documentService) Reprocess(ctx context.Context, id string) error {
	doc, err := s.docRepo.FindByID(id)
	if err != nil {
		return err
	}
	if doc == nil {
		return errors.New("文档不存在")
	}

	s.invalidateCaches(ctx, id)

	if err := s.docRepo.UpdateStatus(id, model.DocumentStatusProcessing); err != nil {
		return err
	}

	task := tasks.DocumentProcessingTask{
		DocumentID:   doc.ID,
		ObjectName:   objectName(doc.ID),
		FileName:     doc.FileName,
		FileCategory: doc.FileCategory,
	}
	if err := kafka.ProduceDocumentTask(task); err != nil {
		_ = s.docRepo.UpdateStatus(id, model.DocumentStatusFailed)
		return fmt.Errorf("投递文档处理任务失败: %w", err)
	}
	log.Infof("[DocumentService] 文档已重新排队处理, ID: %s", id)
	return nil
}

// invalidateCaches 在文档删除或重处理时失效段落缓存与回答缓存。
func (s *documentService) invalidateCaches(ctx context.Context, documentID string) {
	if err := s.passageCache.EvictAll(ctx, documentID); err != nil {
		log.Warnf("[DocumentService] 失效段落缓存失败, ID: %s, Error: %v", documentID, err)
	}
	if err := s.answerCache.EvictAll(ctx); err != nil {
		log.Warnf("[DocumentService] 失效回答缓存失败: %v", err)
	}
}

// Package repository 提供了数据访问层的实现。
package repository

import (
	"errors"
	"fmt"

	"docchat-go/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository 定义了文档存储的操作接口。
// 状态流转由摄取管道驱动：processing -> completed | failed。
type DocumentRepository interface {
	Create(doc *model.Document) error
	FindByID(id string) (*model.Document, error)
	FindAll() ([]model.Document, error)
	FindCompleted() ([]model.Document, error)
	Count() (int64, error)
	UpdateStatus(id, status string) error
	UpdateContent(id, content string) error
	ReplaceChunks(id string, chunks []model.DocumentChunk) error
	Delete(id string) error
}

type gormDocumentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &gormDocumentRepository{db: db}
}

// Create 创建一条文档记录。
func (r *gormDocumentRepository) Create(doc *model.Document) error {
	if err := r.db.Create(doc).Error; err != nil {
		return fmt.Errorf("创建文档记录失败: %w", err)
	}
	return nil
}

// FindByID 按 ID 查询文档（含分块），不存在时返回 (nil, nil)。
func (r *gormDocumentRepository) FindByID(id string) (*model.Document, error) {
	var doc model.Document
	err := r.db.Preload("Chunks", func(db *gorm.DB) *gorm.DB {
		return db.Order("chunk_index ASC")
	}).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询文档失败: %w", err)
	}
	return &doc, nil
}

// FindAll 返回全部文档（不含分块），按创建时间排序。
func (r *gormDocumentRepository) FindAll() ([]model.Document, error) {
	var docs []model.Document
	if err := r.db.Order("created_at ASC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("查询文档列表失败: %w", err)
	}
	return docs, nil
}

// FindCompleted 返回所有 completed 状态的文档及其分块，
// 按创建时间排序，分块按索引排序。检索器依赖此迭代顺序做并列打破。
func (r *gormDocumentRepository) FindCompleted() ([]model.Document, error) {
	var docs []model.Document
	err := r.db.Preload("Chunks", func(db *gorm.DB) *gorm.DB {
		return db.Order("chunk_index ASC")
	}).Where("status = ?", model.DocumentStatusCompleted).
		Order("created_at ASC").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("查询已完成文档失败: %w", err)
	}
	return docs, nil
}

// Count 返回文档总数（不限状态）。
func (r *gormDocumentRepository) Count() (int64, error) {
	var count int64
	if err := r.db.Model(&model.Document{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("统计文档数量失败: %w", err)
	}
	return count, nil
}

// UpdateStatus 更新文档生命周期状态。
func (r *gormDocumentRepository) UpdateStatus(id, status string) error {
	if err := r.db.Model(&model.Document{}).Where("id = ?", id).Update("status", status).Error; err != nil {
		return fmt.Errorf("更新文档状态失败: %w", err)
	}
	return nil
}

// UpdateContent 更新文档的提取全文。
func (r *gormDocumentRepository) UpdateContent(id, content string) error {
	if err := r.db.Model(&model.Document{}).Where("id = ?", id).Update("content", content).Error; err != nil {
		return fmt.Errorf("更新文档内容失败: %w", err)
	}
	return nil
}

// ReplaceChunks 整体替换文档的分块（重处理是全量的，不做局部修补）。
func (r *gormDocumentRepository) ReplaceChunks(id string, chunks []model.DocumentChunk) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&model.DocumentChunk{}).Error; err != nil {
			return fmt.Errorf("清理旧分块失败: %w", err)
		}
		if len(chunks) == 0 {
			return nil
		}
		if err := tx.Create(&chunks).Error; err != nil {
			return fmt.Errorf("批量写入分块失败: %w", err)
		}
		return nil
	})
}

// Delete 删除文档及其全部分块。
func (r *gormDocumentRepository) Delete(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&model.DocumentChunk{}).Error; err != nil {
			return fmt.Errorf("删除文档分块失败: %w", err)
		}
		if err := tx.Delete(&model.Document{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("删除文档记录失败: %w", err)
		}
		return nil
	})
}

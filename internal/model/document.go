// Package model 包含了应用的数据模型定义。
package model

import (
	"strings"
	"time"
)

// 文档生命周期状态。chunks 只有在状态为 completed 后才可参与检索。
const (
	DocumentStatusProcessing = "processing"
	DocumentStatusCompleted  = "completed"
	DocumentStatusFailed     = "failed"
)

// 支持的文件类别（封闭集合）。
const (
	CategoryTXT  = "txt"
	CategoryMD   = "md"
	CategoryPDF  = "pdf"
	CategoryDOCX = "docx"
)

// Document 对应于数据库中的 documents 表，是文档的唯一事实来源。
type Document struct {
	ID           string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	FileName     string          `gorm:"type:varchar(255);not null" json:"fileName"`
	FileCategory string          `gorm:"type:varchar(16);not null" json:"fileCategory"`
	FileSize     int64           `gorm:"not null" json:"fileSize"`
	Content      string          `gorm:"type:longtext" json:"-"`
	Status       string          `gorm:"type:varchar(16);not null;default:processing;index" json:"status"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	Chunks       []DocumentChunk `gorm:"foreignKey:DocumentID;references:ID" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// DocumentChunk 对应于数据库中的 document_chunks 表。
// ChunkIndex 在文档内从 0 开始密集分配，文档生命周期内不变；
// 文档重处理时整体替换，不做局部修补。
type DocumentChunk struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID  string `gorm:"type:varchar(36);not null;index" json:"documentId"`
	ChunkIndex  int    `gorm:"not null" json:"chunkIndex"`
	TextContent string `gorm:"type:text;not null" json:"textContent"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (DocumentChunk) TableName() string {
	return "document_chunks"
}

// IsSupportedCategory 判断文件类别是否属于支持的封闭集合。
func IsSupportedCategory(category string) bool {
	switch category {
	case CategoryTXT, CategoryMD, CategoryPDF, CategoryDOCX:
		return true
	}
	return false
}

// IsSimplifiedCategory 判断类别是否只能得到简化提取文本。
// 这类文档整篇作为单一分块存储（细粒度处理对其过于昂贵），
// 且在泛指文档的查询中享有 0.8 的相似度下限补偿。
func IsSimplifiedCategory(category string) bool {
	return category == CategoryPDF || category == CategoryDOCX
}

// CategoryFromFileName 根据文件扩展名推断类别，不支持的返回空字符串。
func CategoryFromFileName(fileName string) string {
	idx := strings.LastIndex(fileName, ".")
	if idx < 0 {
		return ""
	}
	ext := strings.ToLower(fileName[idx+1:])
	if IsSupportedCategory(ext) {
		return ext
	}
	return ""
}

// BaseName 返回去掉扩展名后的文件名，用于"泛指本文档"的查询判定。
func BaseName(fileName string) string {
	idx := strings.LastIndex(fileName, ".")
	if idx <= 0 {
		return fileName
	}
	return fileName[:idx]
}

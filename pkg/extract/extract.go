// Package extract 提供按文件类别提取纯文本的能力。
// 核心从不解析原始文件字节：txt/md 直接读取并清洗；
// pdf/docx 属于"简化提取"类别，只能得到一段描述性替代文本。
package extract

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"docchat-go/internal/model"
)

// Extractor 定义了文本提取协作方的接口。
type Extractor interface {
	ExtractText(r io.Reader, fileName, category string) (string, error)
}

type extractor struct{}

// NewExtractor 创建一个新的 Extractor 实例。
func NewExtractor() Extractor {
	return &extractor{}
}

var (
	reCRLF   = regexp.MustCompile(`\r\n?`)
	reBlanks = regexp.MustCompile(`\n{3,}`)
)

// ExtractText 按类别返回清洗后的纯文本。
func (e *extractor) ExtractText(r io.Reader, fileName, category string) (string, error) {
	switch category {
	case model.CategoryTXT, model.CategoryMD:
		raw, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("读取文件内容失败: %w", err)
		}
		return cleanText(string(raw)), nil
	case model.CategoryPDF, model.CategoryDOCX:
		// 简化类别：丢弃正文，生成描述性替代文本。
		size, err := io.Copy(io.Discard, r)
		if err != nil {
			return "", fmt.Errorf("读取文件内容失败: %w", err)
		}
		return simplifiedText(fileName, category, size), nil
	default:
		return "", fmt.Errorf("不支持的文件类别: %s", category)
	}
}

// cleanText 统一换行并压缩多余空行。
func cleanText(text string) string {
	text = reCRLF.ReplaceAllString(text, "\n")
	text = reBlanks.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// simplifiedText 为简化类别生成整篇替代文本。
// 文本刻意包含文件名（含去扩展名形式），使泛指文档的查询能命中它。
func simplifiedText(fileName, category string, size int64) string {
	base := model.BaseName(fileName)
	return fmt.Sprintf(
		"已上传 %s 文档：%s（%s，%d 字节）。该文件类别暂不做全文解析，仅保留摘要信息。如需了解此文档的内容，请上传 txt 或 md 版本。",
		strings.ToUpper(category), fileName, base, size,
	)
}

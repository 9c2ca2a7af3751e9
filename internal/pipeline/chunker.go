// Package pipeline 定义了文档处理的核心流程。
package pipeline

import "strings"

// 默认分块参数：目标窗口 800 字符，相邻分块重叠 150 字符。
const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 150
)

// SplitText 将长文本切分为带重叠的、尽量对齐句子边界的分块。
//
// 文本不超过 targetSize 时整体作为单一分块返回。否则以 targetSize
// 为窗口滑动：在窗口末尾向前回溯最近的句子终止符（". "）或换行，
// 回溯点至少保留窗口 70% 时才在该处截断，避免切在句子中间。
// 起点每次前进 (分块长度 - overlap)，分块长度大于 overlap 时前进量
// 恒为正，循环必然终止。修剪后为空的分块被丢弃。
func SplitText(text string, targetSize, overlap int) []string {
	if targetSize <= 0 {
		targetSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= targetSize {
		overlap = 0
	}

	runes := []rune(text)
	if len(runes) <= targetSize {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + targetSize
		if end > len(runes) {
			end = len(runes)
		}
		window := runes[start:end]

		cut := len(window)
		if end < len(runes) {
			if bp := lastBreakPoint(window); bp >= len(window)*7/10 {
				cut = bp
			}
		}

		chunk := strings.TrimSpace(string(window[:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end == len(runes) {
			break
		}
		advance := cut - overlap
		if advance <= 0 {
			advance = cut
		}
		start += advance
	}
	return chunks
}

// lastBreakPoint 在窗口内从后往前找最近的断点，返回截断位置（含终止符），
// 找不到返回 -1。
func lastBreakPoint(window []rune) int {
	for i := len(window) - 1; i > 0; i-- {
		if window[i] == '\n' {
			return i + 1
		}
		if window[i] == '.' && i+1 < len(window) && window[i+1] == ' ' {
			return i + 1
		}
	}
	return -1
}

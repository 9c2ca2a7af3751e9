package model

// ChunkDocument 代表索引到 Elasticsearch 的分块文档结构。
type ChunkDocument struct {
	ChunkKey     string `json:"chunk_key"` // 唯一标识，documentID_chunkIndex
	DocumentID   string `json:"document_id"`
	ChunkIndex   int    `json:"chunk_index"`
	TextContent  string `json:"text_content"`
	FileName     string `json:"file_name"`
	FileCategory string `json:"file_category"`
}

// KeywordSearchResult 定义了关键词搜索返回给前端的结果结构。
type KeywordSearchResult struct {
	DocumentID  string  `json:"documentId"`
	FileName    string  `json:"fileName"`
	ChunkIndex  int     `json:"chunkIndex"`
	TextContent string  `json:"textContent"`
	Score       float64 `json:"score"`
}

package model

import "time"

// 助手消息使用的保留作者标识。
const AssistantUserID = "assistant"

// 消息类型。
const (
	MessageKindUser      = "user"
	MessageKindAssistant = "assistant"
)

// Message 代表聊天室中的一条消息，持久化在 Redis 的房间消息列表中。
// 除作者在限定时间窗内的编辑外，消息不可变。
type Message struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"roomId"`
	UserID    string          `json:"userId"`
	Username  string          `json:"username"`
	Content   string          `json:"content"`
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	EditedAt  *time.Time      `json:"editedAt,omitempty"`
	Metadata  *AnswerMetadata `json:"metadata,omitempty"`
}

// AnswerMetadata 记录助手回答的来源信息，附在助手消息上。
// 显式的可选字段，而不是动态拼装的对象。
type AnswerMetadata struct {
	Sources          []SourceAttribution `json:"sources,omitempty"`
	WebResults       []WebResult         `json:"webResults,omitempty"`
	WebSearchEnabled bool                `json:"webSearchEnabled"`
}

// Answer 是一次合成回答的完整结果。瞬态对象，可由消息元数据与回答缓存重建。
type Answer struct {
	Answer        string              `json:"answer"`
	Sources       []SourceAttribution `json:"sources"`
	WebResults    []WebResult         `json:"webResults"`
	WebSearchUsed bool                `json:"webSearchUsed"`
}

// SourceAttribution 是回答引用的文档来源，相似度保留两位小数。
type SourceAttribution struct {
	DocumentName string  `json:"documentName"`
	FileCategory string  `json:"fileCategory"`
	Similarity   float64 `json:"similarity"`
}

// WebResult 是回答引用的联网搜索结果。
type WebResult struct {
	Title  string `json:"title"`
	Source string `json:"source"`
	Link   string `json:"link"`
}

// RetrievedPassage 是检索器返回的候选段落。
// FromEmbedding 标记相似度来自向量路径还是词面回退路径。
type RetrievedPassage struct {
	Text          string  `json:"text"`
	Similarity    float64 `json:"similarity"`
	DocumentID    string  `json:"documentId"`
	FileName      string  `json:"fileName"`
	FileCategory  string  `json:"fileCategory"`
	FromEmbedding bool    `json:"-"`
}

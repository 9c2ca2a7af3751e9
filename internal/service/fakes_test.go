package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/websearch"
)

// 测试用的内存实现，接口与真实仓储一致。

type fakeDocumentRepository struct {
	mu   sync.Mutex
	docs []model.Document

	findCompletedErr error
}

func (f *fakeDocumentRepository) Create(doc *model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, *doc)
	return nil
}

func (f *fakeDocumentRepository) FindByID(id string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.docs {
		if f.docs[i].ID == id {
			doc := f.docs[i]
			return &doc, nil
		}
	}
	return nil, nil
}

func (f *fakeDocumentRepository) FindAll() ([]model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Document(nil), f.docs...), nil
}

func (f *fakeDocumentRepository) FindCompleted() ([]model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findCompletedErr != nil {
		return nil, f.findCompletedErr
	}
	var completed []model.Document
	for _, doc := range f.docs {
		if doc.Status == model.DocumentStatusCompleted {
			completed = append(completed, doc)
		}
	}
	return completed, nil
}

func (f *fakeDocumentRepository) Count() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.docs)), nil
}

func (f *fakeDocumentRepository) UpdateStatus(id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.docs {
		if f.docs[i].ID == id {
			f.docs[i].Status = status
			return nil
		}
	}
	return errors.New("document not found")
}

func (f *fakeDocumentRepository) UpdateContent(id, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.docs {
		if f.docs[i].ID == id {
			f.docs[i].Content = content
			return nil
		}
	}
	return errors.New("document not found")
}

func (f *fakeDocumentRepository) ReplaceChunks(id string, chunks []model.DocumentChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.docs {
		if f.docs[i].ID == id {
			f.docs[i].Chunks = append([]model.DocumentChunk(nil), chunks...)
			return nil
		}
	}
	return errors.New("document not found")
}

func (f *fakeDocumentRepository) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.docs {
		if f.docs[i].ID == id {
			f.docs = append(f.docs[:i], f.docs[i+1:]...)
			return nil
		}
	}
	return nil
}

type fakePassageCacheRepository struct {
	mu      sync.Mutex
	entries map[string]repository.PassageEntry
}

func newFakePassageCache() *fakePassageCacheRepository {
	return &fakePassageCacheRepository{entries: make(map[string]repository.PassageEntry)}
}

func passageCacheKey(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s:%d", documentID, chunkIndex)
}

func (f *fakePassageCacheRepository) Put(_ context.Context, documentID string, chunkIndex int, text string, vector []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[passageCacheKey(documentID, chunkIndex)] = repository.PassageEntry{Text: text, Vector: vector}
	return nil
}

func (f *fakePassageCacheRepository) Get(_ context.Context, documentID string, chunkIndex int) (*repository.PassageEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[passageCacheKey(documentID, chunkIndex)]
	if !ok {
		return nil, false
	}
	return &entry, true
}

func (f *fakePassageCacheRepository) EvictAll(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.entries {
		if len(key) > len(documentID) && key[:len(documentID)+1] == documentID+":" {
			delete(f.entries, key)
		}
	}
	return nil
}

type fakeAnswerCacheRepository struct {
	mu      sync.Mutex
	answers map[string]model.Answer
	lastTTL time.Duration
}

func newFakeAnswerCache() *fakeAnswerCacheRepository {
	return &fakeAnswerCacheRepository{answers: make(map[string]model.Answer)}
}

func (f *fakeAnswerCacheRepository) Get(_ context.Context, key string) (*model.Answer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	answer, ok := f.answers[key]
	if !ok {
		return nil, false
	}
	return &answer, true
}

func (f *fakeAnswerCacheRepository) Set(_ context.Context, key string, answer *model.Answer, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[key] = *answer
	f.lastTTL = ttl
	return nil
}

func (f *fakeAnswerCacheRepository) EvictAll(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = make(map[string]model.Answer)
	return nil
}

func (f *fakeAnswerCacheRepository) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.answers)
}

type fakeRetriever struct {
	passages []model.RetrievedPassage
	err      error
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, _ int) ([]model.RetrievedPassage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.passages, nil
}

type fakeLLMClient struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
}

func (f *fakeLLMClient) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeLLMClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeLLMClient) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type fakeWebSearchClient struct {
	mu      sync.Mutex
	results []websearch.Result
	err     error
	queries []string
	lastN   int
}

func (f *fakeWebSearchClient) Search(_ context.Context, query string, n int) ([]websearch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.lastN = n
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) > n {
		return f.results[:n], nil
	}
	return f.results, nil
}

type fakeMessageRepository struct {
	mu       sync.Mutex
	messages map[string][]model.Message
}

func newFakeMessageRepository() *fakeMessageRepository {
	return &fakeMessageRepository{messages: make(map[string][]model.Message)}
}

func (f *fakeMessageRepository) Append(_ context.Context, roomID string, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[roomID] = append(f.messages[roomID], *msg)
	return nil
}

func (f *fakeMessageRepository) History(_ context.Context, roomID string, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	history := f.messages[roomID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return append([]model.Message(nil), history...), nil
}

func (f *fakeMessageRepository) Update(_ context.Context, roomID string, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.messages[roomID] {
		if f.messages[roomID][i].ID == msg.ID {
			f.messages[roomID][i] = *msg
			return nil
		}
	}
	return fmt.Errorf("消息 %s 不在房间 %s 的历史中", msg.ID, roomID)
}

func (f *fakeMessageRepository) stored(roomID string) []model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Message(nil), f.messages[roomID]...)
}

type fakeAnswerService struct {
	mu     sync.Mutex
	answer *model.Answer
	calls  int
}

func (f *fakeAnswerService) Answer(_ context.Context, _, _ string, webSearchEnabled bool) *model.Answer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.answer != nil {
		return f.answer
	}
	return &model.Answer{
		Answer:        "生成的回答",
		Sources:       []model.SourceAttribution{},
		WebResults:    []model.WebResult{},
		WebSearchUsed: webSearchEnabled,
	}
}

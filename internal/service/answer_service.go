package service

import (
	"context"
	"crypto/md5"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/llm"
	"docchat-go/pkg/log"
	"docchat-go/pkg/websearch"
)

// 联网搜索的边界参数。
const (
	webSearchTimeout    = 10 * time.Second
	webSearchMaxResults = 4
	focusedQueryTerms   = 6
)

// 零来源时的三种固定回答与兜底道歉文案。
const (
	answerWebDisabled = "这个问题可能需要联网搜索，但当前房间未开启联网搜索。请在发送消息时打开联网开关，或上传相关文档后再试。"
	answerNoDocuments = "目前还没有任何已上传的文档。请先上传 txt、md、pdf 或 docx 文档，我才能基于文档内容回答问题。"
	answerNoRelevant  = "在已上传的文档中没有找到与这个问题相关的内容。可以换个问法，或上传包含相关信息的文档。"
	answerApology     = "抱歉，我暂时无法回答这个问题，请稍后重试。"
)

// AnswerService 定义了回答合成的接口。
// Answer 永远返回一个可用的回答对象，从不向调用方抛出错误。
type AnswerService interface {
	Answer(ctx context.Context, roomID, question string, webSearchEnabled bool) *model.Answer
}

type answerService struct {
	retriever   Retriever
	answerCache repository.AnswerCacheRepository
	docRepo     repository.DocumentRepository
	llmClient   llm.Client
	webClient   websearch.Client
}

// NewAnswerService 创建一个新的 AnswerService 实例。
func NewAnswerService(
	retriever Retriever,
	answerCache repository.AnswerCacheRepository,
	docRepo repository.DocumentRepository,
	llmClient llm.Client,
	webClient websearch.Client,
) AnswerService {
	return &answerService{
		retriever:   retriever,
		answerCache: answerCache,
		docRepo:     docRepo,
		llmClient:   llmClient,
		webClient:   webClient,
	}
}

// AnswerCacheKey 计算回答缓存键：(房间, 问题文本, 联网开关) 的纯函数。
func AnswerCacheKey(roomID, question string, webSearchEnabled bool) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(fmt.Sprintf("%s|%s|%t", roomID, question, webSearchEnabled))))
}

// Answer 执行缓存优先的回答流程。
func (s *answerService) Answer(ctx context.Context, roomID, question string, webSearchEnabled bool) *model.Answer {
	key := AnswerCacheKey(roomID, question, webSearchEnabled)
	if cached, ok := s.answerCache.Get(ctx, key); ok {
		log.Infof("[AnswerService] 回答缓存命中, room: %s", roomID)
		return cached
	}

	answer, cacheable := s.compose(ctx, question, webSearchEnabled)

	if cacheable {
		ttl := repository.AnswerTTL
		if len(answer.WebResults) > 0 {
			ttl = repository.AnswerWebTTL
		}
		if err := s.answerCache.Set(ctx, key, answer, ttl); err != nil {
			log.Warnf("[AnswerService] 写入回答缓存失败: %v", err)
		}
	}
	return answer
}

// compose 合成一次回答。第二个返回值标记结果是否可缓存
// （道歉类降级回答不写缓存，故障恢复后应立即重新生成）。
func (s *answerService) compose(ctx context.Context, question string, webSearchEnabled bool) (*model.Answer, bool) {
	// 1. 检索文档段落
	passages, err := s.retriever.Retrieve(ctx, question, DefaultTopK)
	if err != nil {
		log.Errorf("[AnswerService] 检索段落失败: %v", err)
		return s.apology(webSearchEnabled), false
	}

	// 2. 问题本身是否在请求联网搜索
	webRequested := wantsWebSearch(question)

	// 3. 联网搜索（仅在请求且房间允许时），失败非致命
	var webResults []model.WebResult
	if webRequested && webSearchEnabled {
		webResults = s.searchWeb(ctx, question, passages)
	}

	// 4. 零来源时返回固定解释性回答
	if len(passages) == 0 && len(webResults) == 0 {
		return s.emptyAnswer(webRequested, webSearchEnabled), true
	}

	// 5. 按来源组合选择提示词路径并调用生成
	prompt := buildPrompt(question, passages, webResults)
	text, err := s.llmClient.Generate(ctx, prompt)
	if err != nil {
		log.Errorf("[AnswerService] 调用生成服务失败: %v", err)
		return s.apology(webSearchEnabled), false
	}

	// 6. 整形为最终回答
	return &model.Answer{
		Answer:        text,
		Sources:       shapeSources(passages),
		WebResults:    dedupeWebResults(webResults),
		WebSearchUsed: webSearchEnabled,
	}, true
}

// searchWeb 构造聚焦查询并调用联网搜索，带 10 秒超时，错误一律按无结果处理。
func (s *answerService) searchWeb(ctx context.Context, question string, passages []model.RetrievedPassage) []model.WebResult {
	query := focusedQuery(question, passages)
	if query == "" {
		return nil
	}

	searchCtx, cancel := context.WithTimeout(ctx, webSearchTimeout)
	defer cancel()

	results, err := s.webClient.Search(searchCtx, query, webSearchMaxResults)
	if err != nil {
		// 未配置凭证或网络故障都按"无结果"继续，不中断回答
		log.Warnf("[AnswerService] 联网搜索失败, query: '%s', error: %v", query, err)
		return nil
	}

	webResults := make([]model.WebResult, 0, len(results))
	for _, r := range results {
		webResults = append(webResults, model.WebResult{
			Title:  r.Title,
			Source: r.Source,
			Link:   r.Link,
		})
	}
	return webResults
}

// emptyAnswer 在零段落零联网结果时选择固定回答，
// 选择由三个布尔条件确定性决定。
func (s *answerService) emptyAnswer(webRequested, webSearchEnabled bool) *model.Answer {
	text := answerNoRelevant
	if webRequested && !webSearchEnabled {
		// 请求了联网但房间未开启：回答必须明确体现拒绝
		text = answerWebDisabled
	} else if count, err := s.docRepo.Count(); err == nil && count == 0 {
		text = answerNoDocuments
	}
	return &model.Answer{
		Answer:        text,
		Sources:       []model.SourceAttribution{},
		WebResults:    []model.WebResult{},
		WebSearchUsed: webSearchEnabled,
	}
}

// apology 是任何不可恢复失败下的优雅降级回答。
func (s *answerService) apology(webSearchEnabled bool) *model.Answer {
	return &model.Answer{
		Answer:        answerApology,
		Sources:       []model.SourceAttribution{},
		WebResults:    []model.WebResult{},
		WebSearchUsed: webSearchEnabled,
	}
}

// 触发联网搜索的关键短语。
var webSearchTriggers = []string{
	"search the web",
	"search online",
	"web search",
	"google",
	"look up",
	"latest news",
	"recent news",
	"current events",
	"联网搜索",
	"搜索一下",
	"上网查",
	"最新消息",
	"最新新闻",
}

// wantsWebSearch 判断问题本身是否在请求外部搜索。
func wantsWebSearch(question string) bool {
	lower := strings.ToLower(question)
	for _, trigger := range webSearchTriggers {
		if strings.Contains(lower, trigger) {
			return true
		}
	}
	return false
}

var rePunct = regexp.MustCompile(`[^\p{Han}\p{L}\p{N}\s]+`)

// focusedQuery 为联网搜索派生聚焦查询：
// 取最高分段落开头的有效词加问题自身的内容词，按插入顺序去重，
// 合计不超过 6 个词。没有段落时直接对问题去掉标点与触发短语。
func focusedQuery(question string, passages []model.RetrievedPassage) string {
	if len(passages) == 0 {
		return stripSearchPhrases(question)
	}

	seen := make(map[string]struct{})
	var terms []string
	appendTerm := func(word string) {
		if len(terms) >= focusedQueryTerms {
			return
		}
		w := strings.ToLower(strings.TrimSpace(word))
		if len(w) <= 3 {
			return
		}
		if _, ok := seen[w]; ok {
			return
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}

	// 先取最高分段落开头的有效词（稳定的先到先得顺序）
	for _, word := range strings.Fields(rePunct.ReplaceAllString(passages[0].Text, " ")) {
		if len(terms) >= focusedQueryTerms/2 {
			break
		}
		appendTerm(word)
	}
	// 再补问题自身的内容词
	for _, word := range strings.Fields(rePunct.ReplaceAllString(question, " ")) {
		appendTerm(word)
	}
	return strings.Join(terms, " ")
}

// stripSearchPhrases 去掉问题中的触发短语与标点，留下可搜索的内容。
// 问题完全由触发短语与客套词构成时，退回去掉标点的原文，
// 保证请求了联网搜索就一定有非空查询可用。
func stripSearchPhrases(question string) string {
	lower := strings.ToLower(question)
	for _, trigger := range webSearchTriggers {
		lower = strings.ReplaceAll(lower, trigger, " ")
	}
	for _, filler := range []string{"please", "can you", "could you", "for me", "请", "帮我"} {
		lower = strings.ReplaceAll(lower, filler, " ")
	}
	lower = rePunct.ReplaceAllString(lower, " ")
	stripped := strings.Join(strings.Fields(lower), " ")
	if stripped != "" {
		return stripped
	}
	raw := rePunct.ReplaceAllString(strings.ToLower(question), " ")
	return strings.Join(strings.Fields(raw), " ")
}

// buildPrompt 按可用来源选择提示词结构：仅文档、仅联网、或两者结合。
func buildPrompt(question string, passages []model.RetrievedPassage, webResults []model.WebResult) string {
	var sb strings.Builder

	switch {
	case len(passages) > 0 && len(webResults) > 0:
		sb.WriteString("你是一个知识库助手。请先基于下面的文档段落分析问题，再用联网搜索结果补充，并在回答中明确区分信息来自文档还是来自网络。\n\n")
		writePassages(&sb, passages)
		writeWebResults(&sb, webResults)
	case len(passages) > 0:
		sb.WriteString("你是一个知识库助手。请仅基于下面的文档段落回答问题，文档中没有的信息请明确说明。\n\n")
		writePassages(&sb, passages)
	default:
		sb.WriteString("你是一个助手。请基于下面的联网搜索结果回答问题，并注明信息来源。\n\n")
		writeWebResults(&sb, webResults)
	}

	sb.WriteString("问题：")
	sb.WriteString(question)
	sb.WriteString("\n请用简洁的中文回答。")
	return sb.String()
}

func writePassages(sb *strings.Builder, passages []model.RetrievedPassage) {
	sb.WriteString("文档段落：\n")
	for i, p := range passages {
		sb.WriteString(fmt.Sprintf("[%d] (%s) %s\n", i+1, p.FileName, p.Text))
	}
	sb.WriteString("\n")
}

func writeWebResults(sb *strings.Builder, webResults []model.WebResult) {
	sb.WriteString("联网搜索结果：\n")
	for i, r := range webResults {
		sb.WriteString(fmt.Sprintf("[%d] %s (%s) %s\n", i+1, r.Title, r.Source, r.Link))
	}
	sb.WriteString("\n")
}

// shapeSources 生成去重后的来源列表，相似度保留两位小数。
// 段落已按相似度降序，同一文档保留最先出现（得分最高）的一条。
func shapeSources(passages []model.RetrievedPassage) []model.SourceAttribution {
	seen := make(map[string]struct{})
	sources := make([]model.SourceAttribution, 0, len(passages))
	for _, p := range passages {
		if _, ok := seen[p.DocumentID]; ok {
			continue
		}
		seen[p.DocumentID] = struct{}{}
		sources = append(sources, model.SourceAttribution{
			DocumentName: p.FileName,
			FileCategory: p.FileCategory,
			Similarity:   math.Round(p.Similarity*100) / 100,
		})
	}
	return sources
}

// dedupeWebResults 按链接去重，保持插入顺序。
func dedupeWebResults(webResults []model.WebResult) []model.WebResult {
	seen := make(map[string]struct{})
	results := make([]model.WebResult, 0, len(webResults))
	for _, r := range webResults {
		if _, ok := seen[r.Link]; ok {
			continue
		}
		seen[r.Link] = struct{}{}
		results = append(results, r)
	}
	return results
}

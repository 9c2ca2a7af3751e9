package handler

import (
	"net/http"
	"strconv"

	"docchat-go/internal/service"
	"docchat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SearchHandler 负责分块关键词搜索接口。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// KeywordSearch 处理 GET /search/keyword?q=...&topK=...
func (h *SearchHandler) KeywordSearch(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少查询参数 q", "data": nil})
		return
	}
	topK, _ := strconv.Atoi(c.DefaultQuery("topK", "10"))

	results, err := h.searchService.KeywordSearch(c.Request.Context(), query, topK)
	if err != nil {
		log.Errorf("关键词搜索失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "搜索失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": results})
}

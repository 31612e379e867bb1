package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ParsePagination parses standard pagination query params from the request.
// It enforces bounds and applies defaults when values are missing or invalid.
func ParsePagination(c *gin.Context, defaultPage, defaultSize, maxSize int) (int, int) {
	pageStr := c.DefaultQuery("page", strconv.Itoa(defaultPage))
	sizeStr := c.DefaultQuery("page_size", strconv.Itoa(defaultSize))

	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 1 {
		page = defaultPage
	}

	size, err := strconv.Atoi(sizeStr)
	if err != nil || size < 1 {
		size = defaultSize
	}
	if size > maxSize {
		size = maxSize
	}

	return page, size
}

// Pagination describes one page of a listing
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Paginate slices items to the requested page. Pages past the end are empty.
func Paginate[T any](items []T, page, size int) ([]T, Pagination) {
	total := len(items)
	p := Pagination{Page: page, PageSize: size, Total: total}
	if size > 0 {
		p.TotalPages = (total + size - 1) / size
	}
	start := (page - 1) * size
	if start >= total || start < 0 {
		return []T{}, p
	}
	end := start + size
	if end > total {
		end = total
	}
	return items[start:end], p
}

// WritePaginated standardizes paginated responses with a flexible items key, pagination block, and optional extras.
// It preserves existing API response shapes by allowing the caller to specify the items key.
func WritePaginated(c *gin.Context, itemsKey string, items, pagination any, extra gin.H) {
	response := gin.H{
		itemsKey:     items,
		"pagination": pagination,
	}
	for k, v := range extra {
		response[k] = v
	}
	c.JSON(http.StatusOK, response)
}

package utils

// Pagination bounds for list endpoints
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// NormalizePage applies list defaults: page starts at 1, page size defaults
// to DefaultPageSize and may not exceed MaxPageSize
func NormalizePage(page, pageSize int) (int, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		return 0, 0, Errorf(ErrInvalidArgument, "page_size must be between 1 and %d", MaxPageSize)
	}
	return page, pageSize, nil
}

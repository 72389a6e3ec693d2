package audit

import (
	"context"
	"fmt"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
	// MaxExportRows caps a single export.
	MaxExportRows = 10000
)

// Service mengoordinasikan pengambilan data audit.
type Service struct {
	reader Reader
}

// NewService membuat service audit timeline baru.
func NewService(reader Reader) *Service {
	return &Service{reader: reader}
}

// Timeline mengambil data audit dengan paging, terbaru lebih dulu.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s == nil || s.reader == nil {
		return Result{}, fmt.Errorf("audit: reader not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	f := filters.filter()
	f.Offset = (page - 1) * pageSize
	f.Limit = pageSize + 1
	rows, err := s.reader.List(ctx, f)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export mengambil seluruh data timeline tanpa paging, dibatasi MaxExportRows.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]Entry, error) {
	if s == nil || s.reader == nil {
		return nil, fmt.Errorf("audit: reader not configured")
	}
	f := filters.filter()
	f.Limit = MaxExportRows
	return s.reader.List(ctx, f)
}

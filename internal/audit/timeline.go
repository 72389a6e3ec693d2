package audit

import "time"

// TimelineFilters menampung filter dasar untuk audit timeline.
type TimelineFilters struct {
	From         time.Time
	To           time.Time
	PrincipalID  string
	ResourceType string
	// Granted filters by outcome when set.
	Granted  *bool
	Page     int
	PageSize int
}

func (f TimelineFilters) filter() Filter {
	return Filter{
		From:         f.From,
		To:           f.To,
		PrincipalID:  f.PrincipalID,
		ResourceType: f.ResourceType,
		Granted:      f.Granted,
	}
}

// PagingInfo menyimpan metadata pagination sederhana.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result membungkus hasil timeline dengan informasi paging.
type Result struct {
	Rows   []Entry    `json:"rows"`
	Paging PagingInfo `json:"paging"`
}

package models

// PaginatedNotifications represents a page of a user's notifications
type PaginatedNotifications struct {
	Count    int                   `json:"count"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
	HasNext  bool                  `json:"has_next"`
	HasPrev  bool                  `json:"has_prev"`
	Results  []NotificationPayload `json:"results"`
}

// NewPaginatedNotifications slices a full, already ordered result set
func NewPaginatedNotifications(all []NotificationPayload, page, pageSize int) *PaginatedNotifications {
	if pageSize <= 0 {
		pageSize = 20
	}
	if page < 1 {
		page = 1
	}

	start := (page - 1) * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}

	return &PaginatedNotifications{
		Count:    len(all),
		Page:     page,
		PageSize: pageSize,
		HasNext:  end < len(all),
		HasPrev:  page > 1,
		Results:  all[start:end],
	}
}

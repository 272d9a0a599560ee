package service

import (
	"time"
)

// HoursService gates conversation on the configured business window.
// Once-per-day notice suppression lives on the session, whose flag is
// cleared by the midnight cleanup.
type HoursService struct {
	openHour  int
	closeHour int
	loc       *time.Location
}

func NewHoursService(openHour, closeHour int, loc *time.Location) *HoursService {
	return &HoursService{
		openHour:  openHour,
		closeHour: closeHour,
		loc:       loc,
	}
}

// IsOutsideWindow reports whether the instant falls outside business
// hours. Pure function of the business-timezone hour: open is
// inclusive, close is exclusive.
func (h *HoursService) IsOutsideWindow(now time.Time) bool {
	hour := now.In(h.loc).Hour()
	return hour < h.openHour || hour >= h.closeHour
}

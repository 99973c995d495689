package auditor

import (
	"strconv"
	"time"

	"github.com/JakeFAU/linkaudit/internal/audit"
	"github.com/JakeFAU/linkaudit/internal/report"
)

// Announcement is the message published when a run finishes.
type Announcement struct {
	RunID      string            `json:"run_id"`
	Status     audit.RunStatus   `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Total      int               `json:"total"`
	Verified   int               `json:"verified"`
	Unverified int               `json:"unverified"`
	Ignored    int               `json:"ignored"`
	Cancelled  int               `json:"cancelled"`
	Duplicates int               `json:"duplicates"`
	Artifacts  []report.Artifact `json:"artifacts,omitempty"`
}

func newAnnouncement(rep audit.Report, artifacts []report.Artifact) Announcement {
	return Announcement{
		RunID:      rep.RunID,
		Status:     rep.Status,
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
		Total:      rep.Total,
		Verified:   rep.Verified,
		Unverified: rep.Unverified,
		Ignored:    rep.Ignored,
		Cancelled:  rep.Cancelled,
		Duplicates: len(rep.DuplicateURLs),
		Artifacts:  artifacts,
	}
}

// Attributes are attached to the published message for subscription filters.
func (a Announcement) Attributes() map[string]string {
	return map[string]string{
		"run_id":     a.RunID,
		"status":     string(a.Status),
		"unverified": strconv.Itoa(a.Unverified),
	}
}

package harvest

import (
	"fmt"
	"strings"
	"time"
)

// Mode is the crawl mode selected by the operator.
type Mode string

// Supported crawl modes.
const (
	ModePopular    Mode = "popular"
	ModeCategories Mode = "categories"
	ModeTopTags    Mode = "top_tags"
)

// Modes lists every accepted mode in CLI order.
func Modes() []Mode {
	return []Mode{ModePopular, ModeCategories, ModeTopTags}
}

// ParseMode validates an operator-supplied mode.
func ParseMode(raw string) (Mode, error) {
	m := Mode(strings.TrimSpace(raw))
	for _, known := range Modes() {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, raw)
}

// RunStatus is the terminal state of a pipeline run.
type RunStatus string

// Run status values persisted in the run ledger.
const (
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// RunRecord is the ledger row written after each pipeline run.
type RunRecord struct {
	ID             string    `json:"id"`
	Mode           Mode      `json:"mode"`
	Status         RunStatus `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Targets        int       `json:"targets"`
	FailedTargets  int       `json:"failed_targets"`
	PageRequests   int       `json:"page_requests"`
	ItemsFetched   int       `json:"items_fetched"`
	Operations     int       `json:"operations"`
	OperationsOK   int       `json:"operations_ok"`
	OperationsFail int       `json:"operations_failed"`
	ArchiveURI     string    `json:"archive_uri,omitempty"`
	ErrorText      string    `json:"error_text,omitempty"`
}

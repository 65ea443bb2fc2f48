package model

import (
	"time"

	"gorm.io/datatypes"
)

// Journal actions.
const (
	ActionSave         = "save"
	ActionExport       = "export"
	ActionImport       = "import"
	ActionSimulate     = "simulate"
	ActionFormatSwitch = "format_switch"
	ActionSetField     = "set_field"
)

// JournalEntry records one repository operation.
type JournalEntry struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID    string         `gorm:"index:idx_journal_trace;size:36;not null" json:"trace_id"`
	Action     string         `gorm:"index:idx_journal_action;size:32;not null" json:"action"`
	Table      string         `gorm:"column:table_name;size:128" json:"table"`
	AssetPath  string         `gorm:"size:512" json:"asset_path"`
	Detail     datatypes.JSON `json:"detail"`
	Error      string         `gorm:"type:text" json:"error"`
	DurationMs int            `json:"duration_ms"`
	CreatedAt  time.Time      `gorm:"index:idx_journal_created;autoCreateTime:milli" json:"created_at"`
}

// Package jobs はジョブレコードの永続化と状態遷移を提供します。
package jobs

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal は終端状態（以後変化しない状態）かどうかを返します。
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Job はジョブレコードを表します。
// InputFileIDs と Parameters はJSON文字列として保存します（順序保持のため）。
type Job struct {
	ID           uint       `gorm:"primaryKey"`
	JobID        string     `gorm:"size:100;uniqueIndex"`
	OwnerKey     string     `gorm:"size:255;index:idx_jobs_owner_created,priority:1"`
	ToolName     string     `gorm:"size:100;index"`
	InputFileIDs string     `gorm:"type:text"`
	Parameters   string     `gorm:"type:text"`
	Status       Status     `gorm:"size:20;index;default:pending"`
	Progress     int        `gorm:"default:0"`
	Attempts     int        `gorm:"default:0"`
	OutputFileID *string    `gorm:"size:100"`
	ErrorMessage *string    `gorm:"type:text"`
	CreatedAt    time.Time  `gorm:"index:idx_jobs_owner_created,priority:2"`
	UpdatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ExpiresAt    time.Time `gorm:"index"`
}

// InputIDs は入力ファイルID列をデコードして返します。順序は投入時のままです。
func (j *Job) InputIDs() ([]string, error) {
	if j.InputFileIDs == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(j.InputFileIDs), &ids); err != nil {
		return nil, fmt.Errorf("failed to decode input file ids: %w", err)
	}
	return ids, nil
}

// SetInputIDs は入力ファイルID列をエンコードして保持します。
func (j *Job) SetInputIDs(ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode input file ids: %w", err)
	}
	j.InputFileIDs = string(data)
	return nil
}

// RawParameters はパラメータJSONを返します。未設定時は空オブジェクトです。
func (j *Job) RawParameters() json.RawMessage {
	if j.Parameters == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(j.Parameters)
}

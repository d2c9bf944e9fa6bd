// Package worker はキューから受け取ったジョブの実行を担います。
// キューの配送はat-least-onceのため、実行側は常にクレーム（pending → processing の
// 条件付き更新）を先に行い、同じジョブが二重に実行されないようにします。
package worker

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// TypeProcessJob はジョブ実行タスクのタイプ名です。
const TypeProcessJob = "job:process"

type processJobPayload struct {
	JobID string `json:"job_id"`
}

// NewProcessJobTask はジョブ実行タスクを作成します。
func NewProcessJobTask(jobID string) (*asynq.Task, error) {
	payload, err := json.Marshal(processJobPayload{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode task payload: %w", err)
	}
	return asynq.NewTask(TypeProcessJob, payload), nil
}

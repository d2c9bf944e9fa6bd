package tools

// ProgressReporter は進捗更新用コールバックです。
// ワーカーはこのコールバック経由でジョブ行へ進捗を書き戻し、
// あわせてキャンセル状態の再読込も行います（協調的キャンセルのチェックポイント）。
type ProgressReporter func(stage string, percent int)

func reportProgress(cb ProgressReporter, stage string, percent int) {
	if cb == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cb(stage, percent)
}

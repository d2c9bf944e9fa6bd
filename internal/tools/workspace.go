package tools

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace は1タスク分の一時作業ディレクトリです。
// 入力ブロブは InDir へ展開され、成果物は OutDir に生成されます。
type Workspace struct {
	Dir    string
	InDir  string
	OutDir string
}

// NewWorkspace は baseDir 配下にタスク用の作業ディレクトリを作成します。
func NewWorkspace(baseDir, taskID string) (Workspace, error) {
	dir := filepath.Join(baseDir, taskID)
	ws := Workspace{
		Dir:    dir,
		InDir:  filepath.Join(dir, "in"),
		OutDir: filepath.Join(dir, "out"),
	}
	for _, d := range []string{ws.InDir, ws.OutDir} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return Workspace{}, fmt.Errorf("failed to create workspace: %w", err)
		}
	}
	return ws, nil
}

// Remove は作業ディレクトリを削除します。全終了経路から呼ばれる前提です。
func (w Workspace) Remove() error {
	if w.Dir == "" {
		return nil
	}
	return os.RemoveAll(w.Dir)
}

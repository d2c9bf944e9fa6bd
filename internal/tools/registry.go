// Package tools はツール名から処理関数への静的レジストリを提供します。
// 文字列キーの動的ディスパッチではなく、登録済みツールの閉じた集合として扱い、
// 未知のツール名は必ず明示的なエラーになります。
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Input はワークスペースに展開済みの入力ファイルです。
type Input struct {
	Path         string
	OriginalName string
	MimeType     string
	Size         int64
}

// Output はツールが生成した成果物です。
type Output struct {
	Path     string
	Filename string
	MimeType string
}

// Spec はツールの入力制約を宣言します。
type Spec struct {
	Description  string
	MinInputs    int
	MaxInputs    int
	AllowedMIMEs []string
}

// AllowsMIME は入力MIMEタイプが許可されているかどうかを返します。
func (s Spec) AllowsMIME(mime string) bool {
	for _, allowed := range s.AllowedMIMEs {
		if allowed == mime {
			return true
		}
	}
	return false
}

// Tool は1つの処理機能を表します。実装は副作用をワークスペース内に閉じ込め、
// チェックポイント（進捗報告の前後）ごとに ctx のキャンセルを確認します。
type Tool interface {
	Name() string
	Spec() Spec
	Validate(params json.RawMessage) error
	Execute(ctx context.Context, ws Workspace, inputs []Input, params json.RawMessage, report ProgressReporter) (*Output, error)
}

// Registry はツール名から Tool への対応表です。登録後は読み取り専用です。
type Registry struct {
	tools map[string]Tool
}

// NewRegistry は空のレジストリを作成します。
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register はツールを登録します。名前の重複はプログラミングエラーです。
func (r *Registry) Register(tool Tool) {
	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		panic(fmt.Sprintf("tools: duplicate tool name %q", name))
	}
	r.tools[name] = tool
}

// Lookup はツール名から Tool を引きます。
func (r *Registry) Lookup(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Names は登録済みツール名を昇順で返します。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default は全ツールを登録済みのレジストリを返します。
func Default() *Registry {
	r := NewRegistry()
	r.Register(NewMergeTool())
	r.Register(NewSplitTool())
	r.Register(NewCompressTool())
	r.Register(NewImageToPDFTool())
	r.Register(NewExtractImagesTool())
	return r
}

// mustCompileSchema はパラメータスキーマをコンパイルします。
// スキーマ文字列はコード内定数のため、失敗はプログラミングエラーです。
func mustCompileSchema(name, schema string) *jsonschema.Schema {
	compiled, err := jsonschema.CompileString(name+".schema.json", schema)
	if err != nil {
		panic(fmt.Sprintf("tools: invalid parameter schema for %s: %v", name, err))
	}
	return compiled
}

// validateParams はパラメータJSONをスキーマで検証します。
func validateParams(schema *jsonschema.Schema, params json.RawMessage) error {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return newError("INVALID_INPUT", "パラメータはJSONオブジェクトで指定してください。", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return newError("INVALID_INPUT", fmt.Sprintf("パラメータが不正です: %v", err), err)
	}
	return nil
}

const (
	mimePDF  = "application/pdf"
	mimePNG  = "image/png"
	mimeJPEG = "image/jpeg"
	mimeTIFF = "image/tiff"
	mimeWebP = "image/webp"
)

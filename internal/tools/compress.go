package tools

import (
	"context"
	"encoding/json"
	"path/filepath"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const compressedFilename = "compressed.pdf"

const compressSchema = `{
	"type": "object",
	"properties": {
		"level": {"type": "string", "enum": ["low", "medium", "high"]}
	},
	"additionalProperties": false
}`

type compressParams struct {
	Level string `json:"level"`
}

// CompressTool はPDFを最適化してサイズを削減します。
type CompressTool struct {
	schema *jsonschema.Schema
}

// NewCompressTool は CompressTool を作成します。
func NewCompressTool() *CompressTool {
	return &CompressTool{schema: mustCompileSchema("pdf_compress", compressSchema)}
}

func (t *CompressTool) Name() string {
	return "pdf_compress"
}

func (t *CompressTool) Spec() Spec {
	return Spec{
		Description:  "PDFを最適化してファイルサイズを削減します。",
		MinInputs:    1,
		MaxInputs:    1,
		AllowedMIMEs: []string{mimePDF},
	}
}

func (t *CompressTool) Validate(params json.RawMessage) error {
	return validateParams(t.schema, params)
}

func (t *CompressTool) Execute(ctx context.Context, ws Workspace, inputs []Input, params json.RawMessage, report ProgressReporter) (*Output, error) {
	var p compressParams
	if err := json.Unmarshal(ensureObject(params), &p); err != nil {
		return nil, newError("INVALID_INPUT", "パラメータの形式が正しくありません。", err)
	}
	if p.Level == "" {
		p.Level = "medium"
	}

	reportProgress(report, "load", 10)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conf := model.NewDefaultConfiguration()
	if p.Level == "high" {
		conf.OptimizeDuplicateContentStreams = true
	}

	reportProgress(report, "process", 40)
	outputPath := filepath.Join(ws.OutDir, compressedFilename)
	if err := pdfapi.OptimizeFile(inputs[0].Path, outputPath, conf); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFの圧縮に失敗しました。入力ファイルを確認してください。", err)
	}

	reportProgress(report, "write", 90)

	return &Output{
		Path:     outputPath,
		Filename: compressedFilename,
		MimeType: mimePDF,
	}, nil
}

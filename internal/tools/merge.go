package tools

import (
	"context"
	"encoding/json"
	"path/filepath"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const mergedFilename = "merged.pdf"

const mergeSchema = `{
	"type": "object",
	"properties": {
		"output_filename": {"type": "string", "minLength": 1, "maxLength": 255}
	},
	"additionalProperties": false
}`

type mergeParams struct {
	OutputFilename string `json:"output_filename"`
}

// MergeTool は複数のPDFを投入順で1つに結合します。
type MergeTool struct {
	schema *jsonschema.Schema
}

// NewMergeTool は MergeTool を作成します。
func NewMergeTool() *MergeTool {
	return &MergeTool{schema: mustCompileSchema("pdf_merge", mergeSchema)}
}

func (t *MergeTool) Name() string {
	return "pdf_merge"
}

func (t *MergeTool) Spec() Spec {
	return Spec{
		Description:  "複数のPDFファイルを1つに結合します。",
		MinInputs:    2,
		MaxInputs:    50,
		AllowedMIMEs: []string{mimePDF},
	}
}

func (t *MergeTool) Validate(params json.RawMessage) error {
	return validateParams(t.schema, params)
}

func (t *MergeTool) Execute(ctx context.Context, ws Workspace, inputs []Input, params json.RawMessage, report ProgressReporter) (*Output, error) {
	var p mergeParams
	if err := json.Unmarshal(ensureObject(params), &p); err != nil {
		return nil, newError("INVALID_INPUT", "パラメータの形式が正しくありません。", err)
	}

	reportProgress(report, "load", 10)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inPaths := make([]string, len(inputs))
	for i, in := range inputs {
		inPaths[i] = in.Path
	}

	reportProgress(report, "process", 40)
	outputPath := filepath.Join(ws.OutDir, mergedFilename)
	if err := pdfapi.MergeCreateFile(inPaths, outputPath, false, nil); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFの結合に失敗しました。入力ファイルを確認してください。", err)
	}

	reportProgress(report, "write", 90)

	filename := p.OutputFilename
	if filename == "" {
		filename = mergedFilename
	}
	return &Output{
		Path:     outputPath,
		Filename: filename,
		MimeType: mimePDF,
	}, nil
}

// ensureObject は空のパラメータを空オブジェクトへ正規化します。
func ensureObject(params json.RawMessage) json.RawMessage {
	if len(params) == 0 {
		return json.RawMessage("{}")
	}
	return params
}

package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const extractedImagesFilename = "images.zip"

const extractImagesSchema = `{
	"type": "object",
	"additionalProperties": false
}`

// ExtractImagesTool はPDFに埋め込まれた画像を取り出し、zipにまとめます。
type ExtractImagesTool struct {
	schema *jsonschema.Schema
}

// NewExtractImagesTool は ExtractImagesTool を作成します。
func NewExtractImagesTool() *ExtractImagesTool {
	return &ExtractImagesTool{schema: mustCompileSchema("pdf_extract_images", extractImagesSchema)}
}

func (t *ExtractImagesTool) Name() string {
	return "pdf_extract_images"
}

func (t *ExtractImagesTool) Spec() Spec {
	return Spec{
		Description:  "PDFに埋め込まれた画像を抽出してzipで返します。",
		MinInputs:    1,
		MaxInputs:    1,
		AllowedMIMEs: []string{mimePDF},
	}
}

func (t *ExtractImagesTool) Validate(params json.RawMessage) error {
	return validateParams(t.schema, params)
}

func (t *ExtractImagesTool) Execute(ctx context.Context, ws Workspace, inputs []Input, params json.RawMessage, report ProgressReporter) (*Output, error) {
	reportProgress(report, "load", 10)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	extractDir := filepath.Join(ws.OutDir, "extracted")
	if err := os.MkdirAll(extractDir, 0o750); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "画像抽出用の作業領域を作成できませんでした。", err)
	}

	reportProgress(report, "process", 40)
	if err := pdfapi.ExtractImagesFile(inputs[0].Path, extractDir, nil, nil); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFからの画像抽出に失敗しました。", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(extractDir)
	if err != nil {
		return nil, newError("UNSUPPORTED_PDF", "抽出結果の確認に失敗しました。", err)
	}
	if len(entries) == 0 {
		return nil, newError("NO_IMAGES", "このPDFには抽出できる画像が含まれていません。", nil)
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(extractDir, entry.Name()))
	}

	reportProgress(report, "write", 90)
	outputPath := filepath.Join(ws.OutDir, extractedImagesFilename)
	if err := createZip(outputPath, paths); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "抽出画像のzip作成に失敗しました。", err)
	}

	return &Output{
		Path:     outputPath,
		Filename: extractedImagesFilename,
		MimeType: "application/zip",
	}, nil
}

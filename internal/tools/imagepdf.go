package tools

import (
	"context"
	"encoding/json"
	"path/filepath"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const imagesPDFFilename = "images.pdf"

const imageToPDFSchema = `{
	"type": "object",
	"properties": {
		"output_filename": {"type": "string", "minLength": 1, "maxLength": 255}
	},
	"additionalProperties": false
}`

type imageToPDFParams struct {
	OutputFilename string `json:"output_filename"`
}

// ImageToPDFTool は画像を投入順で1ページずつ並べたPDFを生成します。
type ImageToPDFTool struct {
	schema *jsonschema.Schema
}

// NewImageToPDFTool は ImageToPDFTool を作成します。
func NewImageToPDFTool() *ImageToPDFTool {
	return &ImageToPDFTool{schema: mustCompileSchema("image_to_pdf", imageToPDFSchema)}
}

func (t *ImageToPDFTool) Name() string {
	return "image_to_pdf"
}

func (t *ImageToPDFTool) Spec() Spec {
	return Spec{
		Description:  "画像ファイルを1つのPDFへ変換します（投入順がページ順になります）。",
		MinInputs:    1,
		MaxInputs:    100,
		AllowedMIMEs: []string{mimePNG, mimeJPEG, mimeTIFF, mimeWebP},
	}
}

func (t *ImageToPDFTool) Validate(params json.RawMessage) error {
	return validateParams(t.schema, params)
}

func (t *ImageToPDFTool) Execute(ctx context.Context, ws Workspace, inputs []Input, params json.RawMessage, report ProgressReporter) (*Output, error) {
	var p imageToPDFParams
	if err := json.Unmarshal(ensureObject(params), &p); err != nil {
		return nil, newError("INVALID_INPUT", "パラメータの形式が正しくありません。", err)
	}

	reportProgress(report, "load", 10)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	imgPaths := make([]string, len(inputs))
	for i, in := range inputs {
		imgPaths[i] = in.Path
	}

	reportProgress(report, "process", 40)
	outputPath := filepath.Join(ws.OutDir, imagesPDFFilename)
	if err := pdfapi.ImportImagesFile(imgPaths, outputPath, nil, nil); err != nil {
		return nil, newError("UNSUPPORTED_IMAGE", "画像からPDFへの変換に失敗しました。", err)
	}

	reportProgress(report, "write", 90)

	filename := p.OutputFilename
	if filename == "" {
		filename = imagesPDFFilename
	}
	return &Output{
		Path:     outputPath,
		Filename: filename,
		MimeType: mimePDF,
	}, nil
}

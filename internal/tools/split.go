package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const splitFilename = "split.zip"

const splitSchema = `{
	"type": "object",
	"properties": {
		"ranges": {"type": "string", "minLength": 1}
	},
	"required": ["ranges"],
	"additionalProperties": false
}`

type splitParams struct {
	Ranges string `json:"ranges"`
}

// pageRange は分割対象のページ範囲です（Start/Endは1始まり、End>=Start）。
type pageRange struct {
	Start int
	End   int
}

// SplitTool はPDFをページ範囲ごとに分割し、zipにまとめて返します。
type SplitTool struct {
	schema *jsonschema.Schema
}

// NewSplitTool は SplitTool を作成します。
func NewSplitTool() *SplitTool {
	return &SplitTool{schema: mustCompileSchema("pdf_split", splitSchema)}
}

func (t *SplitTool) Name() string {
	return "pdf_split"
}

func (t *SplitTool) Spec() Spec {
	return Spec{
		Description:  "PDFを指定したページ範囲ごとに分割します。",
		MinInputs:    1,
		MaxInputs:    1,
		AllowedMIMEs: []string{mimePDF},
	}
}

func (t *SplitTool) Validate(params json.RawMessage) error {
	return validateParams(t.schema, params)
}

func (t *SplitTool) Execute(ctx context.Context, ws Workspace, inputs []Input, params json.RawMessage, report ProgressReporter) (*Output, error) {
	var p splitParams
	if err := json.Unmarshal(ensureObject(params), &p); err != nil {
		return nil, newError("INVALID_INPUT", "パラメータの形式が正しくありません。", err)
	}

	input := inputs[0]

	reportProgress(report, "load", 10)
	pageCount, err := pdfapi.PageCountFile(input.Path)
	if err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFのページ数を取得できませんでした。", err)
	}

	ranges, err := parsePageRanges(p.Ranges, pageCount)
	if err != nil {
		return nil, err
	}

	partPaths := make([]string, 0, len(ranges))
	for i, pr := range ranges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		partName := fmt.Sprintf("part-%02d.pdf", i+1)
		partPath := filepath.Join(ws.OutDir, partName)

		reportProgress(report, "process", 20+(60*(i+1))/len(ranges))

		if err := pdfapi.CollectFile(input.Path, partPath, buildPageSelection(pr), nil); err != nil {
			return nil, newError("UNSUPPORTED_PDF", fmt.Sprintf("ページ範囲 %d の生成に失敗しました。", i+1), err)
		}
		partPaths = append(partPaths, partPath)
	}

	outputPath := filepath.Join(ws.OutDir, splitFilename)
	if err := createZip(outputPath, partPaths); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "分割結果のzip作成に失敗しました。", err)
	}
	reportProgress(report, "write", 90)

	return &Output{
		Path:     outputPath,
		Filename: splitFilename,
		MimeType: "application/zip",
	}, nil
}

// parsePageRanges は "1-3,5,7-" 形式の範囲指定を解析します。
// 範囲は昇順・重複なしで指定する必要があります。
func parsePageRanges(expr string, pageCount int) ([]pageRange, error) {
	segments := strings.Split(strings.TrimSpace(expr), ",")

	ranges := make([]pageRange, 0, len(segments))
	lastEnd := 0

	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return nil, newError("INVALID_INPUT", "空の範囲指定が含まれています。", nil)
		}

		start, end, err := parseSingleRange(seg, pageCount)
		if err != nil {
			return nil, err
		}
		if start <= lastEnd {
			return nil, newError("INVALID_INPUT", "ページ範囲は昇順かつ重複なしで指定してください。", nil)
		}
		lastEnd = end

		ranges = append(ranges, pageRange{Start: start, End: end})
	}

	if len(ranges) == 0 {
		return nil, newError("INVALID_INPUT", "有効なページ範囲が指定されていません。", nil)
	}
	return ranges, nil
}

func parseSingleRange(seg string, pageCount int) (int, int, error) {
	if strings.Contains(seg, "-") {
		parts := strings.SplitN(seg, "-", 2)
		start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return 0, 0, newError("INVALID_INPUT", "範囲開始が整数ではありません。", err)
		}
		var end int
		if strings.TrimSpace(parts[1]) == "" {
			end = pageCount
		} else {
			end, err = strconv.Atoi(strings.TrimSpace(parts[1]))
			if err != nil {
				return 0, 0, newError("INVALID_INPUT", "範囲終了が整数ではありません。", err)
			}
		}
		if start < 1 || end < start || end > pageCount {
			return 0, 0, newError("INVALID_INPUT", "範囲指定がページ数の範囲外です。", nil)
		}
		return start, end, nil
	}

	page, err := strconv.Atoi(seg)
	if err != nil {
		return 0, 0, newError("INVALID_INPUT", "ページ番号が整数ではありません。", err)
	}
	if page < 1 || page > pageCount {
		return 0, 0, newError("INVALID_INPUT", "ページ番号がページ数の範囲外です。", nil)
	}
	return page, page, nil
}

func buildPageSelection(pr pageRange) []string {
	pages := make([]string, 0, pr.End-pr.Start+1)
	for p := pr.Start; p <= pr.End; p++ {
		pages = append(pages, strconv.Itoa(p))
	}
	return pages
}

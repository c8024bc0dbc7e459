package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"iwms/core/fsutil"
	"iwms/core/mapping"
)

// Bundle 一次完整导出生成的文件路径，未生成的项为空
type Bundle struct {
	Results string `json:"results"`
	Mapping string `json:"mapping,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// Paths 所有已生成的文件
func (b Bundle) Paths() []string {
	var paths []string
	for _, p := range []string{b.Results, b.Mapping, b.Summary} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// ExportBundle 导出结果报告、映射表副本和文本摘要。
// 结果报告失败时返回错误；映射表和摘要是附带产物，失败只影响对应字段。
func ExportBundle(fs afero.Fs, dir string, kind Kind, format Format, data Data, entries []mapping.Entry) (Bundle, error) {
	var bundle Bundle

	path, err := Export(fs, dir, kind, format, data)
	if err != nil {
		return bundle, err
	}
	bundle.Results = path

	now := time.Now()
	if len(entries) > 0 {
		mappingPath := filepath.Join(dir, "映射表_"+now.Format("2006-01-02T15-04-05")+".csv")
		if err := fsutil.WriteFileAtomic(fs, mappingPath, func(w io.Writer) error {
			return WriteMappingCSV(w, entries)
		}); err == nil {
			bundle.Mapping = mappingPath
		}
	}

	if kind == KindExecution {
		summaryPath := filepath.Join(dir, "处理摘要_"+now.Format("2006-01-02T15-04-05")+".txt")
		if err := fsutil.WriteFileAtomic(fs, summaryPath, func(w io.Writer) error {
			return WriteSummary(w, data.Summary, data.OutputDir)
		}); err == nil {
			bundle.Summary = summaryPath
		}
	}

	return bundle, nil
}

// WriteMappingCSV 写入映射表副本，表头与映射表模板一致
func WriteMappingCSV(w io.Writer, entries []mapping.Entry) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(mapping.TemplateHeader); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write([]string{e.OldKey, e.NewBase}); err != nil {
			return fmt.Errorf("第%d行: %w", e.Row, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

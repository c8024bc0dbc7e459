// Package history 使用bbolt保存每次批处理的摘要与结果记录，供事后审计
package history

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"iwms/core/batch"
)

// 数据库桶名称
const (
	runsBucket    = "runs"
	recordsBucket = "records"
)

// compressedPrefix 压缩存储的记录键前缀
const compressedPrefix = "compressed:"

// compressThreshold 超过该字节数的结果记录以gzip压缩存储
const compressThreshold = 1024

// ErrNotFound 找不到指定的运行记录
var ErrNotFound = errors.New("运行记录不存在")

// ErrAmbiguous 运行ID前缀匹配到多条记录
var ErrAmbiguous = errors.New("运行ID前缀不唯一")

// RunInfo 单次运行的摘要
type RunInfo struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Options    batch.Options `json:"options"`
	Summary    batch.Summary `json:"summary"`
}

// Store 运行历史存储
type Store struct {
	db     *bbolt.DB
	path   string
	logger *zap.Logger
}

// Open 打开（必要时创建）历史数据库
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建历史目录失败: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开历史数据库失败: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{runsBucket, recordsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("创建桶 %s 失败: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("%w, 且关闭数据库失败: %v", err, closeErr)
		}
		return nil, err
	}

	return &Store{db: db, path: path, logger: logger.Named("history")}, nil
}

// Path 数据库文件路径
func (s *Store) Path() string {
	return s.path
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun 保存一次批处理的摘要和全部结果记录
func (s *Store) SaveRun(report *batch.Report) error {
	if report == nil || report.RunID == "" {
		return fmt.Errorf("无效的运行结果: 缺少运行ID")
	}

	info := RunInfo{
		ID:         report.RunID,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Options:    report.Options,
		Summary:    report.Summary,
	}
	infoData, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("序列化运行摘要失败: %w", err)
	}
	recordData, err := json.Marshal(report.Results)
	if err != nil {
		return fmt.Errorf("序列化结果记录失败: %w", err)
	}

	recordKey := report.RunID
	if len(recordData) > compressThreshold {
		if compressed, err := compressData(recordData); err == nil && len(compressed) < len(recordData) {
			recordData = compressed
			recordKey = compressedPrefix + report.RunID
		}
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(runsBucket)).Put([]byte(report.RunID), infoData); err != nil {
			return err
		}
		return tx.Bucket([]byte(recordsBucket)).Put([]byte(recordKey), recordData)
	})
	if err != nil {
		return fmt.Errorf("保存运行记录失败: %w", err)
	}

	s.logger.Debug("运行记录已保存",
		zap.String("run_id", report.RunID),
		zap.Int("records", len(report.Results)))
	return nil
}

// ListRuns 按开始时间倒序列出运行摘要，limit<=0 表示全部
func (s *Store) ListRuns(limit int) ([]RunInfo, error) {
	var runs []RunInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(runsBucket)).ForEach(func(_, v []byte) error {
			var info RunInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return fmt.Errorf("解析运行摘要失败: %w", err)
			}
			runs = append(runs, info)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// GetRun 读取完整的运行结果，id 可以是唯一前缀
func (s *Store) GetRun(id string) (*batch.Report, error) {
	var report *batch.Report
	err := s.db.View(func(tx *bbolt.Tx) error {
		key, err := resolveID(tx.Bucket([]byte(runsBucket)), id)
		if err != nil {
			return err
		}

		var info RunInfo
		if err := json.Unmarshal(tx.Bucket([]byte(runsBucket)).Get(key), &info); err != nil {
			return fmt.Errorf("解析运行摘要失败: %w", err)
		}

		records := tx.Bucket([]byte(recordsBucket))
		data := records.Get(key)
		if data == nil {
			compressed := records.Get([]byte(compressedPrefix + string(key)))
			if compressed == nil {
				return fmt.Errorf("运行 %s 缺少结果记录", key)
			}
			if data, err = decompressData(compressed); err != nil {
				return fmt.Errorf("解压结果记录失败: %w", err)
			}
		}

		var results []batch.ResultRecord
		if err := json.Unmarshal(data, &results); err != nil {
			return fmt.Errorf("解析结果记录失败: %w", err)
		}

		report = &batch.Report{
			RunID:      info.ID,
			StartedAt:  info.StartedAt,
			FinishedAt: info.FinishedAt,
			Options:    info.Options,
			Summary:    info.Summary,
			Results:    results,
		}
		return nil
	})
	return report, err
}

// Prune 只保留最近的 keep 次运行，返回删除的数量
func (s *Store) Prune(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	runs, err := s.ListRuns(0)
	if err != nil || len(runs) <= keep {
		return 0, err
	}

	stale := runs[keep:]
	err = s.db.Update(func(tx *bbolt.Tx) error {
		runsB := tx.Bucket([]byte(runsBucket))
		recordsB := tx.Bucket([]byte(recordsBucket))
		for _, run := range stale {
			if err := runsB.Delete([]byte(run.ID)); err != nil {
				return err
			}
			if err := recordsB.Delete([]byte(run.ID)); err != nil {
				return err
			}
			if err := recordsB.Delete([]byte(compressedPrefix + run.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("清理历史记录失败: %w", err)
	}
	return len(stale), nil
}

// resolveID 按完整ID或唯一前缀查找键
func resolveID(bucket *bbolt.Bucket, id string) ([]byte, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	if bucket.Get([]byte(id)) != nil {
		return []byte(id), nil
	}

	var match []byte
	c := bucket.Cursor()
	prefix := []byte(id)
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if match != nil {
			return nil, fmt.Errorf("%w: %s", ErrAmbiguous, id)
		}
		match = append([]byte(nil), k...)
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return match, nil
}

// compressData gzip压缩
func compressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompressData gzip解压
func decompressData(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

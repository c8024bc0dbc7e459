// Package pool 将一批任务按连续分块分配给固定数量的并行工作器执行
package pool

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// Executor 任务执行器。
// Execute 处理单个任务；Recover 在 Execute 崩溃或任务无法派发时给出降级结果，不得再panic。
type Executor[T, R any] interface {
	Execute(task T) R
	Recover(task T, cause error) R
}

// Funcs 用两个函数构造执行器
type Funcs[T, R any] struct {
	Exec      func(task T) R
	OnFailure func(task T, cause error) R
}

// Execute 实现 Executor
func (f Funcs[T, R]) Execute(task T) R { return f.Exec(task) }

// Recover 实现 Executor
func (f Funcs[T, R]) Recover(task T, cause error) R { return f.OnFailure(task, cause) }

// Config 工作池配置，每次调用显式传入
type Config struct {
	// EnableMultiThread 关闭时所有任务在调用方顺序执行
	EnableMultiThread bool `json:"enable_multi_thread"`
	// MaxThreads 工作器数量上限
	MaxThreads int `json:"max_threads"`
	// SmallBatchThreshold 任务数不超过该值时顺序执行
	SmallBatchThreshold int `json:"small_batch_threshold"`
	// MemoryThreshold 内存使用率（百分比）超过该值时工作器减半，0表示不检查
	MemoryThreshold float64 `json:"memory_threshold"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		EnableMultiThread:   true,
		MaxThreads:          8,
		SmallBatchThreshold: 2,
		MemoryThreshold:     80,
	}
}

// BatchResult 批次执行结果
type BatchResult[R any] struct {
	// Results 与任务一一对应；调用方应通过结果自身携带的标识关联任务
	Results     []R
	Elapsed     time.Duration
	WorkerCount int
	// Recovered 通过 Recover 降级处理的任务数
	Recovered int64
}

// memoryUsedPercent 当前系统内存使用率，测试中可替换
var memoryUsedPercent = func() (float64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}

// AvailableParallelism 可用的逻辑CPU数
func AvailableParallelism() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// WorkerCount 计算本批次使用的工作器数量：
// min(可用并行度, 任务数, 配置上限)，内存压力过大时减半
func WorkerCount(taskCount int, cfg Config) int {
	return PlanBatch(taskCount, cfg).Workers
}

func smallBatchThreshold(cfg Config) int {
	if cfg.SmallBatchThreshold < 0 {
		return DefaultConfig().SmallBatchThreshold
	}
	return cfg.SmallBatchThreshold
}

// Partition 将任务切分为 n 个连续分块，大小相差不超过1，余数分配给前面的分块
func Partition[T any](tasks []T, n int) [][]T {
	if len(tasks) == 0 || n <= 0 {
		return nil
	}
	n = min(n, len(tasks))

	chunks := make([][]T, 0, n)
	size, rem := len(tasks)/n, len(tasks)%n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rem {
			end++
		}
		chunks = append(chunks, tasks[start:end])
		start = end
	}
	return chunks
}

// RunBatch 执行一批任务并等待全部完成。
// 每个工作器独占一个连续分块并写入自己的结果切片，工作器之间没有共享的可变状态。
// 单个任务崩溃只影响该任务，由 Recover 给出降级结果，不会阻塞其他工作器。
// 不支持中途取消。
func RunBatch[T, R any](tasks []T, exec Executor[T, R], cfg Config, logger *zap.Logger) BatchResult[R] {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("pool")
	start := time.Now()

	workers := WorkerCount(len(tasks), cfg)
	if workers <= 1 {
		var recovered int64
		results := runChunk(tasks, exec, &recovered, logger)
		return BatchResult[R]{
			Results:     results,
			Elapsed:     time.Since(start),
			WorkerCount: min(workers, 1),
			Recovered:   recovered,
		}
	}

	p, err := ants.NewPool(workers, ants.WithPreAlloc(true))
	if err != nil {
		logger.Warn("创建工作池失败，改为单线程执行", zap.Error(err))
		var recovered int64
		results := runChunk(tasks, exec, &recovered, logger)
		return BatchResult[R]{Results: results, Elapsed: time.Since(start), WorkerCount: 1, Recovered: recovered}
	}
	defer p.Release()

	chunks := Partition(tasks, workers)
	chunkResults := make([][]R, len(chunks))
	var (
		wg        sync.WaitGroup
		recovered int64
	)

	logger.Debug("开始并行处理",
		zap.Int("tasks", len(tasks)),
		zap.Int("workers", workers))

	for i, chunk := range chunks {
		wg.Add(1)
		err := p.Submit(func() {
			defer wg.Done()
			chunkResults[i] = runChunk(chunk, exec, &recovered, logger)
		})
		if err != nil {
			wg.Done()
			logger.Error("任务分块派发失败", zap.Int("chunk", i), zap.Error(err))
			out := make([]R, len(chunk))
			for j, task := range chunk {
				out[j] = exec.Recover(task, fmt.Errorf("派发失败: %w", err))
			}
			atomic.AddInt64(&recovered, int64(len(chunk)))
			chunkResults[i] = out
		}
	}
	wg.Wait()

	results := make([]R, 0, len(tasks))
	for _, r := range chunkResults {
		results = append(results, r...)
	}

	return BatchResult[R]{
		Results:     results,
		Elapsed:     time.Since(start),
		WorkerCount: workers,
		Recovered:   atomic.LoadInt64(&recovered),
	}
}

// runChunk 顺序执行一个分块
func runChunk[T, R any](chunk []T, exec Executor[T, R], recovered *int64, logger *zap.Logger) []R {
	out := make([]R, len(chunk))
	for i, task := range chunk {
		var ok bool
		out[i], ok = runTask(task, exec, logger)
		if !ok {
			atomic.AddInt64(recovered, 1)
		}
	}
	return out
}

// runTask 执行单个任务，panic时转为 Recover 结果
func runTask[T, R any](task T, exec Executor[T, R], logger *zap.Logger) (result R, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("任务执行发生panic", zap.Any("task", task), zap.Any("panic", r))
			result = exec.Recover(task, fmt.Errorf("panic: %v", r))
			ok = false
		}
	}()
	return exec.Execute(task), true
}

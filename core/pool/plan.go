package pool

// Plan 工作器数量的决策过程
type Plan struct {
	TaskCount  int  `json:"task_count"`
	CPUs       int  `json:"cpus"`
	MaxThreads int  `json:"max_threads"`
	Workers    int  `json:"workers"`
	Sequential bool `json:"sequential"`
	// MemoryUsed 系统内存使用率，未检查或读取失败时为负数
	MemoryUsed float64 `json:"memory_used"`
	// Throttled 因内存压力减半
	Throttled bool `json:"throttled"`
	// Reason 决策说明
	Reason string `json:"reason"`
}

// PlanBatch 计算工作器数量并给出说明
func PlanBatch(taskCount int, cfg Config) Plan {
	plan := Plan{
		TaskCount:  taskCount,
		CPUs:       AvailableParallelism(),
		MaxThreads: cfg.MaxThreads,
		MemoryUsed: -1,
	}
	if plan.MaxThreads <= 0 {
		plan.MaxThreads = DefaultConfig().MaxThreads
	}

	switch {
	case taskCount <= 0:
		plan.Reason = "没有任务"
		return plan
	case !cfg.EnableMultiThread:
		plan.Workers, plan.Sequential = 1, true
		plan.Reason = "多线程已关闭"
		return plan
	case taskCount <= smallBatchThreshold(cfg):
		plan.Workers, plan.Sequential = 1, true
		plan.Reason = "任务数不超过小批量阈值"
		return plan
	}

	plan.Workers = min(plan.CPUs, taskCount, plan.MaxThreads)
	plan.Reason = "取 CPU 数、任务数与线程上限中的最小值"

	if cfg.MemoryThreshold > 0 {
		if used, err := memoryUsedPercent(); err == nil {
			plan.MemoryUsed = used
			if used > cfg.MemoryThreshold {
				plan.Workers = max(plan.Workers/2, 1)
				plan.Throttled = true
				plan.Reason = "内存使用率超过阈值，工作器减半"
			}
		}
	}
	plan.Sequential = plan.Workers <= 1
	return plan
}

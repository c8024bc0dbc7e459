package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"iwms/core/pool"
	"iwms/internal/ui"
)

func (a *app) newPoolCmd() *cobra.Command {
	var (
		tasks  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "显示压缩工作池的线程决策",
		Long: `按当前配置计算一批压缩任务会使用的工作器数量，包括：

• 可用CPU数与线程上限
• 小批量单线程阈值
• 内存使用率超过阈值时的减半

示例：
  iwms pool --tasks 200
  iwms pool monitor --tasks 200`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan := pool.PlanBatch(tasks, a.cfg.PoolConfig())
			if asJSON {
				return printJSON(cmd, plan)
			}
			return ui.RenderPlan(plan, a.cfg.Concurrency.MemoryThreshold)
		},
	}
	cmd.PersistentFlags().IntVar(&tasks, "tasks", 100, "假设的压缩任务数")
	cmd.Flags().BoolVar(&asJSON, "json", false, "以JSON输出")

	var interval time.Duration
	monitor := &cobra.Command{
		Use:   "monitor",
		Short: "持续显示工作器决策，按 Ctrl+C 退出",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return monitorPool(cmd.Context(), interval, func() {
				plan := pool.PlanBatch(tasks, a.cfg.PoolConfig())
				ui.DisplayInfo(fmt.Sprintf("%s 工作器 %d，内存 %.1f%%，%s",
					time.Now().Format("15:04:05"), plan.Workers, plan.MemoryUsed, plan.Reason))
			})
		},
	}
	monitor.Flags().DurationVar(&interval, "interval", time.Second, "刷新间隔")
	cmd.AddCommand(monitor)
	return cmd
}

// monitorPool 每隔 interval 调用一次 tick，直到 ctx 结束
func monitorPool(ctx context.Context, interval time.Duration, tick func()) error {
	if interval <= 0 {
		return fmt.Errorf("刷新间隔必须大于0")
	}
	ctx, stop := signalContext(ctx)
	defer stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick()
		}
	}
}

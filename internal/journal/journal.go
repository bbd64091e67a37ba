package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/agentnode/internal/metrics"
	"github.com/BaSui01/agentnode/types"
)

// =============================================================================
// 💾 执行流水账
// =============================================================================

// ErrNotFound 查询的流水行不存在
var ErrNotFound = errors.New("journal: record not found")

// Config 流水账配置
type Config struct {
	// 是否启用持久化（禁用时节点仅保留内存状态）
	Enabled bool `yaml:"enabled" json:"enabled"`

	// 数据库方言：sqlite / postgres / mysql
	Driver string `yaml:"driver" json:"driver"`

	// 数据源。sqlite 为文件路径 DSN，其余为标准连接串
	DSN string `yaml:"dsn" json:"dsn"`

	// 终态记录与事件的保留期，超期由 PurgeBefore 清除
	Retention time.Duration `yaml:"retention" json:"retention"`

	// 连接池参数
	Pool PoolConfig `yaml:"pool" json:"pool"`
}

// DefaultConfig 返回默认流水账配置（纯 Go SQLite，单文件）
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Driver:    "sqlite",
		DSN:       "file:agentnode.db?cache=shared",
		Retention: 7 * 24 * time.Hour,
		Pool:      DefaultPoolConfig(),
	}
}

// Journal 执行流水账仓库
type Journal struct {
	pool      *PoolManager
	driver    string
	collector *metrics.Collector
	logger    *zap.Logger
}

// Open 按配置打开数据库连接并初始化表结构
func Open(cfg Config, logger *zap.Logger) (*Journal, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported journal driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	j, err := New(db, cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := j.InitSchema(); err != nil {
		_ = j.Close()
		return nil, err
	}

	return j, nil
}

// New 基于已有 GORM 连接构造流水账（测试注入用）
func New(db *gorm.DB, cfg Config, logger *zap.Logger) (*Journal, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}

	pool, err := NewPoolManager(db, cfg.Pool, logger)
	if err != nil {
		return nil, err
	}

	return &Journal{
		pool:   pool,
		driver: driver,
		logger: logger.With(zap.String("component", "journal")),
	}, nil
}

// InitSchema 自动迁移流水账表结构
// 生产环境建议使用 migration 包的版本化迁移
func (j *Journal) InitSchema() error {
	err := j.pool.DB().AutoMigrate(
		&ExecutionRow{},
		&WorkflowEventRow{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto migrate journal schema: %w", err)
	}
	return nil
}

// SetCollector 注入指标收集器（可选）
func (j *Journal) SetCollector(c *metrics.Collector) {
	j.collector = c
}

// observe 上报一次查询耗时与连接池状态
func (j *Journal) observe(op string, start time.Time) {
	if j.collector == nil {
		return
	}
	j.collector.RecordDBQuery(j.driver, op, time.Since(start))
	stats := j.pool.Stats()
	j.collector.RecordDBConnections(j.driver, stats.OpenConnections, stats.Idle)
}

// terminalStatuses 终态集合，供 SQL 过滤
var terminalStatuses = []string{
	string(types.StatusSucceeded),
	string(types.StatusFailed),
	string(types.StatusCancelled),
	string(types.StatusTimeout),
}

// =============================================================================
// 📝 执行流水
// =============================================================================

// RecordSubmission 落盘一次新提交的执行
func (j *Journal) RecordSubmission(ctx context.Context, rec *types.ExecutionRecord, workflowID string) error {
	defer j.observe("insert_execution", time.Now())

	row, err := NewExecutionRow(rec, workflowID)
	if err != nil {
		return err
	}

	if err := j.pool.DB().WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("record submission %s: %w", rec.ExecutionID, err)
	}
	return nil
}

// MarkRunning 将执行标记为运行中并记录开始时间
func (j *Journal) MarkRunning(ctx context.Context, executionID string) error {
	defer j.observe("update_execution", time.Now())

	now := time.Now().UTC()
	res := j.pool.DB().WithContext(ctx).
		Model(&ExecutionRow{}).
		Where("execution_id = ? AND status = ?", executionID, string(types.StatusQueued)).
		Updates(map[string]any{
			"status":     string(types.StatusRunning),
			"started_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("mark running %s: %w", executionID, res.Error)
	}
	return nil
}

// RecordTerminal 写入终态：状态、结果、错误与完成时间，同时清空输入负载
func (j *Journal) RecordTerminal(ctx context.Context, rec *types.ExecutionRecord) error {
	defer j.observe("update_execution", time.Now())

	updates := map[string]any{
		"status":       string(rec.Status),
		"error":        rec.Error,
		"completed_at": rec.CompletedAt,
		"input_json":   "",
	}

	if rec.Result != nil {
		data, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		updates["result_json"] = string(data)
	}

	res := j.pool.DB().WithContext(ctx).
		Model(&ExecutionRow{}).
		Where("execution_id = ?", rec.ExecutionID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("record terminal %s: %w", rec.ExecutionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("record terminal %s: %w", rec.ExecutionID, ErrNotFound)
	}
	return nil
}

// Execution 按执行 ID 查询单条流水
func (j *Journal) Execution(ctx context.Context, executionID string) (*types.ExecutionRecord, error) {
	defer j.observe("select_execution", time.Now())

	var row ExecutionRow
	err := j.pool.DB().WithContext(ctx).
		Where("execution_id = ?", executionID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
		}
		return nil, fmt.Errorf("load execution %s: %w", executionID, err)
	}

	return row.Record()
}

// OpenExecutions 返回所有未终态的执行，节点重启后据此恢复轮询
func (j *Journal) OpenExecutions(ctx context.Context) ([]*types.ExecutionRecord, error) {
	defer j.observe("select_executions", time.Now())

	var rows []ExecutionRow
	err := j.pool.DB().WithContext(ctx).
		Where("status NOT IN ?", terminalStatuses).
		Order("submitted_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load open executions: %w", err)
	}

	records := make([]*types.ExecutionRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].Record()
		if err != nil {
			j.logger.Warn("skipping unreadable journal row",
				zap.String("execution_id", rows[i].ExecutionID),
				zap.Error(err),
			)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// =============================================================================
// 📣 事件流水
// =============================================================================

// AppendEvent 追加一条生命周期事件
func (j *Journal) AppendEvent(ctx context.Context, ev *types.WorkflowEvent) error {
	defer j.observe("insert_event", time.Now())

	row, err := NewWorkflowEventRow(ev)
	if err != nil {
		return err
	}

	if err := j.pool.DB().WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("append event for %s: %w", ev.ExecutionID, err)
	}
	return nil
}

// Events 按工作流查询事件历史，时间升序，limit <= 0 不限制
func (j *Journal) Events(ctx context.Context, workflowID string, limit int) ([]*types.WorkflowEvent, error) {
	defer j.observe("select_events", time.Now())

	q := j.pool.DB().WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []WorkflowEventRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load events for workflow %s: %w", workflowID, err)
	}

	events := make([]*types.WorkflowEvent, 0, len(rows))
	for i := range rows {
		ev, err := rows[i].Event()
		if err != nil {
			j.logger.Warn("skipping unreadable event row",
				zap.String("execution_id", rows[i].ExecutionID),
				zap.Error(err),
			)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// =============================================================================
// 🧹 保留期清理
// =============================================================================

// PurgeBefore 删除 cutoff 之前完成的终态执行与事件，返回删除总行数
// 两张表在同一事务内清理，避免留下孤儿事件
func (j *Journal) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	defer j.observe("purge", time.Now())

	var total int64
	err := j.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		res := tx.Where("status IN ? AND completed_at < ?", terminalStatuses, cutoff).
			Delete(&ExecutionRow{})
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected

		res = tx.Where("created_at < ?", cutoff).
			Delete(&WorkflowEventRow{})
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge journal before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	if total > 0 {
		j.logger.Info("journal purged",
			zap.Int64("rows", total),
			zap.Time("cutoff", cutoff),
		)
	}
	return total, nil
}

// =============================================================================
// 🔧 辅助方法
// =============================================================================

// Ping 检查数据库连通性
func (j *Journal) Ping(ctx context.Context) error {
	return j.pool.Ping(ctx)
}

// Stats 返回连接池统计
func (j *Journal) Stats() PoolStats {
	return j.pool.GetStats()
}

// Close 关闭底层连接池
func (j *Journal) Close() error {
	return j.pool.Close()
}

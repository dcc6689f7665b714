package execution

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"InsightLink/internal/config"
	"InsightLink/internal/modules/conversation/application/service"
	"InsightLink/internal/modules/conversation/domain/entity"
	"InsightLink/pkg/zlog"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const countLimit = 10000

// DBResolver 按数据源 id 返回连接
type DBResolver interface {
	DB(ctx context.Context, dataSourceID string) (*gorm.DB, error)
}

// Pool 按 DSN 懒加载连接，每个数据源一个 *gorm.DB
type Pool struct {
	mu      sync.Mutex
	sources map[string]config.DataSourceConfig
	dbs     map[string]*gorm.DB
	open    func(dsn string) (*gorm.DB, error)
}

func NewPool(sources []config.DataSourceConfig) *Pool {
	p := &Pool{
		sources: make(map[string]config.DataSourceConfig, len(sources)),
		dbs:     make(map[string]*gorm.DB),
		open:    openMySQL,
	}
	for _, s := range sources {
		p.sources[s.ID] = s
	}
	return p
}

// Register 直接登记现成的连接
func (p *Pool) Register(dataSourceID string, db *gorm.DB) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dbs[dataSourceID] = db
}

func (p *Pool) DB(ctx context.Context, dataSourceID string) (*gorm.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if db, ok := p.dbs[dataSourceID]; ok {
		return db, nil
	}
	src, ok := p.sources[dataSourceID]
	if !ok {
		return nil, newExecError(service.ExecCodeUnknownSource, fmt.Errorf("data source %q not registered", dataSourceID))
	}
	if strings.TrimSpace(src.DSN) == "" {
		return nil, newExecError(service.ExecCodeUnavailable, fmt.Errorf("data source %q has no dsn", dataSourceID))
	}
	db, err := p.open(src.DSN)
	if err != nil {
		return nil, newExecError(service.ExecCodeUnavailable, err)
	}
	p.dbs[dataSourceID] = db
	return db, nil
}

func openMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

type ExecutorOptions struct {
	// PlainTx 为 true 时不使用只读事务，供不支持 READ ONLY 的驱动使用
	PlainTx bool
}

// GormExecutor 只读执行器：语句白名单 + 只读事务 + 行数上限
type GormExecutor struct {
	resolver DBResolver
	opts     ExecutorOptions
}

func NewGormExecutor(resolver DBResolver, opts ExecutorOptions) *GormExecutor {
	return &GormExecutor{resolver: resolver, opts: opts}
}

func (e *GormExecutor) Execute(ctx context.Context, dataSourceID, query string, maxRows int) (*entity.ResultSample, error) {
	stmt, err := GuardReadOnly(query)
	if err != nil {
		return nil, Classify(err)
	}
	if maxRows <= 0 {
		maxRows = 20
	}
	db, err := e.resolver.DB(ctx, dataSourceID)
	if err != nil {
		return nil, Classify(err)
	}
	txOpts := &sql.TxOptions{ReadOnly: true}
	if e.opts.PlainTx {
		txOpts = nil
	}

	var out *entity.ResultSample
	start := time.Now()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := tx.Raw(stmt).Rows()
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = collect(rows, maxRows)
		return err
	}, txOpts)
	if err != nil {
		if ctx.Err() != nil && ctx.Err() != context.DeadlineExceeded {
			return nil, ctx.Err()
		}
		ce := Classify(err)
		zlog.Info("sql execution failed", zap.String("data_source_id", dataSourceID), zap.String("code", ce.Code), zap.Error(err))
		return nil, ce
	}
	zlog.Debug("sql executed", zap.String("data_source_id", dataSourceID), zap.Int("rows", out.RowCount), zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

func collect(rows *sql.Rows, maxRows int) (*entity.ResultSample, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := &entity.ResultSample{Columns: cols, Rows: make([][]interface{}, 0)}
	for rows.Next() {
		out.RowCount++
		if len(out.Rows) >= maxRows {
			out.Truncated = true
			if out.RowCount >= countLimit {
				break
			}
			continue
		}
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out.Rows = append(out.Rows, vals)
	}
	return out, rows.Err()
}

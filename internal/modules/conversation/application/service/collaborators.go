package service

import (
	"context"
	"fmt"

	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/conversation/domain/entity"
)

// Discoverer 根据问题推荐数据源
type Discoverer interface {
	Discover(ctx context.Context, userID, queryText string) ([]entity.Candidate, error)
}

// SchemaInfo 传给 SQL 生成的表结构说明
type SchemaInfo struct {
	DataSourceID string
	Name         string
	Schema       string
}

type SchemaProvider interface {
	Schema(dataSourceID string) (SchemaInfo, bool)
}

type GenerationRequest struct {
	Context  *contextitem.OptimizedContext
	Schema   SchemaInfo
	Question string
	History  []string
}

type GeneratedSQL struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
}

// SQLGenerator 把问题和上下文翻译成只读 SQL
type SQLGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GeneratedSQL, error)
}

// GenerationError 生成失败，属于可恢复错误
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sql generation failed: %s: %v", e.Reason, e.Err)
	}
	return "sql generation failed: " + e.Reason
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Executor 在只读连接上执行查询
type Executor interface {
	Execute(ctx context.Context, dataSourceID, sql string, maxRows int) (*entity.ResultSample, error)
}

// ExecutionError Message 已脱敏，可以直接展示给用户
type ExecutionError struct {
	Code    string
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("sql execution failed [%s]: %s", e.Code, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// 执行错误码
const (
	ExecCodeInvalidColumn = "INVALID_COLUMN"
	ExecCodeInvalidTable  = "INVALID_TABLE"
	ExecCodeSyntax        = "SQL_SYNTAX"
	ExecCodeDenied        = "ACCESS_DENIED"
	ExecCodeReadOnly      = "READ_ONLY_VIOLATION"
	ExecCodeTimeout       = "QUERY_TIMEOUT"
	ExecCodeUnavailable   = "DATASOURCE_UNAVAILABLE"
	ExecCodeUnknownSource = "UNKNOWN_DATASOURCE"
	ExecCodeFailed        = "EXECUTION_FAILED"
)

// PhaseNotifier 推送状态机阶段变化
type PhaseNotifier interface {
	PhaseChanged(userID, sessionID string, phase entity.Phase)
}

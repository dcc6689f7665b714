package execution

import (
	"context"
	"database/sql/driver"
	"errors"

	"InsightLink/internal/modules/conversation/application/service"

	"github.com/go-sql-driver/mysql"
)

// MySQL 服务端错误号
const (
	erDBAccessDenied     = 1044
	erAccessDenied       = 1045
	erSyntax             = 1064
	erBadField           = 1054
	erTableAccessDenied  = 1142
	erColumnAccessDenied = 1143
	erNoSuchTable        = 1146
	erNonUniqTable       = 1066
	erBadTable           = 1051
	erReadOnlyTx         = 1792
	erReadOnlyServer     = 1290
	erQueryTimeout       = 3024
	erQueryInterrupted   = 1317
)

var sanitized = map[string]string{
	service.ExecCodeInvalidColumn: "The query referenced a column that does not exist.",
	service.ExecCodeInvalidTable:  "The query referenced a table that does not exist.",
	service.ExecCodeSyntax:        "The generated query has a syntax error.",
	service.ExecCodeDenied:        "You do not have access to the data this query needs.",
	service.ExecCodeReadOnly:      "Only read-only queries can be executed.",
	service.ExecCodeTimeout:       "The query took too long and was cancelled.",
	service.ExecCodeUnavailable:   "The data source is currently unavailable.",
	service.ExecCodeUnknownSource: "The data source is not registered.",
	service.ExecCodeFailed:        "The query could not be executed.",
}

func newExecError(code string, err error) *service.ExecutionError {
	return &service.ExecutionError{Code: code, Message: sanitized[code], Err: err}
}

// Classify 把驱动错误映射成对外错误码，原始错误只保留在 Err 里
func Classify(err error) *service.ExecutionError {
	if err == nil {
		return nil
	}
	var ee *service.ExecutionError
	if errors.As(err, &ee) {
		return ee
	}
	if errors.Is(err, ErrNotReadOnly) || errors.Is(err, ErrMultipleStatement) || errors.Is(err, ErrEmptyStatement) {
		return newExecError(service.ExecCodeReadOnly, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newExecError(service.ExecCodeTimeout, err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return newExecError(service.ExecCodeUnavailable, err)
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case erBadField:
			return newExecError(service.ExecCodeInvalidColumn, err)
		case erNoSuchTable, erBadTable, erNonUniqTable:
			return newExecError(service.ExecCodeInvalidTable, err)
		case erSyntax:
			return newExecError(service.ExecCodeSyntax, err)
		case erDBAccessDenied, erAccessDenied, erTableAccessDenied, erColumnAccessDenied:
			return newExecError(service.ExecCodeDenied, err)
		case erReadOnlyTx, erReadOnlyServer:
			return newExecError(service.ExecCodeReadOnly, err)
		case erQueryTimeout, erQueryInterrupted:
			return newExecError(service.ExecCodeTimeout, err)
		}
	}
	return newExecError(service.ExecCodeFailed, err)
}

package execution

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrEmptyStatement    = errors.New("empty statement")
	ErrMultipleStatement = errors.New("multiple statements are not allowed")
	ErrNotReadOnly       = errors.New("only SELECT / WITH statements are allowed")
)

var (
	lineComment  = regexp.MustCompile(`(?m)(--|#)[^\n]*$`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	quoted       = regexp.MustCompile(`'(?:[^'\\]|\\.|'')*'|"(?:[^"\\]|\\.)*"`)
	backticked   = regexp.MustCompile("`(?:[^`]|``)*`")
	firstWord    = regexp.MustCompile(`^\(*\s*([A-Za-z]+)`)
	writeWord    = regexp.MustCompile(`(?i)\b(insert|update|delete|merge|upsert|drop|alter|create|truncate|rename|grant|revoke|call|exec|execute|unlock|handler|outfile|dumpfile|sleep|benchmark)\b`)

	// replace / load / lock 也常作函数名或列名，只拦截写语句形式
	writePhrase = regexp.MustCompile(`(?i)\b(replace\s+(low_priority\s+|delayed\s+)?into|load\s+(data|xml)|lock\s+(tables?|in\s+share\s+mode))\b`)
)

// GuardReadOnly 只放行单条 SELECT / WITH，返回去掉结尾分号的语句
func GuardReadOnly(sql string) (string, error) {
	stmt := strings.TrimSpace(sql)
	stmt = strings.TrimSpace(strings.TrimRight(stmt, "; \t\r\n"))
	if stmt == "" {
		return "", ErrEmptyStatement
	}
	// 先去掉字符串字面量和注释再做关键字检查
	bare := quoted.ReplaceAllString(stmt, "''")
	bare = backticked.ReplaceAllString(bare, "``")
	bare = blockComment.ReplaceAllString(bare, " ")
	bare = lineComment.ReplaceAllString(bare, " ")
	bare = strings.TrimSpace(bare)
	if strings.Contains(bare, ";") {
		return "", ErrMultipleStatement
	}
	m := firstWord.FindStringSubmatch(bare)
	if m == nil {
		return "", ErrNotReadOnly
	}
	switch strings.ToLower(m[1]) {
	case "select", "with":
	default:
		return "", ErrNotReadOnly
	}
	if writeWord.MatchString(bare) || writePhrase.MatchString(bare) {
		return "", ErrNotReadOnly
	}
	return stmt, nil
}

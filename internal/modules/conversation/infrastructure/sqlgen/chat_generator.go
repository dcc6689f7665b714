package sqlgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"InsightLink/internal/modules/conversation/application/service"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const systemPrompt = `你是资深数据分析师，负责把业务问题翻译成 MySQL 只读查询。
规则：
1. 只能输出一条 SELECT 或 WITH 语句，禁止任何写操作。
2. 指标口径以“业务上下文”为准，认证指标优先，业务规则必须遵守。
3. 只能使用“表结构”里出现的表和列。
4. 无法确定时把 sql 置空，并在 explanation 里说明缺少什么信息。
只输出 JSON：{"sql":"...","explanation":"..."}`

// ChatGenerator 基于 Eino ChatModel 的 SQL 生成
type ChatGenerator struct {
	chatModel model.BaseChatModel
}

func NewChatGenerator(chatModel model.BaseChatModel) *ChatGenerator {
	return &ChatGenerator{chatModel: chatModel}
}

func (g *ChatGenerator) Generate(ctx context.Context, req service.GenerationRequest) (*service.GeneratedSQL, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(buildUserPrompt(req)),
	}
	resp, err := g.chatModel.Generate(ctx, msgs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &service.GenerationError{Reason: "chat model call failed", Err: err}
	}
	var out service.GeneratedSQL
	if err := parseJSONFromContent(resp.Content, &out); err != nil {
		return nil, &service.GenerationError{Reason: "unparseable answer", Err: err}
	}
	out.SQL = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(out.SQL), ";"))
	out.Explanation = strings.TrimSpace(out.Explanation)
	if out.SQL == "" {
		return nil, &service.GenerationError{Reason: "model declined: " + out.Explanation}
	}
	return &out, nil
}

func buildUserPrompt(req service.GenerationRequest) string {
	var b strings.Builder
	b.WriteString("# 数据源\n")
	fmt.Fprintf(&b, "%s (%s)\n", req.Schema.Name, req.Schema.DataSourceID)
	b.WriteString("\n# 表结构\n")
	b.WriteString(strings.TrimSpace(req.Schema.Schema))
	b.WriteString("\n")
	if req.Context != nil && strings.TrimSpace(req.Context.Text) != "" {
		b.WriteString("\n# 业务上下文\n")
		b.WriteString(req.Context.Text)
	}
	if len(req.History) > 0 {
		b.WriteString("\n# 之前的问题\n")
		for _, h := range req.History {
			b.WriteString("- ")
			b.WriteString(strings.TrimSpace(h))
			b.WriteString("\n")
		}
	}
	b.WriteString("\n# 当前问题\n")
	b.WriteString(strings.TrimSpace(req.Question))
	return b.String()
}

func parseJSONFromContent(content string, out interface{}) error {
	raw := extractJSONObject(content)
	if raw == "" {
		return errors.New("json not found")
	}
	return json.Unmarshal([]byte(raw), out)
}

func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}

package chunking

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/recursive"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
)

// SummaryBuilder 为较长的业务定义生成摘要变体：按句子边界递归切分后取第一段。
// 预算装不下完整条目时，装箱器会退而使用这段摘要。
type SummaryBuilder struct {
	MaxLen  int
	LenFunc func(string) int

	initOnce sync.Once
	initErr  error
	splitter document.Transformer
}

// NewSummaryBuilder lenFunc 为空时按字符数计量
func NewSummaryBuilder(maxLen int, lenFunc func(string) int) *SummaryBuilder {
	if maxLen <= 0 {
		maxLen = 240
	}
	if lenFunc == nil {
		lenFunc = func(s string) int { return len([]rune(s)) }
	}
	return &SummaryBuilder{MaxLen: maxLen, LenFunc: lenFunc}
}

// Summarize 文本本身不超长时返回空串，表示没有摘要变体
func (b *SummaryBuilder) Summarize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" || b.LenFunc(text) <= b.MaxLen {
		return "", nil
	}

	b.initOnce.Do(func() {
		b.splitter, b.initErr = recursive.NewSplitter(ctx, &recursive.Config{
			ChunkSize:   b.MaxLen,
			OverlapSize: 0,
			Separators:  []string{"\n\n", "\n", "。", ". ", "！", "？", "；", "; ", "，", ", ", " "},
			LenFunc:     b.LenFunc,
			KeepType:    recursive.KeepTypeEnd,
		})
	})
	if b.initErr != nil {
		return "", b.initErr
	}

	frags, err := b.splitter.Transform(ctx, []*schema.Document{{Content: text}})
	if err != nil {
		return "", err
	}
	first := ""
	for _, f := range frags {
		if f != nil && strings.TrimSpace(f.Content) != "" {
			first = strings.TrimSpace(f.Content)
			break
		}
	}
	// 没有可用分隔符时切分器可能返回超长片段
	if first == "" || b.LenFunc(first) > b.MaxLen {
		first = b.hardCut(text)
	}
	if first == text {
		return "", nil
	}
	return first, nil
}

func (b *SummaryBuilder) hardCut(text string) string {
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if b.LenFunc(string(runes[:mid])) <= b.MaxLen {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return strings.TrimSpace(string(runes[:lo]))
}

package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding 与下游聊天模型一致的 BPE 编码
const DefaultEncoding = "cl100k_base"

var loaderOnce sync.Once

// TiktokenCounter 基于离线 BPE 字典的精确 token 计数，纯函数且并发安全
type TiktokenCounter struct {
	enc      *tiktoken.Tiktoken
	encoding string
}

func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	// 不在运行时联网下载字典
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %s: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc, encoding: encoding}, nil
}

// Count 特殊标记按普通文本计数，避免用户输入里的 <|endoftext|> 触发 panic
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.EncodeOrdinary(text))
}

func (c *TiktokenCounter) Encoding() string {
	return c.encoding
}

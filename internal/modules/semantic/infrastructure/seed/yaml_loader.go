package seed

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"InsightLink/internal/modules/semantic/application/dto/request"

	"gopkg.in/yaml.v3"
)

// LoadFile 读取 YAML 种子文件
func LoadFile(path string) (request.CatalogFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return request.CatalogFile{}, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode 未知字段直接报错，避免拼写错误被静默忽略
func Decode(r io.Reader) (request.CatalogFile, error) {
	var file request.CatalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return file, nil
		}
		return request.CatalogFile{}, fmt.Errorf("decode catalog yaml: %w", err)
	}
	return file, nil
}

func Parse(b []byte) (request.CatalogFile, error) {
	return Decode(bytes.NewReader(b))
}

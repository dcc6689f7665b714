package discovery

import (
	"sort"
	"strings"

	"InsightLink/internal/config"
	"InsightLink/internal/modules/conversation/application/service"
)

// Registry 配置文件登记的数据源
type Registry struct {
	sources []config.DataSourceConfig
	byID    map[string]config.DataSourceConfig
}

func NewRegistry(sources []config.DataSourceConfig) *Registry {
	r := &Registry{byID: make(map[string]config.DataSourceConfig, len(sources))}
	for _, s := range sources {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			continue
		}
		if _, dup := r.byID[id]; dup {
			continue
		}
		s.ID = id
		r.byID[id] = s
		r.sources = append(r.sources, s)
	}
	sort.Slice(r.sources, func(i, j int) bool { return r.sources[i].ID < r.sources[j].ID })
	return r
}

func (r *Registry) Get(id string) (config.DataSourceConfig, bool) {
	s, ok := r.byID[strings.TrimSpace(id)]
	return s, ok
}

func (r *Registry) All() []config.DataSourceConfig {
	return append([]config.DataSourceConfig(nil), r.sources...)
}

// Schema 实现 service.SchemaProvider
func (r *Registry) Schema(id string) (service.SchemaInfo, bool) {
	s, ok := r.Get(id)
	if !ok {
		return service.SchemaInfo{}, false
	}
	return service.SchemaInfo{DataSourceID: s.ID, Name: s.Name, Schema: s.Schema}, true
}

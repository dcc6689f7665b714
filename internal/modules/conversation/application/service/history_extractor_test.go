package service

import (
	"testing"

	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/conversation/domain/entity"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestTables(t *testing.T) {
	cases := []struct {
		sql  string
		want []string
	}{
		{"SELECT SUM(amount) FROM orders", []string{"orders"}},
		{"select * from `sales`.`orders` o join customers c on c.id = o.customer_id", []string{"sales.orders", "customers"}},
		{"SELECT region, SUM(amount) FROM Orders LEFT JOIN regions r USING (region_id) GROUP BY region", []string{"orders", "regions"}},
		{"SELECT x FROM (SELECT 1 AS x) t", nil},
		{"", nil},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Tables(tc.sql), tc.sql)
	}
}

func TestFilters(t *testing.T) {
	cases := []struct {
		sql  string
		want []string
	}{
		{"SELECT * FROM orders WHERE region = 'EU' AND amount > 100 GROUP BY day", []string{"region = 'EU'", "amount > 100"}},
		{"SELECT * FROM orders where is_test = 0 order by id limit 5", []string{"is_test = 0"}},
		{"SELECT * FROM orders", nil},
		{"SELECT * FROM orders WHERE status = 'paid';", []string{"status = 'paid'"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Filters(tc.sql), tc.sql)
	}
}

func TestRegexExtractorWindow(t *testing.T) {
	msgs := []entity.ConversationMessage{
		*userMsg("old question"),
		*sqlMsg("SELECT * FROM legacy"),
		*userMsg("revenue by region"),
		*sqlMsg("SELECT region, SUM(amount) FROM orders GROUP BY region"),
		*userMsg("now by month"),
	}
	got := NewRegexExtractor(1).Extract(msgs)
	want := contextitem.SessionContext{TablesUsed: []string{"orders"}, LastTopic: "revenue by region"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("extract mismatch (-want +got):\n%s", diff)
	}

	all := NewRegexExtractor(10).Extract(msgs)
	assert.Equal(t, []string{"orders", "legacy"}, all.TablesUsed)
}

func TestMergeContext(t *testing.T) {
	cur := contextitem.SessionContext{TablesUsed: []string{"orders"}, LastTopic: "revenue"}
	got := MergeContext(cur, contextitem.SessionContext{TablesUsed: []string{"orders", "regions"}, FiltersApplied: []string{"is_test = 0"}})
	assert.Equal(t, contextitem.SessionContext{
		TablesUsed:     []string{"orders", "regions"},
		FiltersApplied: []string{"is_test = 0"},
		LastTopic:      "revenue",
	}, got)
	// 原值不被修改
	assert.Equal(t, []string{"orders"}, cur.TablesUsed)

	got = MergeContext(got, contextitem.SessionContext{LastTopic: "  headcount "})
	assert.Equal(t, "headcount", got.LastTopic)
}

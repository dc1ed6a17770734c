package status

import (
	"reflect"
	"testing"
)

type ticket struct {
	id    string
	state string
}

func ticketState(t ticket) string { return t.state }

func ids(items []ticket) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.id
	}
	return out
}

var tickets = []ticket{
	{"t1", "closed"},
	{"t2", "open"},
	{"t3", "triaged"},
	{"t4", "open"},
	{"t5", "blocked"},
	{"t6", "legacy"},
}

func TestCountByStateIsSparse(t *testing.T) {
	counts := CountByState(tickets, ticketState)
	if _, ok := counts["unused"]; ok {
		t.Fatalf("expected zero-count states to be absent")
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if total != len(tickets) {
		t.Fatalf("expected counts to sum to %d, got %d", len(tickets), total)
	}
	if counts["open"] != 2 {
		t.Fatalf("expected two open tickets, got %d", counts["open"])
	}
	if got := CountByState[ticket](nil, ticketState); len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}

func TestFilterAndSort(t *testing.T) {
	v := NewValidator(fixtureRegistry(t))
	cases := []struct {
		name string
		opts FilterOptions
		want []string
	}{
		{name: "no filter keeps input order", opts: FilterOptions{Order: OrderNone}, want: []string{"t1", "t2", "t3", "t4", "t5", "t6"}},
		{name: "include preserves order", opts: FilterOptions{Include: []string{"open", "closed"}}, want: []string{"t1", "t2", "t4"}},
		{name: "priority order", opts: FilterOptions{Order: OrderPriority}, want: []string{"t2", "t4", "t3", "t5", "t1", "t6"}},
		{name: "include and priority", opts: FilterOptions{Include: []string{"closed", "open"}, Order: OrderPriority}, want: []string{"t2", "t4", "t1"}},
		{name: "empty include drops all", opts: FilterOptions{Include: []string{}}, want: []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FilterAndSort(v, "ticket", tickets, ticketState, tc.opts)
			if !reflect.DeepEqual(ids(got), tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, ids(got))
			}
		})
	}
	if tickets[0].id != "t1" {
		t.Fatalf("input mutated")
	}
}

func TestDenseCounts(t *testing.T) {
	reg := fixtureRegistry(t)
	rows := DenseCounts(reg, "ticket", CountByState(tickets, ticketState))
	var keys []string
	var counts []int
	for _, row := range rows {
		keys = append(keys, row.State.Key)
		counts = append(counts, row.Count)
	}
	if !reflect.DeepEqual(keys, []string{"open", "triaged", "blocked", "closed", "legacy"}) {
		t.Fatalf("unexpected dense keys %v", keys)
	}
	if !reflect.DeepEqual(counts, []int{2, 1, 1, 1, 1}) {
		t.Fatalf("unexpected dense counts %v", counts)
	}
	if rows[4].State.Label != "legacy" {
		t.Fatalf("expected undeclared state labelled by key")
	}
	if got := DenseCounts(reg, "ticket", nil); len(got) != 4 || got[0].Count != 0 {
		t.Fatalf("expected zero-filled rows, got %+v", got)
	}
}

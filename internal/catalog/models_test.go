package catalog

import (
	"testing"
	"time"

	gostac "github.com/planetlabs/go-stac"
)

func TestNewItem(t *testing.T) {
	raw := &gostac.Item{
		Id: "S2B_56HKJ_20230305_0_L2A",
		Properties: map[string]any{
			"datetime": "2023-03-05T00:07:34.512000Z",
			"created":  "2023-03-06T01:00:00.000000Z",
		},
		Assets: map[string]*gostac.Asset{
			"nir":    {Href: "https://example.com/S2B_56HKJ_20230305_0_L2A/B08.tif"},
			"swir22": {Href: "https://example.com/S2B_56HKJ_20230305_0_L2A/B12.tif"},
			"empty":  {},
		},
	}

	it, err := NewItem(raw)
	if err != nil {
		t.Fatalf("NewItem failed: %v", err)
	}

	if want := time.Date(2023, 3, 5, 0, 7, 34, 512000000, time.UTC); !it.Acquired.Equal(want) {
		t.Errorf("Expected acquired %v, got %v", want, it.Acquired)
	}
	if href, ok := it.Href("swir22"); !ok || href != "https://example.com/S2B_56HKJ_20230305_0_L2A/B12.tif" {
		t.Errorf("Unexpected swir22 href %q", href)
	}
	if _, ok := it.Href("empty"); ok {
		t.Error("Expected asset without href to be dropped")
	}
}

func TestNewItem_MissingDatetime(t *testing.T) {
	_, err := NewItem(&gostac.Item{Id: "x", Properties: map[string]any{}})
	if err == nil {
		t.Fatal("Expected error for item without datetime")
	}
}

func TestSceneName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"S2A_56HKJ_20230305_0_L2A", "S2A_20230305_0_L2A"},
		{"S2A_T56HKJ_20230305_0_L2A_B8A", "S2A_20230305_0_L2A_B8A"},
		{"S2A_56HKJ", "S2A"},
		{"scene", "scene"},
	}
	for _, tt := range tests {
		if got := SceneName(tt.input); got != tt.want {
			t.Errorf("SceneName(%q): expected %q, got %q", tt.input, tt.want, got)
		}
	}
}

func TestSiblings(t *testing.T) {
	target := item("S2A_56HKJ_20230305_0_L2A", at(5, 0))
	items := []Item{
		item("S2A_55HGD_20230305_0_L2A", at(5, 0)),
		target,
		item("S2A_56HKJ_20230315_0_L2A", at(15, 0)),
		item("S2A_56HLJ_20230305_0_L2A", at(5, 0)),
	}

	got := Siblings(items, target)
	want := []string{"S2A_56HKJ_20230305_0_L2A", "S2A_55HGD_20230305_0_L2A", "S2A_56HLJ_20230305_0_L2A"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d siblings, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("Sibling %d: expected %s, got %s", i, want[i], got[i].ID)
		}
	}
}

package catalog

import "testing"

func TestMergeFactsKeepsExistingKeys(t *testing.T) {
	node := NewNode("web01.example.com", "production")
	node.Facts["os"] = "linux"

	node.MergeFacts(map[string]any{"os": "windows", "cores": 4})

	if node.Facts["os"] != "linux" {
		t.Errorf("existing fact overwritten: %v", node.Facts["os"])
	}
	if node.Facts["cores"] != 4 {
		t.Errorf("new fact not merged: %v", node.Facts["cores"])
	}
}

func TestMergeFactsInitializesNilMap(t *testing.T) {
	node := &Node{Name: "web01.example.com"}
	node.MergeFacts(map[string]any{"os": "linux"})

	if node.Facts["os"] != "linux" {
		t.Errorf("merge into nil map lost the fact: %v", node.Facts)
	}
}

func TestResourceRef(t *testing.T) {
	res := Resource{Type: "file", Title: "/etc/motd"}
	if got := res.Ref(); got != "file[/etc/motd]" {
		t.Errorf("Ref() = %q", got)
	}
}

func TestSortResources(t *testing.T) {
	cat := &Catalog{
		Resources: []Resource{
			{Type: "service", Title: "nginx"},
			{Type: "file", Title: "/etc/motd"},
			{Type: "file", Title: "/etc/hosts"},
		},
	}
	cat.SortResources()

	want := []string{"file[/etc/hosts]", "file[/etc/motd]", "service[nginx]"}
	for i, res := range cat.Resources {
		if res.Ref() != want[i] {
			t.Errorf("resource %d = %s, want %s", i, res.Ref(), want[i])
		}
	}
}

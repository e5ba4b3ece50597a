package engine

import "testing"

func TestSplitExport(t *testing.T) {
	tests := []struct {
		name   string
		ref    string
		export string
		ok     bool
	}{
		{"widget.default", "widget", "default", true},
		{"widget.button.click", "widget", "button.click", true},
		{"widgets.default", "widget", "", false},
		{"widget.", "widget", "", false},
		{"widget", "widget", "", false},
		{"shared:ui.render", "widget", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			export, ok := splitExport(tt.name, tt.ref)
			if export != tt.export || ok != tt.ok {
				t.Errorf("splitExport(%q, %q) = %q, %v; want %q, %v", tt.name, tt.ref, export, ok, tt.export, tt.ok)
			}
		})
	}
}

func TestSplitShared(t *testing.T) {
	tests := []struct {
		input string
		dep   string
		fn    string
		ok    bool
	}{
		{"shared:ui.render", "ui", "render", true},
		{"shared:@acme/ui.render", "@acme/ui", "render", true},
		{"shared:lodash.fp.map", "lodash.fp", "map", true},
		{"shared:ui", "", "", false},
		{"shared:.render", "", "", false},
		{"shared:ui.", "", "", false},
		{"ui.render", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			dep, fn, ok := splitShared(tt.input)
			if dep != tt.dep || fn != tt.fn || ok != tt.ok {
				t.Errorf("splitShared(%q) = %q, %q, %v", tt.input, dep, fn, ok)
			}
		})
	}
}

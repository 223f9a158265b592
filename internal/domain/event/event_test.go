package event

import (
	"errors"
	"testing"
)

func TestTabSnapshotValidate(t *testing.T) {
	tests := []struct {
		name    string
		tab     *TabSnapshot
		wantErr bool
	}{
		{"valid", &TabSnapshot{ID: 5, WindowID: 1, URL: "https://example.com"}, false},
		{"nil snapshot", nil, true},
		{"zero tab id", &TabSnapshot{ID: 0, WindowID: 1, URL: "https://example.com"}, true},
		{"negative tab id", &TabSnapshot{ID: -1, WindowID: 1, URL: "https://example.com"}, true},
		{"zero window id", &TabSnapshot{ID: 5, WindowID: 0, URL: "https://example.com"}, true},
		{"empty url", &TabSnapshot{ID: 5, WindowID: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tab.Validate()
			if tt.wantErr && !errors.Is(err, ErrMalformedTab) {
				t.Errorf("Validate() = %v, want ErrMalformedTab", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

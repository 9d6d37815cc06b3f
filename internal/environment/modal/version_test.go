package modal

import (
	"errors"
	"strings"
	"testing"
)

// staticConfig is a ConfigReader returning canned `modal config show` output.
type staticConfig struct {
	out string
	err error
}

func (c staticConfig) ReadConfig() ([]byte, error) {
	return []byte(c.out), c.err
}

func TestCheckImageBuilderVersion(t *testing.T) {
	tests := []struct {
		name    string
		reader  staticConfig
		want    string
		wantErr string
	}{
		{
			name:   "minimum version",
			reader: staticConfig{out: `{"image_builder_version": "2025.06"}`},
			want:   "2025.06",
		},
		{
			name:   "newer version alongside other settings",
			reader: staticConfig{out: `{"image_builder_version": "2025.12", "environment": "main"}`},
			want:   "2025.12",
		},
		{
			name:    "null version",
			reader:  staticConfig{out: `{"image_builder_version": null}`},
			wantErr: "is unset; run: modal config set image_builder_version 2025.06",
		},
		{
			name:    "missing version",
			reader:  staticConfig{out: `{}`},
			wantErr: "is unset",
		},
		{
			name:    "old version",
			reader:  staticConfig{out: `{"image_builder_version": "2024.10"}`},
			wantErr: "2024.10 is older than 2025.06",
		},
		{
			name:    "modal CLI missing",
			reader:  staticConfig{err: errors.New(`exec: "modal": executable file not found in $PATH`)},
			wantErr: "reading modal config",
		},
		{
			name:    "CLI printed a table instead of JSON",
			reader:  staticConfig{out: "Setting  Value\n"},
			wantErr: "decoding modal config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := checkImageBuilderVersionWith(tt.reader)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected version %q, got %q", tt.want, got)
			}
		})
	}
}

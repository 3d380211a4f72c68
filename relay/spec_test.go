package relay

import (
	"strings"
	"testing"
)

func TestStreamSpecValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(s *StreamSpec)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(s *StreamSpec) {},
		},
		{
			name:   "free run fps is allowed",
			mutate: func(s *StreamSpec) { s.TargetFPS = 0 },
		},
		{
			name:    "missing input path",
			mutate:  func(s *StreamSpec) { s.InputPath = "" },
			wantErr: "input path",
		},
		{
			name:    "missing output path",
			mutate:  func(s *StreamSpec) { s.OutputPath = "" },
			wantErr: "output path",
		},
		{
			name:    "zero buffers",
			mutate:  func(s *StreamSpec) { s.BufferCount = 0 },
			wantErr: "buffer count",
		},
		{
			name:    "zero width",
			mutate:  func(s *StreamSpec) { s.Width = 0 },
			wantErr: "frame size",
		},
		{
			name:    "zero height",
			mutate:  func(s *StreamSpec) { s.Height = 0 },
			wantErr: "frame size",
		},
		{
			name:    "unset pixel format",
			mutate:  func(s *StreamSpec) { s.PixelFormat = 0 },
			wantErr: "pixel format",
		},
		{
			name:    "bogus export side",
			mutate:  func(s *StreamSpec) { s.ExportSide = ExportSide(7) },
			wantErr: "export side",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			spec := testSpec()
			tt.mutate(&spec)
			err := spec.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate: expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate: %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestStreamSpecValidateJoinsAllFailures(t *testing.T) {
	t.Parallel()

	err := StreamSpec{}.Validate()
	if err == nil {
		t.Fatal("Validate: expected error")
	}
	for _, want := range []string{"input path", "output path", "buffer count", "frame size", "pixel format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate: missing %q in %v", want, err)
		}
	}
}

func TestExportSideString(t *testing.T) {
	t.Parallel()

	if got := ExportInput.String(); got != "input" {
		t.Errorf("ExportInput: got %q", got)
	}
	if got := ExportOutput.String(); got != "output" {
		t.Errorf("ExportOutput: got %q", got)
	}
}

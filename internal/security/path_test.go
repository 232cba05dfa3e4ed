package security

import (
	"errors"
	"testing"
)

func TestValidateSavePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"plain filename", "fox.png", nil},
		{"subdirectory", "exports/fox.png", nil},
		{"absolute", "/etc/passwd", ErrAbsolutePath},
		{"parent traversal", "../fox.png", ErrPathTraversal},
		{"embedded traversal", "exports/../../fox.png", ErrPathTraversal},
		{"reserved name", "con.png", ErrReservedName},
		{"reserved name upper", "NUL.jpg", ErrReservedName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSavePath(tt.path)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSavePath(%q) error = %v, want %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSavePath_LeadingHyphen(t *testing.T) {
	if err := ValidateSavePath("-rf.png"); err == nil {
		t.Error("ValidateSavePath(-rf.png) = nil, want error")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Crimson Fox", "Crimson Fox"},
		{"slashes", "a/b\\c", "a-b-c"},
		{"shell metacharacters", `fox*?"<>|`, "fox"},
		{"leading dots", "..hidden", "hidden"},
		{"trailing dots and spaces", "fox. ", "fox"},
		{"null byte", "fox\x00.png", "fox.png"},
		{"reserved", "con", "con_"},
		{"empty", "", "artifact"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.input); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

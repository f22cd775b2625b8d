package version

import (
	"strings"
	"testing"
)

func TestAccessorsMatchInfo(t *testing.T) {
	v, c, d := Info()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{name: "version", got: GetVersion(), want: v},
		{name: "commit", got: GetCommit(), want: c},
		{name: "date", got: GetDate(), want: d},
	}
	for _, tt := range tests {
		if tt.got == "" {
			t.Errorf("%s must not be empty", tt.name)
		}
		if tt.got != tt.want {
			t.Errorf("%s = %q, Info() reports %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestStringWithLdflags(t *testing.T) {
	oldVersion, oldCommit, oldDate := version, commit, date
	t.Cleanup(func() { version, commit, date = oldVersion, oldCommit, oldDate })

	version, commit, date = "v1.2.0", "abc123", "2026-10-01"

	want := "storefront version=v1.2.0 commit=abc123 date=2026-10-01"
	if got := String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	if !strings.HasPrefix(String(), "storefront ") {
		t.Fatal("String must start with the service name")
	}
}

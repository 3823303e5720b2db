package scope

import "testing"

func TestOrigin(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://example.com/sw.js", want: "https://example.com"},
		{in: "http://localhost:8080/a/b/worker.js?v=1", want: "http://localhost:8080"},
		{in: "/relative/worker.js", wantErr: true},
		{in: "://bad", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Origin(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Origin(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Origin(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "https://example.com/app/sw.js", want: "https://example.com/app/"},
		{in: "https://example.com/sw.js?v=2#x", want: "https://example.com/"},
		{in: "https://example.com", want: "https://example.com/"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Default(tt.in)
			if err != nil {
				t.Fatalf("Default(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Default(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPolicy(t *testing.T) {
	p, err := NewPolicy([]string{"https://*.bank.example/**", "https://solo.example/"})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}

	tests := []struct {
		scope string
		want  bool
	}{
		{"https://www.bank.example/app/", true},
		{"https://bank.example/app/", false},
		{"https://solo.example/", true},
		{"https://solo.example/nested/", false},
		{"https://other.example/", false},
	}
	for _, tt := range tests {
		if got := p.Isolated(tt.scope); got != tt.want {
			t.Errorf("Isolated(%q) = %v, want %v", tt.scope, got, tt.want)
		}
	}

	if p.AllowReuse("https://solo.example/", true) {
		t.Error("isolated scope must not allow reuse")
	}
	if !p.AllowReuse("https://other.example/", true) {
		t.Error("non-isolated scope should keep the requested reuse")
	}
	if p.AllowReuse("https://other.example/", false) {
		t.Error("policy must never enable reuse the caller did not ask for")
	}
	if got := len(p.Patterns()); got != 2 {
		t.Errorf("Patterns() has %d entries, want 2", got)
	}
}

func TestPolicy_Invalid(t *testing.T) {
	if _, err := NewPolicy([]string{"https://[unclosed"}); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestPolicy_Nil(t *testing.T) {
	var p *Policy
	if p.Isolated("https://example.com/") {
		t.Error("nil policy isolates nothing")
	}
	if !p.AllowReuse("https://example.com/", true) {
		t.Error("nil policy keeps the requested reuse")
	}
}

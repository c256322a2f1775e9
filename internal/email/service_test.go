package email

import (
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderInvitationTemplate(t *testing.T) {
	data := InvitationData{
		AppName:        "Inkwell",
		InviterEmail:   "avery@inkwell.dev",
		WorkspaceTitle: "Acme Plans",
		WorkspaceURL:   "https://example.com/workspace/w1",
	}

	html, err := renderTemplate(invitationEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Inkwell") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "avery@inkwell.dev") {
		t.Error("template should contain the inviter email")
	}
	if !strings.Contains(html, "Acme Plans") {
		t.Error("template should contain the workspace title")
	}
	if !strings.Contains(html, "https://example.com/workspace/w1") {
		t.Error("template should contain the workspace URL")
	}
}

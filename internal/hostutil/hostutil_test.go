package hostutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireSecureURL(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"https://graph.microsoft.com/", false},
		{"", false},

		// HTTP localhost ok (dev use)
		{"http://localhost:3001", false},
		{"http://127.0.0.1:8080", false},
		{"http://[::1]:3000", false},
		{"http://app.localhost", false},

		// HTTP non-localhost rejected
		{"http://graph.microsoft.com/", true},
		{"http://api.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := RequireSecureURL(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "insecure http://")
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Error(t, RequireSecureURL("ftp://example.com"))
}

func TestIsLocalhost(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"localhost", true},
		{"localhost:3000", true},
		{"app.localhost", true},
		{"foo.bar.localhost:8080", true},
		{"127.0.0.1", true},
		{"127.0.0.1:3000", true},
		{"[::1]", true},
		{"[::1]:3000", true},

		{"::1", false}, // bare ::1 is invalid URL format
		{"example.com", false},
		{"localhost.example.com", false},
		{"127.0.0.2", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsLocalhost(tt.input))
		})
	}
}

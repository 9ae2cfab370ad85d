package msisdn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"local with leading zero", "0712345678", "712345678"},
		{"country prefix", "254712345678", "712345678"},
		{"already local", "712345678", "712345678"},
		{"plus and country prefix", "+254 712 345 678", "712345678"},
		{"dashes", "0712-345-678", "712345678"},
		{"nine digits not starting with 7", "112345678", "112345678"},
		{"long number ending in local form", "999712345678", "712345678"},
		{"long number without local tail", "123456789012", "123456789012"},
		{"empty", "", ""},
		{"non digits only", "abc-+", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

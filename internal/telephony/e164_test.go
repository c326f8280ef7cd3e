package telephony

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeE164(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+15551234567", "+15551234567", true},
		{" +1 (555) 123-4567 ", "+15551234567", true},
		{"0044 20 7946 0958", "+442079460958", true},
		{"+44.20.7946.0958", "+442079460958", true},
		{"5551234567", "", false},
		{"+0123456789", "", false},
		{"+1234567", "", false},
		{"+1234567890123456", "", false},
		{"+1555CALLNOW", "", false},
		{"1+5551234567", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizeE164(tc.in)
		if tc.ok {
			assert.NoError(t, err, tc.in)
			assert.Equal(t, tc.want, got, tc.in)
			continue
		}
		assert.True(t, IsKind(err, KindInvalidNumber), "%q: got %q, %v", tc.in, got, err)
	}
}

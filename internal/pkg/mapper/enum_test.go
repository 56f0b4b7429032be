package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanEnum(t *testing.T) {
	testCases := []struct {
		name string
		in   interface{}
		want string
	}{
		{name: "prefix and multiple words", in: "DEVICE_ERROR_NONE", want: "Error None"},
		{name: "prefix single word", in: "POWER_OFF", want: "Off"},
		{name: "no prefix", in: "RUNNING", want: "Running"},
		{name: "nil", in: nil, want: ""},
		{name: "empty string", in: "", want: ""},
		{name: "not a string", in: 42, want: ""},
		{name: "prefix only", in: "POWER_", want: ""},
		{name: "three words", in: "COURSE_TOWEL_DRY", want: "Towel Dry"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CleanEnum(tc.in))
		})
	}
}

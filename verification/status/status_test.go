package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseQuoteStatus(t *testing.T) {
	testCases := map[string]struct {
		want SGXStatus
	}{
		"OK":                                    {want: Ok},
		"GROUP_OUT_OF_DATE":                     {want: GroupOutOfDate},
		"GROUP_REVOKED":                         {want: GroupRevoked},
		"CONFIGURATION_NEEDED":                  {want: ConfigurationNeeded},
		"SW_HARDENING_NEEDED":                   {want: Invalid},
		"CONFIGURATION_AND_SW_HARDENING_NEEDED": {want: Invalid},
		"ok":                                    {want: Invalid},
		"":                                      {want: Invalid},
	}

	for input, tc := range testCases {
		t.Run(input, func(t *testing.T) {
			assert := assert.New(t)
			got := ParseQuoteStatus(input)
			assert.Equal(tc.want, got)
		})
	}
}

func TestSGXStatusString(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("Ok", Ok.String())
	assert.Equal("GroupRevoked", GroupRevoked.String())
	assert.Equal("Invalid", SGXStatus(42).String())
}

// File: internal/surface/driver_test.go
package surface

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRetryAfter(t *testing.T) {
	cases := []struct {
		name    string
		headers network.Headers
		want    time.Duration
	}{
		{"standard", network.Headers{"Retry-After": "30"}, 31 * time.Second},
		{"lowercase", network.Headers{"retry-after": "10"}, 11 * time.Second},
		{"capped", network.Headers{"Retry-After": "600"}, retryAfterCap},
		{"zero gets buffer", network.Headers{"Retry-After": "0"}, time.Second},
		{"negative ignored", network.Headers{"Retry-After": "-5"}, 0},
		{"not a number", network.Headers{"Retry-After": "tomorrow"}, 0},
		{"non-string value", network.Headers{"Retry-After": 30}, 0},
		{"absent", network.Headers{"Content-Type": "text/html"}, 0},
		{"empty", network.Headers{}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseRetryAfter(tc.headers))
		})
	}
}

func TestJSStr(t *testing.T) {
	assert.Equal(t, `"plain"`, jsStr("plain"))
	assert.Equal(t, `"with \"quotes\""`, jsStr(`with "quotes"`))
	assert.Equal(t, `"line\nbreak"`, jsStr("line\nbreak"))
}

func TestCombineContext(t *testing.T) {
	primary, cancelPrimary := context.WithCancel(context.Background())
	defer cancelPrimary()
	secondary, cancelSecondary := context.WithCancel(context.Background())
	defer cancelSecondary()

	combined, cancel := combineContext(primary, secondary)
	defer cancel()
	require.NoError(t, combined.Err())

	// Cancelling either side cancels the combined context.
	cancelSecondary()
	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context not cancelled")
	}
}

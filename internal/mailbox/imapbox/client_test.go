package imapbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadKey(t *testing.T) {
	tests := []struct {
		subject string
		want    string
	}{
		{"Quarterly numbers", "quarterly numbers"},
		{"Re: Quarterly numbers", "quarterly numbers"},
		{"RE: re: Quarterly numbers", "quarterly numbers"},
		{"  Re:   spaced  ", "spaced"},
		{"", "no-subject"},
		{"Re:", "no-subject"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, threadKey(tt.subject), "subject: %q", tt.subject)
	}
}

func TestParseUID(t *testing.T) {
	uid, err := parseUID("42")
	require.NoError(t, err)
	assert.Equal(t, uint32(42), uid)

	_, err = parseUID("not-a-uid")
	assert.Error(t, err)

	_, err = parseUID("")
	assert.Error(t, err)
}

func TestStripHTML(t *testing.T) {
	html := "<div><p>Hello <b>world</b></p>&nbsp;&amp; goodbye</div>"
	assert.Equal(t, "Hello world & goodbye", stripHTML(html))
}

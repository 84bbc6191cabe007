package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslations(t *testing.T) {
	require.NoError(t, InitI18n())

	data := map[string]interface{}{"Name": "Alice Tester"}
	assert.Equal(t, "You have a new email from Alice Tester!", TWithData(GetLocalizer("en"), "notification_new_email", data))
	assert.Equal(t, "Alice Tester さんから新しいメールが届きました！", TWithData(GetLocalizer("ja"), "notification_new_email", data))
	assert.Equal(t, "Not found", T(nil, "error_404"))
	assert.Equal(t, "Not found", T(GetLocalizer("fr"), "error_404"), "unsupported languages fall back to English")
	assert.Equal(t, "no_such_message", T(GetLocalizer("en"), "no_such_message"))
}

func TestDeltaRoundTrip(t *testing.T) {
	delta := PlainTextToDelta("I am away")
	assert.Equal(t, `[{"insert":"I am away\n"}]`, delta)
	assert.Equal(t, "I am away", DeltaToPlainText(delta))
	assert.Equal(t, "<p>html</p>", DeltaToPlainText("<p>html</p>"))
}

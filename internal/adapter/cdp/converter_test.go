package cdp

import (
	"testing"

	"cdpnetmon/internal/protocol"
	"cdpnetmon/pkg/domain"
	"cdpnetmon/pkg/traffic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToRequestStarted(t *testing.T) {
	t.Parallel()

	t.Run("full", func(t *testing.T) {
		ev, err := ToRequestStarted([]byte(`{
			"requestId":"1000.1","loaderId":"L","documentURL":"https://a.com/",
			"request":{"url":"https://a.com/api","method":"POST","headers":{"Cookie":"sid=1; t=2","Content-Type":"application/json"},"postData":"{\"a\":1}"},
			"timestamp":1.5,"wallTime":1700000000.1,
			"initiator":{"type":"script","url":"https://a.com/app.js"},
			"type":"Fetch"}`))
		require.NoError(t, err)
		assert.Equal(t, domain.RequestID("1000.1"), ev.ID)
		assert.Equal(t, "POST", ev.Method)
		assert.Equal(t, "Fetch", ev.ResourceType)
		assert.Equal(t, domain.Initiator{Type: "script", URL: "https://a.com/app.js"}, ev.Initiator)
		assert.Equal(t, "application/json", ev.Headers.Get("content-type"))
		assert.Equal(t, []traffic.Cookie{{Name: "sid", Value: "1"}, {Name: "t", Value: "2"}}, ev.Cookies)
		require.NotNil(t, ev.Body)
		assert.Equal(t, `{"a":1}`, *ev.Body)
		assert.Nil(t, ev.Redirect)
	})

	t.Run("redirect_and_default_type", func(t *testing.T) {
		ev, err := ToRequestStarted([]byte(`{
			"requestId":"7","request":{"url":"https://b.com/","method":"GET","headers":{}},
			"initiator":{"type":"other"},
			"redirectResponse":{"url":"http://b.com/","status":301,"statusText":"Moved","headers":{},"mimeType":"","connectionReused":false,"connectionId":0,"encodedDataLength":0,"securityState":"neutral"}}`))
		require.NoError(t, err)
		assert.Equal(t, "Other", ev.ResourceType)
		require.NotNil(t, ev.Redirect)
		assert.Equal(t, 301, ev.Redirect.Status)
	})

	t.Run("missing_id", func(t *testing.T) {
		_, err := ToRequestStarted([]byte(`{"request":{"url":"x","method":"GET","headers":{}}}`))
		assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
	})
}

func TestToResponseReceived(t *testing.T) {
	t.Parallel()

	ev, err := ToResponseReceived([]byte(`{
		"requestId":"1","loaderId":"L","timestamp":2,"type":"XHR",
		"response":{"url":"https://a.com/api","status":404,"statusText":"Not Found",
			"headers":{"Content-Type":"text/html","Set-Cookie":"a=1; Path=/\nb=2"},
			"mimeType":"text/html","connectionReused":true,"connectionId":1,"encodedDataLength":10,"securityState":"secure"}}`))
	require.NoError(t, err)
	assert.Equal(t, 404, ev.Status)
	assert.Equal(t, "Not Found", ev.StatusText)
	assert.Equal(t, "text/html", ev.MimeType)
	assert.Equal(t, []traffic.Cookie{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}, ev.Cookies)
}

func TestToLoadingEvents(t *testing.T) {
	t.Parallel()

	fin, err := ToLoadingFinished([]byte(`{"requestId":"1","timestamp":3,"encodedDataLength":512}`))
	require.NoError(t, err)
	assert.Equal(t, int64(512), fin.Size)

	failed, err := ToLoadingFailed([]byte(`{"requestId":"2","timestamp":3,"type":"Image","errorText":"net::ERR_ABORTED","canceled":true}`))
	require.NoError(t, err)
	assert.Equal(t, "net::ERR_ABORTED", failed.ErrorText)
	assert.True(t, failed.Canceled)
	assert.Equal(t, "Image", failed.ResourceType)

	_, err = ToLoadingFinished([]byte(`{"requestId":5}`))
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
}

func TestToBodyReply(t *testing.T) {
	t.Parallel()

	reply, err := ToBodyReply([]byte(`{"body":"aGk=","base64Encoded":true}`))
	require.NoError(t, err)
	assert.True(t, reply.Base64Encoded)
	assert.Equal(t, "aGk=", reply.Body)
}

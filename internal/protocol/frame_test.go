package protocol

import (
	"sync"
	"testing"

	"cdpnetmon/pkg/traffic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	t.Run("event", func(t *testing.T) {
		f, err := Decode([]byte(`{"method":"Network.loadingFinished","params":{"requestId":"1.2","encodedDataLength":512}}`))
		require.NoError(t, err)
		assert.Equal(t, KindEvent, f.Kind)
		assert.Equal(t, EventLoadingFinished, f.Method)
		assert.JSONEq(t, `{"requestId":"1.2","encodedDataLength":512}`, string(f.Params))
	})

	t.Run("reply_result", func(t *testing.T) {
		f, err := Decode([]byte(`{"id":7,"result":{"body":"hi","base64Encoded":false}}`))
		require.NoError(t, err)
		assert.Equal(t, KindReply, f.Kind)
		assert.Equal(t, int64(7), f.ID)
		assert.Nil(t, f.Error)
		assert.JSONEq(t, `{"body":"hi","base64Encoded":false}`, string(f.Result))
	})

	t.Run("reply_error", func(t *testing.T) {
		f, err := Decode([]byte(`{"id":9,"error":{"code":-32000,"message":"No resource with given identifier found"}}`))
		require.NoError(t, err)
		require.NotNil(t, f.Error)
		assert.Equal(t, -32000, f.Error.Code)
		assert.Contains(t, f.Error.Error(), "No resource")
	})

	malformed := map[string]string{
		"not_json":       `{"id":`,
		"array":          `[1,2]`,
		"string_id":      `{"id":"x","result":{}}`,
		"no_method":      `{"params":{}}`,
		"bad_error_body": `{"id":1,"error":"nope"}`,
	}
	for name, raw := range malformed {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	b, err := Encode(3, MethodGetResponseBody, map[string]string{"requestId": "42"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":3,"method":"Network.getResponseBody","params":{"requestId":"42"}}`, string(b))

	b, err = Encode(1, MethodNetworkEnable, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"method":"Network.enable"}`, string(b))
}

func TestSequenceUnique(t *testing.T) {
	t.Parallel()

	var (
		seq  Sequence
		mu   sync.Mutex
		seen = make(map[int64]struct{})
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				id := seq.Next()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 4000)
}

func TestParseCookie(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []traffic.Cookie{{Name: "a", Value: "1"}, {Name: "b", Value: "x=y"}}, ParseCookie("a=1; b=x=y; junk"))
	assert.Nil(t, ParseCookie(""))
	assert.Equal(t, []traffic.Cookie{{Name: "sid", Value: "abc"}, {Name: "t", Value: "2"}},
		ParseSetCookie("sid=abc; Path=/; HttpOnly\nt=2"))
}

package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyErrorNil(t *testing.T) {
	assert.Equal(t, FailureNone, ClassifyError(nil))
}

func TestClassifyErrorDeadline(t *testing.T) {
	assert.Equal(t, FailureTimeout, ClassifyError(context.DeadlineExceeded))
	wrapped := errors.Join(errors.New("request failed"), context.DeadlineExceeded)
	assert.Equal(t, FailureTimeout, ClassifyError(wrapped))
}

func TestClassifyErrorConnectionRefused(t *testing.T) {
	client := NewClient(&ClientConfig{Timeout: time.Second})
	_, err := client.Get("http://127.0.0.1:1")
	assert.Equal(t, FailureConnection, ClassifyError(err))
}

func TestClassifyErrorClientTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(&ClientConfig{Timeout: 20 * time.Millisecond})
	_, err := client.Get(server.URL)
	assert.Equal(t, FailureTimeout, ClassifyError(err))
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, FailureNone, ClassifyStatus(200))
	assert.Equal(t, FailureNone, ClassifyStatus(204))
	assert.Equal(t, FailureStatus, ClassifyStatus(404))
	assert.Equal(t, FailureStatus, ClassifyStatus(500))
	assert.Equal(t, FailureStatus, ClassifyStatus(302))
}

func TestStatusError(t *testing.T) {
	err := &StatusError{StatusCode: 502}
	assert.Equal(t, "remote returned status 502", err.Error())

	withBody := &StatusError{StatusCode: 400, BodyPreview: "bad payload"}
	assert.Contains(t, withBody.Error(), "bad payload")
}

func TestSafeStringPreview(t *testing.T) {
	assert.Equal(t, "", SafeStringPreview(nil, 10))
	assert.Equal(t, "hello", SafeStringPreview([]byte("hello"), 10))
	assert.Equal(t, "he", SafeStringPreview([]byte("hello"), 2))

	// Invalid UTF-8 is escaped rather than passed through.
	preview := SafeStringPreview([]byte{0xff, 0xfe}, 10)
	assert.NotContains(t, preview, "\xff")
}

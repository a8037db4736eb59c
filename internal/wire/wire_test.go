package wire

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestErrorFormatting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  RequestError
		want string
	}{
		{
			name: "server message",
			err:  RequestError{Op: "task create", Status: 409, Message: "duplicate task"},
			want: "task create: server returned 409: duplicate task",
		},
		{
			name: "raw body fallback",
			err:  RequestError{Op: "alert", Status: 500, Body: "boom\n"},
			want: "alert: server returned 500: boom",
		},
		{
			name: "status text fallback",
			err:  RequestError{Op: "login", Status: 401},
			want: "login: server returned 401: Unauthorized",
		},
		{
			name: "no operation",
			err:  RequestError{Status: 404},
			want: "server returned 404: Not Found",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}

func TestDecodeErrorParsesServerMessage(t *testing.T) {
	t.Parallel()

	resp := &http.Response{
		StatusCode: http.StatusBadRequest,
		Body:       io.NopCloser(strings.NewReader(`{"message": "label already in use"}`)),
	}

	reqErr := DecodeError(resp, "pool create")
	require.NotNil(t, reqErr)
	assert.Equal(t, "pool create", reqErr.Op)
	assert.Equal(t, http.StatusBadRequest, reqErr.Status)
	assert.Equal(t, "label already in use", reqErr.Message)
	assert.Empty(t, reqErr.Body)
}

func TestDecodeErrorKeepsRawBody(t *testing.T) {
	t.Parallel()

	resp := &http.Response{
		StatusCode: http.StatusBadGateway,
		Body:       io.NopCloser(strings.NewReader("<html>bad gateway</html>")),
	}

	reqErr := DecodeError(resp, "log read")
	assert.Equal(t, "<html>bad gateway</html>", reqErr.Body)
	assert.Equal(t, "log read: server returned 502: <html>bad gateway</html>", reqErr.Error())
}

func TestSuccess(t *testing.T) {
	t.Parallel()

	assert.True(t, Success(&http.Response{StatusCode: http.StatusOK}))
	assert.True(t, Success(&http.Response{StatusCode: http.StatusNoContent}))
	assert.False(t, Success(&http.Response{StatusCode: http.StatusMovedPermanently}))
	assert.False(t, Success(&http.Response{StatusCode: http.StatusUnauthorized}))
}

func TestErrorFromBody(t *testing.T) {
	t.Parallel()

	withMessage := ErrorFromBody("artifact get", http.StatusNotFound, []byte(`{"message": "artifact not found"}`))
	assert.Equal(t, "artifact not found", withMessage.Message)
	assert.Empty(t, withMessage.Body)

	raw := ErrorFromBody("artifact get", http.StatusNotFound, []byte("gone"))
	assert.Empty(t, raw.Message)
	assert.Equal(t, "gone", raw.Body)
}

func TestJSONRequest(t *testing.T) {
	t.Parallel()

	req, err := JSONRequest(context.Background(), http.MethodPost, "http://portal.test/api/v2/task", map[string]any{"activityLabel": "demo"})
	require.NoError(t, err)

	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"activityLabel":"demo"}`, string(body))
}

func TestJSONRequestNilBody(t *testing.T) {
	t.Parallel()

	req, err := JSONRequest(context.Background(), http.MethodGet, "http://portal.test/api/v2/task/1", nil)
	require.NoError(t, err)
	assert.Nil(t, req.Body)
}

func TestFormRequest(t *testing.T) {
	t.Parallel()

	values := url.Values{}
	values.Set("userLogin", "workspace")
	values.Set("key", "secret")

	req, err := FormRequest(context.Background(), "http://portal.test/app/api/login", values)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	parsed, err := url.ParseQuery(string(body))
	require.NoError(t, err)
	assert.Equal(t, "workspace", parsed.Get("userLogin"))
	assert.Equal(t, "secret", parsed.Get("key"))
}

func TestGetRequestAppendsQuery(t *testing.T) {
	t.Parallel()

	values := url.Values{}
	values.Set("days", "7")

	req, err := GetRequest(context.Background(), "http://portal.test/app/api/log/read", values)
	require.NoError(t, err)
	assert.Equal(t, "days=7", req.URL.RawQuery)

	bare, err := GetRequest(context.Background(), "http://portal.test/app/api/log/read", nil)
	require.NoError(t, err)
	assert.Empty(t, bare.URL.RawQuery)
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"version": "3.1.0"}`))
	}))
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var payload struct {
		Version string `json:"version"`
	}
	require.NoError(t, DecodeJSON(resp, &payload))
	assert.Equal(t, "3.1.0", payload.Version)
}

func TestReadBody(t *testing.T) {
	t.Parallel()

	resp := &http.Response{Body: io.NopCloser(strings.NewReader("plain credential value"))}
	body, err := ReadBody(resp)
	require.NoError(t, err)
	assert.Equal(t, "plain credential value", string(body))
}

func TestRequestContextKeepsExistingDeadline(t *testing.T) {
	t.Parallel()

	parent, cancel := context.WithDeadline(context.Background(), time.Now().Add(time.Minute))
	defer cancel()

	ctx, release := RequestContext(parent, time.Second)
	defer release()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	parentDeadline, _ := parent.Deadline()
	assert.Equal(t, parentDeadline, deadline)
}

func TestRequestContextAppliesTimeout(t *testing.T) {
	t.Parallel()

	ctx, release := RequestContext(context.Background(), time.Minute)
	defer release()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
}

func TestEncodeMultipartRoundTrip(t *testing.T) {
	t.Parallel()

	body, contentType, err := EncodeMultipart("file", "report.csv", strings.NewReader("a,b\n1,2\n"))
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mediaType)

	reader := multipart.NewReader(body, params["boundary"])
	part, err := reader.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "file", part.FormName())
	assert.Equal(t, "report.csv", part.FileName())

	content, err := io.ReadAll(part)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(content))
}

func TestEncodeMultipartFormWritesFieldsBeforeFile(t *testing.T) {
	t.Parallel()

	fields := map[string]string{"taskId": "55", "name": "shot.png"}
	body, contentType, err := EncodeMultipartForm(fields, "body", "shot.png", strings.NewReader("PNG"))
	require.NoError(t, err)

	_, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)

	form, err := multipart.NewReader(body, params["boundary"]).ReadForm(MaxResponseBytes)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })

	assert.Equal(t, []string{"55"}, form.Value["taskId"])
	assert.Equal(t, []string{"shot.png"}, form.Value["name"])

	files := form.File["body"]
	require.Len(t, files, 1)
	assert.Equal(t, "shot.png", files[0].Filename)

	file, err := files[0].Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = file.Close() })
	content, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "PNG", string(content))
}

package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	level string
	msg   string
	args  []any
}

type recordingLogger struct {
	records []record
}

func (l *recordingLogger) Info(msg string, args ...any) {
	l.records = append(l.records, record{level: "info", msg: msg, args: args})
}

func (l *recordingLogger) Error(msg string, args ...any) {
	l.records = append(l.records, record{level: "error", msg: msg, args: args})
}

// Turn key-value args into map
func fields(args []any) map[string]any {
	m := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		m[args[i].(string)] = args[i+1]
	}
	return m
}

func TestRequestLogger(t *testing.T) {
	serve := func(t *testing.T, h http.HandlerFunc, target string) (*recordingLogger, *http.Response, string) {
		l := &recordingLogger{}
		srv := httptest.NewServer(RequestLogger(l)(h))
		defer srv.Close()

		resp, err := http.Get(srv.URL + target)
		require.NoError(t, err, "should make request to test server")
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err, "should read response body")
		defer resp.Body.Close() // nolint:errcheck

		return l, resp, string(body)
	}

	t.Run("log served request", func(t *testing.T) {
		l, resp, body := serve(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
			_, err := w.Write([]byte("hi"))
			require.NoError(t, err, "should write response")
		}, "/test?token=secret")

		require.Equalf(t, http.StatusTeapot, resp.StatusCode, "should return status Teapot. Resp: %s", body)
		require.Equal(t, "hi", body)

		require.Len(t, l.records, 1, "logger should be called once")
		rec := l.records[0]
		assert.Equal(t, "info", rec.level)
		assert.Equal(t, "HTTP request served", rec.msg)

		f := fields(rec.args)
		assert.Equal(t, "GET", f["method"])
		assert.Equal(t, "/test", f["path"], "query string must not be logged")
		assert.Equal(t, "127.0.0.1", f["ip"])
		assert.Equal(t, http.StatusTeapot, f["status"])
		assert.Equal(t, 2, f["size"], "size should be 2 (length of 'hi')")
		assert.NotEmpty(t, f["duration"])
	})

	t.Run("implicit ok status", func(t *testing.T) {
		l, _, _ := serve(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("ok"))
		}, "/")

		require.Len(t, l.records, 1)
		assert.Equal(t, http.StatusOK, fields(l.records[0].args)["status"])
	})

	t.Run("server error on error level", func(t *testing.T) {
		l, resp, _ := serve(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.WriteHeader(http.StatusOK)
		}, "/boom")

		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		require.Len(t, l.records, 1)
		assert.Equal(t, "error", l.records[0].level)
		assert.Equal(t, http.StatusInternalServerError, fields(l.records[0].args)["status"], "first written status is logged")
	})
}

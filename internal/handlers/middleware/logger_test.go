package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logCall struct {
	level string
	msg   string
	args  []any
}

// value logged under key, nil if missing
func (c logCall) field(key string) any {
	for i := 0; i+1 < len(c.args); i += 2 {
		if c.args[i] == key {
			return c.args[i+1]
		}
	}
	return nil
}

type recordingLogger struct {
	calls []logCall
}

func (l *recordingLogger) Info(msg string, v ...any) {
	l.calls = append(l.calls, logCall{level: "info", msg: msg, args: v})
}

func (l *recordingLogger) Warn(msg string, v ...any) {
	l.calls = append(l.calls, logCall{level: "warn", msg: msg, args: v})
}

func (l *recordingLogger) Error(msg string, v ...any) {
	l.calls = append(l.calls, logCall{level: "error", msg: msg, args: v})
}

func TestLoggerMiddleware(t *testing.T) {
	t.Run("log request", func(t *testing.T) {
		logger := &recordingLogger{}

		mux := http.NewServeMux()
		mux.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
			_, err := w.Write([]byte("hi"))
			require.NoError(t, err, "should write response")
		})

		srv := httptest.NewServer(LoggerMiddleware(logger)(mux))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/items/7")
		require.NoError(t, err, "should make request to test server")
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err, "should read response body")
		defer resp.Body.Close() // nolint:errcheck

		require.Equalf(t, http.StatusTeapot, resp.StatusCode, "should return status Teapot. Resp: %s", string(body))
		require.Equal(t, "hi", string(body))

		require.Len(t, logger.calls, 1, "logger should be called once")
		call := logger.calls[0]
		assert.Equal(t, "warn", call.level, "4xx logged as warning")
		assert.Equal(t, "http request", call.msg)
		assert.Len(t, call.args, 16)
		assert.Equal(t, "GET", call.field("method"))
		assert.Equal(t, "GET /items/{id}", call.field("route"))
		assert.Equal(t, "/items/7", call.field("uri"))
		assert.Equal(t, http.StatusTeapot, call.field("status"))
		assert.Equal(t, 2, call.field("size"), "size should be 2 (length of 'hi')")
		assert.NotEmpty(t, call.field("remote"))
		assert.NotNil(t, call.field("duration"))

		id := resp.Header.Get(RequestIDHeader)
		assert.Len(t, id, 26, "generated id is a ulid")
		assert.Equal(t, id, call.field("request_id"))
	})

	t.Run("request id kept", func(t *testing.T) {
		logger := &recordingLogger{}
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc")
		LoggerMiddleware(logger)(h).ServeHTTP(w, req)

		assert.Equal(t, "abc", w.Header().Get(RequestIDHeader))
		require.Len(t, logger.calls, 1)
		assert.Equal(t, "info", logger.calls[0].level)
		assert.Equal(t, "abc", logger.calls[0].field("request_id"))
		assert.Equal(t, http.StatusOK, logger.calls[0].field("status"), "no explicit status means 200")
		assert.Equal(t, "", logger.calls[0].field("route"), "no mux, no route")
	})

	t.Run("first status wins", func(t *testing.T) {
		logger := &recordingLogger{}
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			w.WriteHeader(http.StatusInternalServerError) // superfluous, ignored by net/http
		})

		w := httptest.NewRecorder()
		LoggerMiddleware(logger)(h).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))

		require.Len(t, logger.calls, 1)
		assert.Equal(t, "info", logger.calls[0].level)
		assert.Equal(t, http.StatusCreated, logger.calls[0].field("status"))
	})

	t.Run("server error logged as error", func(t *testing.T) {
		logger := &recordingLogger{}
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		w := httptest.NewRecorder()
		LoggerMiddleware(logger)(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

		require.Len(t, logger.calls, 1)
		require.Equal(t, "error", logger.calls[0].level)
	})
}

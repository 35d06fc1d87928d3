package logger

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iurnickita/sugarrush/internal/logger/config"
)

func TestNewZapLog(t *testing.T) {
	_, err := NewZapLog(config.Config{LogLevel: "info"})
	require.NoError(t, err)
	_, err = NewZapLog(config.Config{LogLevel: "loud"})
	require.Error(t, err)
}

func TestRequestLogMdlw(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := RequestLogMdlw(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, `{"item":"cake"}`, string(body))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("ok"))
	}, zap.New(core))

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{"item":"cake"}`)))

	assert.Equal(t, http.StatusCreated, rec.Code)
	entries := logs.FilterMessage("send HTTP response").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "201", fields["code"])
	assert.Equal(t, "2", fields["length"])
	assert.Equal(t, "/api/orders", fields["path"])
}

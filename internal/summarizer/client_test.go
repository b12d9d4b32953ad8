package summarizer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/instabrief/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func txtDoc(name, body string) models.Document {
	return models.Document{ItemID: "item-1", Name: name, Type: models.FileTypeTXT, Content: []byte(body)}
}

func TestClient_Process(t *testing.T) {
	t.Run("posts form and decodes result", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/documents/process", r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "notes", r.PostForm.Get("title"))
			assert.Equal(t, "Some text worth summarizing.", r.PostForm.Get("content"))
			assert.Equal(t, "txt", r.PostForm.Get("file_type"))
			assert.Equal(t, "fr", r.PostForm.Get("language"))
			assert.Equal(t, "bert", r.PostForm.Get("algorithm"))
			assert.Equal(t, "200", r.PostForm.Get("max_length"))

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"abc123","summary":"short","tags":["a","b"],"entities":["X"],"processing_time":1.5,"compression_ratio":0.25}`))
		}))
		defer srv.Close()

		c := NewClient(Config{BaseURL: srv.URL + "/api/", Token: "secret"}, nil, nil)
		res, err := c.Process(context.Background(), txtDoc("notes.txt", "Some text worth summarizing."),
			models.SummarySettings{Algorithm: models.AlgorithmBART, MaxLength: 200, Language: "fr"})

		require.NoError(t, err)
		assert.Equal(t, "abc123", res.DocumentID)
		assert.Equal(t, "short", res.Summary)
		assert.Equal(t, []string{"a", "b"}, res.Tags)
		assert.InDelta(t, 0.25, res.CompressionRatio, 1e-9)
	})

	t.Run("auto language is detected from text", func(t *testing.T) {
		var lang atomic.Value
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.ParseForm()
			lang.Store(r.PostForm.Get("language"))
			w.Write([]byte(`{"id":"x","summary":"y"}`))
		}))
		defer srv.Close()

		c := NewClient(Config{BaseURL: srv.URL}, nil, nil)
		_, err := c.Process(context.Background(),
			txtDoc("es.txt", "El rápido zorro marrón salta sobre el perro perezoso mientras el granjero mira desde el porche."),
			models.SummarySettings{Algorithm: models.AlgorithmTextRank, MaxLength: 150, Language: models.LanguageAuto})

		require.NoError(t, err)
		assert.Equal(t, "es", lang.Load())
	})

	t.Run("non-2xx becomes ServiceError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"detail":"Processing failed: boom"}`))
		}))
		defer srv.Close()

		c := NewClient(Config{BaseURL: srv.URL}, nil, nil)
		_, err := c.Process(context.Background(), txtDoc("a.txt", "text"), models.DefaultSettings())

		var se *ServiceError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusInternalServerError, se.Status)
		assert.Equal(t, "Processing failed: boom", se.Detail)
	})

	t.Run("structured detail is kept as json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"detail":[{"loc":["body","title"]}]}`))
		}))
		defer srv.Close()

		c := NewClient(Config{BaseURL: srv.URL}, nil, nil)
		_, err := c.Process(context.Background(), txtDoc("a.txt", "text"), models.DefaultSettings())

		var se *ServiceError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, `[{"loc":["body","title"]}]`, se.Detail)
	})

	t.Run("does not retry", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		c := NewClient(Config{BaseURL: srv.URL}, nil, nil)
		_, err := c.Process(context.Background(), txtDoc("a.txt", "text"), models.DefaultSettings())

		assert.Error(t, err)
		assert.EqualValues(t, 1, calls.Load())
	})

	t.Run("empty document fails without a call", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))
		defer srv.Close()

		c := NewClient(Config{BaseURL: srv.URL}, nil, nil)
		_, err := c.Process(context.Background(), txtDoc("blank.txt", "  \n"), models.DefaultSettings())

		assert.ErrorIs(t, err, ErrEmptyDocument)
		assert.Zero(t, calls.Load())
	})

	t.Run("transport error is wrapped", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		srv.Close()

		c := NewClient(Config{BaseURL: srv.URL}, nil, nil)
		_, err := c.Process(context.Background(), txtDoc("a.txt", "text"), models.DefaultSettings())

		assert.ErrorContains(t, err, "send request")
	})

	t.Run("rate limit honours context", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"id":"x"}`))
		}))
		defer srv.Close()

		c := NewClient(Config{BaseURL: srv.URL, RequestsPerSecond: 0.001, Burst: 1}, nil, nil)
		_, err := c.Process(context.Background(), txtDoc("a.txt", "text"), models.DefaultSettings())
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = c.Process(ctx, txtDoc("b.txt", "text"), models.DefaultSettings())
		assert.ErrorContains(t, err, "rate limit")
	})
}

package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aura-oracle/internal/workflow"
)

type stubSubmitter struct {
	hash common.Hash
	err  error
	body []byte
}

func (s *stubSubmitter) Submit(ctx context.Context, raw []byte) (common.Hash, error) {
	s.body = raw
	return s.hash, s.err
}

func do(t *testing.T, srv *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	out := map[string]string{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func TestTriggerSuccess(t *testing.T) {
	sub := &stubSubmitter{hash: common.HexToHash("0xabc")}
	srv := New(Options{}, sub, zerolog.Nop())

	rec, out := do(t, srv, http.MethodPost, "/trigger", `{"nav":"1","reserve":"2"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, common.HexToHash("0xabc").Hex(), out["tx_hash"])
	assert.JSONEq(t, `{"nav":"1","reserve":"2"}`, string(sub.body))
}

func TestTriggerErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", fmt.Errorf("%w: nav missing", workflow.ErrValidation), http.StatusBadRequest},
		{"configuration", fmt.Errorf("%w: unknown network", workflow.ErrConfiguration), http.StatusInternalServerError},
		{"reverted", &workflow.SubmissionError{Status: workflow.StatusReverted, Message: "unauthorized"}, http.StatusBadGateway},
		{"transport", errors.New("write report: connection refused"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := New(Options{}, &stubSubmitter{err: tc.err}, zerolog.Nop())
			rec, out := do(t, srv, http.MethodPost, "/trigger", `{}`)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.err.Error(), out["error"])
		})
	}
}

func TestTriggerRevertedCarriesStatus(t *testing.T) {
	srv := New(Options{}, &stubSubmitter{err: &workflow.SubmissionError{Status: workflow.StatusReverted}}, zerolog.Nop())
	_, out := do(t, srv, http.MethodPost, "/trigger", `{}`)
	assert.Equal(t, string(workflow.StatusReverted), out["status"])
}

func TestTriggerRejectsMethodAndLargeBody(t *testing.T) {
	sub := &stubSubmitter{}
	srv := New(Options{MaxBodyBytes: 8}, sub, zerolog.Nop())

	rec, _ := do(t, srv, http.MethodGet, "/trigger", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec, _ = do(t, srv, http.MethodPost, "/trigger", `{"nav":"100000000"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Nil(t, sub.body, "oversized payload never reaches the submitter")
}

func TestHealth(t *testing.T) {
	srv := New(Options{}, &stubSubmitter{}, zerolog.Nop())
	rec, out := do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
}

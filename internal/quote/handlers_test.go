package quote_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-fern/internal/quote"
	"github.com/noah-isme/backend-fern/internal/ratecard"
)

func newHandler(t *testing.T, repo ratecard.Repository) *quote.Handler {
	t.Helper()
	return quote.NewHandler(quote.HandlerConfig{Service: newService(t, repo)})
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestPreviewHandler(t *testing.T) {
	handler := newHandler(t, &stubRepo{})

	rec := postJSON(t, handler.Preview, `{
		"lines": [
			{"lineNumber": 1, "description": "Consulting", "quantity": "10", "unitPrice": "100.00"}
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	data, ok := body["data"].(map[string]any)
	require.True(t, ok)
	totals, ok := data["totals"].(map[string]any)
	require.True(t, ok)
	grand, ok := totals["grandTotal"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "1150", grand["amount"])
	require.Equal(t, "NZD", grand["currency"])
}

func TestPreviewHandlerRejectsEmptyLines(t *testing.T) {
	handler := newHandler(t, &stubRepo{})

	rec := postJSON(t, handler.Preview, `{"lines": []}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decodeBody(t, rec)
	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "VALIDATION", errBody["code"])
}

func TestPreviewHandlerRejectsMalformedJSON(t *testing.T) {
	handler := newHandler(t, &stubRepo{})

	rec := postJSON(t, handler.Preview, `{"lines": [`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreviewHandlerRejectsNegativeQuantity(t *testing.T) {
	handler := newHandler(t, &stubRepo{})

	rec := postJSON(t, handler.Preview, `{
		"lines": [
			{"lineNumber": 1, "description": "Consulting", "quantity": "-1", "unitPrice": "100.00"}
		]
	}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decodeBody(t, rec)
	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "VALIDATION", errBody["code"])
}

func TestResolvePricingHandler(t *testing.T) {
	handler := newHandler(t, stockedRepo(t))

	rec := postJSON(t, handler.ResolvePricing, `{
		"organizationId": "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa",
		"lines": [
			{"lineNumber": 1, "description": "Development (hourly)", "quantity": "1", "itemCode": "DEV-HOURLY"}
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	data, ok := body["data"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, data["success"])
	results, ok := data["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
	first, ok := results[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "rate_card", first["source"])
}

func TestResolvePricingHandlerNoActiveCard(t *testing.T) {
	handler := newHandler(t, &stubRepo{})

	rec := postJSON(t, handler.ResolvePricing, `{
		"organizationId": "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa",
		"lines": [
			{"lineNumber": 1, "description": "Anything", "quantity": "1"}
		]
	}`)
	// Per-line failures are a domain outcome, not a transport error.
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	data, ok := body["data"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, false, data["success"])
	failures, ok := data["errors"].([]any)
	require.True(t, ok)
	first, ok := failures[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "No active rate card found for organization", first["reason"])
}

func TestPriceHandler(t *testing.T) {
	handler := newHandler(t, stockedRepo(t))

	rec := postJSON(t, handler.Price, `{
		"organizationId": "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa",
		"lines": [
			{"lineNumber": 1, "description": "Development (hourly)", "quantity": "8", "itemCode": "DEV-HOURLY"}
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	data, ok := body["data"].(map[string]any)
	require.True(t, ok)
	preview, ok := data["preview"].(map[string]any)
	require.True(t, ok)
	totals, ok := preview["totals"].(map[string]any)
	require.True(t, ok)
	grand, ok := totals["grandTotal"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "1380", grand["amount"])
}

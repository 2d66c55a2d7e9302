package extract

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jun/invoicescout/internal/adapter"
	"github.com/jun/invoicescout/internal/auth"
	"github.com/jun/invoicescout/internal/model"
)

const pdfBytes = "%PDF-1.4 fake invoice"

type fakeFetcher struct {
	content adapter.Content
	err     error
}

func (f fakeFetcher) Fetch(context.Context, model.DocumentRef) (adapter.Content, error) {
	return f.content, f.err
}

type stubCompleter struct {
	reply string
	err   error
	calls int
	last  Document
}

func (s *stubCompleter) Complete(_ context.Context, doc Document) (string, error) {
	s.calls++
	s.last = doc
	return s.reply, s.err
}

func fixedNow() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

const validReply = `{"invoice_number":"RE-1001","invoice_date":"14.03.2024","company":"Muster GmbH","product":"Hosting","total_value":"119.00","currency":"eur","taxes_paid":"19.00","language":"de"}`

func completionBody(content string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
	return string(body)
}

func newPDFClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(context.Background(), fakeFetcher{content: adapter.Content{Data: []byte(pdfBytes), MIMEType: "application/pdf"}}, Options{
		Service: Config{
			BaseURL: srv.URL + "/api/v1",
			APIKey:  "sk-test",
			Model:   "google/gemini-2.5-flash-lite",
			Referer: "https://example.test",
			Title:   "invoicescout",
			Timeout: 5 * time.Second,
		},
		Text: &stubCompleter{},
		Now:  fixedNow,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func invoiceDoc() model.DocumentRef {
	return model.DocumentRef{ID: "doc-1", Name: "invoice.pdf", MIMEType: "application/pdf", RetrievalHandle: "doc-1", WebViewLink: "https://drive.test/doc-1"}
}

func TestExtract_PDFSuccess(t *testing.T) {
	var got struct {
		path    string
		auth    string
		referer string
		title   string
		body    completionRequest
	}
	c := newPDFClient(t, func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		got.referer = r.Header.Get("HTTP-Referer")
		got.title = r.Header.Get("X-Title")
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &got.body); err != nil {
			t.Errorf("Invalid request body: %v", err)
		}
		fmt.Fprint(w, completionBody("Here is the data:\n```json\n"+validReply+"\n```"))
	})

	res := c.Extract(context.Background(), invoiceDoc())
	if !res.OK() {
		t.Fatalf("Expected success, got %v", res.Failure)
	}

	if got.path != "/api/v1/chat/completions" {
		t.Errorf("Unexpected path %q", got.path)
	}
	if got.auth != "Bearer sk-test" || got.referer != "https://example.test" || got.title != "invoicescout" {
		t.Errorf("Unexpected headers: auth=%q referer=%q title=%q", got.auth, got.referer, got.title)
	}
	if got.body.Model != "google/gemini-2.5-flash-lite" || got.body.MaxTokens != 1000 {
		t.Errorf("Unexpected request: %+v", got.body)
	}
	parts := got.body.Messages[0].Content
	if len(parts) != 2 || parts[0].Type != "text" || parts[1].Type != "file" {
		t.Fatalf("Unexpected content parts: %+v", parts)
	}
	wantData := "data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte(pdfBytes))
	if parts[1].File.FileData != wantData || parts[1].File.Filename != "invoice.pdf" {
		t.Errorf("Unexpected file part: %+v", parts[1].File)
	}

	rec := res.Record
	want := model.ExtractedRecord{
		DocumentID:    "doc-1",
		DocumentName:  "invoice.pdf",
		DocumentURL:   "https://drive.test/doc-1",
		InvoiceNumber: "RE-1001",
		InvoiceDate:   "2024-03-14",
		Company:       "Muster GmbH",
		Product:       "Hosting",
		TotalValue:    "119.00",
		Currency:      "EUR",
		Taxes:         "19.00",
		LanguageTag:   "de",
		ExtractedAt:   fixedNow(),
	}
	if rec != want {
		t.Errorf("Record mismatch:\n got %+v\nwant %+v", rec, want)
	}
}

func TestExtract_ServiceStatusClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		header     string
		wantKind   Kind
		wantReason Reason
		wantAfter  time.Duration
	}{
		{"rate limited", http.StatusTooManyRequests, "7", KindRetryable, ReasonRateLimited, 7 * time.Second},
		{"unavailable", http.StatusServiceUnavailable, "", KindRetryable, ReasonServerError, 0},
		{"gateway timeout", http.StatusGatewayTimeout, "", KindRetryable, ReasonTimeout, 0},
		{"bad request", http.StatusBadRequest, "", KindPermanent, ReasonServiceError, 0},
		{"unauthorized", http.StatusUnauthorized, "", KindPermanent, ReasonServiceError, 0},
		{"too large", http.StatusRequestEntityTooLarge, "", KindPermanent, ReasonUnsupportedContent, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newPDFClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"nope"}}`)
			})
			res := c.Extract(context.Background(), invoiceDoc())
			if res.Kind != tt.wantKind || res.Failure == nil || res.Failure.Reason != tt.wantReason {
				t.Fatalf("Expected %v/%s, got %v/%v", tt.wantKind, tt.wantReason, res.Kind, res.Failure)
			}
			if res.Failure.RetryAfter != tt.wantAfter {
				t.Errorf("Expected RetryAfter %v, got %v", tt.wantAfter, res.Failure.RetryAfter)
			}
		})
	}
}

func TestExtract_ErrorInsideSuccessfulBody(t *testing.T) {
	c := newPDFClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"code":429,"message":"upstream rate limited"}}`)
	})
	res := c.Extract(context.Background(), invoiceDoc())
	if res.Kind != KindRetryable || res.Failure.Reason != ReasonRateLimited {
		t.Fatalf("Expected retryable rate limit, got %v/%v", res.Kind, res.Failure)
	}
}

func TestExtract_ReplyFailures(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		wantReason Reason
	}{
		{"prose only", "I could not read this invoice.", ReasonParseError},
		{"truncated json", `{"invoice_number": "1", "company": `, ReasonParseError},
		{"array payload", `[1, 2, 3]`, ReasonParseError},
		{"schema mismatch", `{"company":"A"}`, ReasonParseError},
		{"missing company", strings.Replace(validReply, `"Muster GmbH"`, `"N/A"`, 1), ReasonInvalidRecord},
		{"unknown currency", strings.Replace(validReply, `"eur"`, `"unknown"`, 1), ReasonInvalidRecord},
		{"bad date", strings.Replace(validReply, `"14.03.2024"`, `"sometime in spring"`, 1), ReasonInvalidRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newPDFClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, completionBody(tt.reply))
			})
			res := c.Extract(context.Background(), invoiceDoc())
			if res.Kind != KindPermanent || res.Failure.Reason != tt.wantReason {
				t.Fatalf("Expected permanent %s, got %v/%v", tt.wantReason, res.Kind, res.Failure)
			}
		})
	}
}

func TestExtract_EmptyCompletionIsParseError(t *testing.T) {
	c := newPDFClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})
	res := c.Extract(context.Background(), invoiceDoc())
	if res.Kind != KindPermanent || res.Failure.Reason != ReasonParseError {
		t.Fatalf("Expected permanent parse error, got %v/%v", res.Kind, res.Failure)
	}
}

func TestExtract_ConnectionFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	c, err := New(context.Background(), fakeFetcher{content: adapter.Content{Data: []byte(pdfBytes), MIMEType: "application/pdf"}}, Options{
		Service: Config{BaseURL: baseURL, APIKey: "sk-test", Timeout: time.Second},
		Text:    &stubCompleter{},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	res := c.Extract(context.Background(), invoiceDoc())
	if res.Kind != KindRetryable {
		t.Fatalf("Expected retryable, got %v/%v", res.Kind, res.Failure)
	}
}

func TestExtract_RoutesByContentType(t *testing.T) {
	tests := []struct {
		name       string
		content    adapter.Content
		wantPDF    int
		wantText   int
		wantReason Reason
	}{
		{"pdf", adapter.Content{Data: []byte(pdfBytes), MIMEType: "application/pdf"}, 1, 0, ""},
		{"exported doc", adapter.Content{Data: []byte("Invoice 42"), MIMEType: "text/plain; charset=utf-8"}, 0, 1, ""},
		{"image", adapter.Content{Data: []byte{0x89, 'P', 'N', 'G'}, MIMEType: "image/png"}, 0, 0, ReasonUnsupportedContent},
		{"pdf without magic", adapter.Content{Data: []byte("hello"), MIMEType: "application/pdf"}, 0, 0, ReasonUnsupportedContent},
		{"empty", adapter.Content{MIMEType: "application/pdf"}, 0, 0, ReasonUnsupportedContent},
		{"binary text", adapter.Content{Data: []byte{0xff, 0xfe, 0xfd}, MIMEType: "text/plain"}, 0, 0, ReasonUnsupportedContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pdf := &stubCompleter{reply: validReply}
			text := &stubCompleter{reply: validReply}
			c, err := New(context.Background(), fakeFetcher{content: tt.content}, Options{PDF: pdf, Text: text, Now: fixedNow})
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			res := c.Extract(context.Background(), invoiceDoc())
			if pdf.calls != tt.wantPDF || text.calls != tt.wantText {
				t.Errorf("Expected pdf=%d text=%d calls, got pdf=%d text=%d", tt.wantPDF, tt.wantText, pdf.calls, text.calls)
			}
			if tt.wantReason == "" {
				if !res.OK() {
					t.Fatalf("Expected success, got %v", res.Failure)
				}
				return
			}
			if res.Kind != KindPermanent || res.Failure.Reason != tt.wantReason {
				t.Fatalf("Expected permanent %s, got %v/%v", tt.wantReason, res.Kind, res.Failure)
			}
		})
	}
}

func TestExtract_FetchFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind Kind
	}{
		{"transient", fmt.Errorf("download: %w", adapter.ErrTransient), KindRetryable},
		{"not found", fmt.Errorf("download: %w", adapter.ErrNotFound), KindPermanent},
		{"denied", fmt.Errorf("download: %w", adapter.ErrPermissionDenied), KindPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pdf := &stubCompleter{reply: validReply}
			c, err := New(context.Background(), fakeFetcher{err: tt.err}, Options{PDF: pdf, Text: pdf})
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			res := c.Extract(context.Background(), invoiceDoc())
			if res.Kind != tt.wantKind || res.Failure.Reason != ReasonFetchError {
				t.Fatalf("Expected %v fetch error, got %v/%v", tt.wantKind, res.Kind, res.Failure)
			}
			if pdf.calls != 0 {
				t.Errorf("Expected no service call, got %d", pdf.calls)
			}
		})
	}
}

func TestExtract_RejectedRefreshIsFatal(t *testing.T) {
	pdf := &stubCompleter{reply: validReply}
	cause := fmt.Errorf("unable to download file: %w", auth.ErrReauthorizationRequired)
	c, err := New(context.Background(), fakeFetcher{err: cause}, Options{PDF: pdf, Text: pdf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res := c.Extract(context.Background(), invoiceDoc())
	if !res.IsFatal() || res.Failure.Reason != ReasonReauthorization {
		t.Fatalf("Expected a fatal REAUTHORIZATION_REQUIRED result, got %v/%v", res.Kind, res.Failure)
	}
	if !errors.Is(res.Failure, auth.ErrReauthorizationRequired) {
		t.Errorf("Expected the failure to unwrap to ErrReauthorizationRequired, got %v", res.Failure)
	}
	if pdf.calls != 0 {
		t.Errorf("Expected no service call, got %d", pdf.calls)
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), fakeFetcher{}, Options{})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("Expected ErrMissingAPIKey, got %v", err)
	}
}

func TestClassify_ContextErrors(t *testing.T) {
	if res := classify(context.DeadlineExceeded); res.Kind != KindRetryable || res.Failure.Reason != ReasonTimeout {
		t.Errorf("Deadline: got %v/%v", res.Kind, res.Failure)
	}
	if res := classify(context.Canceled); res.Kind != KindPermanent {
		t.Errorf("Canceled: got %v/%v", res.Kind, res.Failure)
	}
}

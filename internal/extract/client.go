package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jun/invoicescout/internal/adapter"
	"github.com/jun/invoicescout/internal/auth"
	"github.com/jun/invoicescout/internal/logging"
	"github.com/jun/invoicescout/internal/model"
)

// ErrMissingAPIKey is returned by New when no API key is configured.
var ErrMissingAPIKey = errors.New("extraction api key is not configured")

// Fetcher retrieves document content through its retrieval handle.
type Fetcher interface {
	Fetch(ctx context.Context, doc model.DocumentRef) (adapter.Content, error)
}

// Options configures a Client. PDF and Text override the service transports.
type Options struct {
	Service    Config
	HTTPClient *http.Client
	PDF        Completer
	Text       Completer
	Logger     *slog.Logger
	Now        func() time.Time
}

// Client is the ExtractionClient: fetch, submit, parse.
type Client struct {
	fetcher Fetcher
	pdf     Completer
	text    Completer
	logger  *slog.Logger
	now     func() time.Time
}

// New builds a Client. PDFs go through the raw OpenRouter transport and text
// documents through the eino chat model, unless opts supplies either.
func New(ctx context.Context, fetcher Fetcher, opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if (opts.PDF == nil || opts.Text == nil) && strings.TrimSpace(opts.Service.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if opts.PDF == nil {
		opts.PDF = NewOpenRouterTransport(opts.Service, opts.HTTPClient)
	}
	if opts.Text == nil {
		text, err := NewChatCompleter(ctx, opts.Service, opts.HTTPClient)
		if err != nil {
			return nil, err
		}
		opts.Text = text
	}
	return &Client{
		fetcher: fetcher,
		pdf:     opts.PDF,
		text:    opts.Text,
		logger:  opts.Logger.With("component", "extract"),
		now:     opts.Now,
	}, nil
}

// Extract runs one attempt for doc. It never returns an error: every outcome
// is a tagged Result.
func (c *Client) Extract(ctx context.Context, doc model.DocumentRef) Result {
	content, err := c.fetcher.Fetch(ctx, doc)
	if err != nil {
		if errors.Is(err, auth.ErrReauthorizationRequired) {
			return Fatal(ReasonReauthorization, err)
		}
		if adapter.IsTransient(err) {
			return Retryable(ReasonFetchError, err.Error(), 0)
		}
		return Permanent(ReasonFetchError, err.Error())
	}
	if len(content.Data) == 0 {
		return Permanent(ReasonUnsupportedContent, "document is empty")
	}

	payload := Document{Name: doc.Name, MIMEType: mediaType(content.MIMEType, doc.MIMEType), Data: content.Data}
	completer, res, ok := c.route(payload)
	if !ok {
		return res
	}

	start := c.now()
	reply, err := completer.Complete(ctx, payload)
	if err != nil {
		res := classify(err)
		c.logger.Debug("extraction call failed",
			"document_id", doc.ID, "kind", res.Kind.String(), "reason", string(res.Failure.Reason), "error", err)
		return res
	}
	c.logger.Debug("extraction call finished", "document_id", doc.ID, "elapsed", c.now().Sub(start))
	return c.parse(reply, doc)
}

func (c *Client) route(doc Document) (Completer, Result, bool) {
	switch {
	case doc.MIMEType == "application/pdf":
		if !strings.HasPrefix(string(doc.Data), "%PDF") {
			return nil, Permanent(ReasonUnsupportedContent, "content is not a PDF"), false
		}
		return c.pdf, Result{}, true
	case strings.HasPrefix(doc.MIMEType, "text/"):
		if !utf8.Valid(doc.Data) {
			return nil, Permanent(ReasonUnsupportedContent, "text content is not valid UTF-8"), false
		}
		return c.text, Result{}, true
	default:
		return nil, Permanent(ReasonUnsupportedContent, fmt.Sprintf("unsupported content type %q", doc.MIMEType)), false
	}
}

func (c *Client) parse(reply string, doc model.DocumentRef) Result {
	obj, err := decodePayload(reply)
	if err != nil {
		return Permanent(ReasonParseError, err.Error())
	}
	if err := validatePayload(obj); err != nil {
		return Permanent(ReasonParseError, "payload does not match invoice schema: "+snippet(err.Error()))
	}
	rec, err := buildRecord(obj, doc, c.now())
	if err != nil {
		return Permanent(ReasonInvalidRecord, err.Error())
	}
	return Success(rec)
}

// classify maps a transport error onto the retryable/permanent split.
func classify(err error) Result {
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests:
			return Retryable(ReasonRateLimited, se.Error(), se.After)
		case se.StatusCode == http.StatusRequestTimeout || se.StatusCode == http.StatusGatewayTimeout:
			return Retryable(ReasonTimeout, se.Error(), se.After)
		case se.StatusCode >= http.StatusInternalServerError:
			return Retryable(ReasonServerError, se.Error(), se.After)
		case se.StatusCode == http.StatusRequestEntityTooLarge || se.StatusCode == http.StatusUnsupportedMediaType:
			return Permanent(ReasonUnsupportedContent, se.Error())
		default:
			return Permanent(ReasonServiceError, se.Error())
		}
	}
	if errors.Is(err, errEmptyCompletion) {
		return Permanent(ReasonParseError, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return Permanent(ReasonServiceError, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable(ReasonTimeout, err.Error(), 0)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Retryable(ReasonTimeout, err.Error(), 0)
		}
		return Retryable(ReasonServiceError, err.Error(), 0)
	}
	return Permanent(ReasonServiceError, err.Error())
}

func mediaType(values ...string) string {
	for _, v := range values {
		if v == "" {
			continue
		}
		if mt, _, err := mime.ParseMediaType(v); err == nil {
			return strings.ToLower(mt)
		}
		return strings.ToLower(strings.TrimSpace(v))
	}
	return ""
}

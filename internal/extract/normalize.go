package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jun/invoicescout/internal/model"
)

// NotAvailable fills optional fields the document does not show.
const NotAvailable = "N/A"

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"2.1.2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

// buildRecord maps a validated payload onto an ExtractedRecord.
func buildRecord(obj map[string]any, doc model.DocumentRef, now time.Time) (model.ExtractedRecord, error) {
	rec := model.ExtractedRecord{
		DocumentID:    doc.ID,
		DocumentName:  doc.Name,
		DocumentURL:   doc.WebViewLink,
		InvoiceNumber: orDefault(fieldString(obj, "invoice_number"), NotAvailable),
		Company:       fieldString(obj, "company"),
		Product:       fieldString(obj, "product"),
		TotalValue:    fieldString(obj, "total_value"),
		Currency:      strings.ToUpper(fieldString(obj, "currency")),
		Taxes:         orDefault(fieldString(obj, "taxes_paid"), NotAvailable),
		LanguageTag:   strings.ToLower(fieldString(obj, "language")),
		ExtractedAt:   now.UTC(),
	}

	required := []struct{ name, value string }{
		{"company", rec.Company},
		{"product", rec.Product},
		{"language", rec.LanguageTag},
		{"total_value", rec.TotalValue},
		{"currency", rec.Currency},
	}
	for _, f := range required {
		if isPlaceholder(f.value) {
			return model.ExtractedRecord{}, fmt.Errorf("required field %s is missing", f.name)
		}
	}

	date, err := NormalizeDate(fieldString(obj, "invoice_date"))
	if err != nil {
		return model.ExtractedRecord{}, err
	}
	rec.InvoiceDate = date
	return rec, nil
}

// NormalizeDate rewrites a recognised invoice date as YYYY-MM-DD. A missing
// date yields "" so the record lands in the unknown-year sheet.
func NormalizeDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	if isPlaceholder(value) {
		return "", nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unrecognised invoice date %q", value)
}

// InvoiceYear returns the four-digit year of a normalized date, or "" when
// the date is absent or malformed.
func InvoiceYear(date string) string {
	if len(date) < 4 {
		return ""
	}
	if _, err := strconv.Atoi(date[:4]); err != nil {
		return ""
	}
	return date[:4]
}

func fieldString(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func isPlaceholder(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "n/a", "na", "unknown", "none", "null":
		return true
	}
	return false
}

func orDefault(v, fallback string) string {
	if isPlaceholder(v) {
		return fallback
	}
	return v
}

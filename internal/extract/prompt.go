package extract

// InvoicePrompt instructs the model to return a single JSON object.
const InvoicePrompt = `You are an expert invoice data extraction system. Analyze this invoice and extract the following information in JSON format. The invoice may be in English or German.

Extract and return ONLY a JSON object with these exact keys:
{
    "invoice_number": "The invoice number/ID",
    "invoice_date": "The invoice date in YYYY-MM-DD format",
    "company": "The company/vendor name issuing the invoice",
    "product": "The main product or service description (first/main item if multiple)",
    "total_value": "The total amount as a number string (e.g., '1250.50')",
    "currency": "The currency code (e.g., 'USD', 'EUR', 'GBP')",
    "taxes_paid": "The total tax amount as a number string (e.g., '212.59')",
    "language": "The detected language: 'en' for English or 'de' for German"
}

Important:
- If any field is not found, use "N/A"
- For German invoices, be aware of terms like "Rechnungsnummer", "Rechnungsdatum", "Gesamtbetrag", "MwSt", "USt"
- Extract numeric values only, remove currency symbols
- Total should be the final amount including taxes
- Tax amount is the VAT/sales tax paid`

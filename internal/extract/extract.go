// Package extract recovers plain text from uploaded PDFs and scrapes a
// handful of salary-slip fields out of it. The scraping is pattern matching
// over whatever text the PDF yields, not a parser; a field whose pattern
// does not match is simply absent from the result.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// Extraction holds whatever fields could be recovered. Any map may be empty
// and any pointer nil; absence is not an error.
type Extraction struct {
	Identity      map[string]string
	Earnings      map[string]float64
	Deductions    map[string]float64
	Gross         *float64
	Net           *float64
	Reimbursement *float64
}

// TotalDeductions sums the deduction line items. Missing data contributes
// zero.
func (e *Extraction) TotalDeductions() float64 {
	var total float64
	for _, v := range e.Deductions {
		total += v
	}
	return total
}

// GrossIncome returns the extracted gross, falling back to the sum of
// earning lines, and zero when nothing was recovered.
func (e *Extraction) GrossIncome() float64 {
	if e.Gross != nil {
		return *e.Gross
	}
	var total float64
	for _, v := range e.Earnings {
		total += v
	}
	return total
}

// Text extracts the plain text of every page using ledongthuc/pdf.
func Text(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	doc, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("new pdf reader: %w", err)
	}
	var builder strings.Builder
	total := doc.NumPage()
	for page := 1; page <= total; page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", page, err)
		}
		builder.WriteString(content)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

// Extract runs text recovery and field scraping over PDF bytes.
func Extract(data []byte) (*Extraction, string, error) {
	text, err := Text(data)
	if err != nil {
		return nil, "", err
	}
	return Parse(text), text, nil
}

package extract

import (
	"regexp"
	"strconv"
	"strings"

	"taxlens/internal/model"
)

// amount matches an Indian-format money value, optionally prefixed with a
// currency marker. Commas are stripped before parsing.
const amount = `(?:rs\.?|inr|₹)?\s*([0-9][0-9,]*(?:\.[0-9]+)?)`

var (
	grossRe         = regexp.MustCompile(`(?im)^\s*gross\s+(?:pay|salary|earnings?|income)\s*[:\-]?\s*` + amount)
	netRe           = regexp.MustCompile(`(?im)^\s*net\s+(?:pay|salary|amount)\s*[:\-]?\s*` + amount)
	reimbursementRe = regexp.MustCompile(`(?im)^\s*reimbursements?\s*[:\-]?\s*` + amount)

	identityRes = map[string]*regexp.Regexp{
		"employee_name": regexp.MustCompile(`(?im)^\s*(?:employee\s+)?name\s*[:\-]\s*(.+?)\s*$`),
		"employee_id":   regexp.MustCompile(`(?im)^\s*employee\s+(?:id|no|code)\.?\s*[:\-]\s*(\S+)`),
		"pan":           regexp.MustCompile(`(?im)\bpan\s*[:\-]?\s*([A-Z]{5}[0-9]{4}[A-Z])`),
		"employer":      regexp.MustCompile(`(?im)^\s*(?:employer|company)\s*[:\-]\s*(.+?)\s*$`),
	}

	earningRes = map[string]*regexp.Regexp{
		"basic":             regexp.MustCompile(`(?im)^\s*basic(?:\s+(?:pay|salary))?\s*[:\-]?\s*` + amount),
		"hra":               regexp.MustCompile(`(?im)^\s*(?:hra|house\s+rent\s+allowance)\s*[:\-]?\s*` + amount),
		"special_allowance": regexp.MustCompile(`(?im)^\s*special\s+allowance\s*[:\-]?\s*` + amount),
		"conveyance":        regexp.MustCompile(`(?im)^\s*conveyance(?:\s+allowance)?\s*[:\-]?\s*` + amount),
	}

	deductionRes = map[string]*regexp.Regexp{
		"provident_fund":   regexp.MustCompile(`(?im)^\s*(?:pf|provident\s+fund|epf)\s*[:\-]?\s*` + amount),
		"professional_tax": regexp.MustCompile(`(?im)^\s*professional\s+tax\s*[:\-]?\s*` + amount),
		"income_tax":       regexp.MustCompile(`(?im)^\s*(?:income\s+tax|tds)\s*[:\-]?\s*` + amount),
		"section_80c":      regexp.MustCompile(`(?im)^\s*(?:80c|section\s+80c)\s*[:\-]?\s*` + amount),
	}
)

// Parse scrapes fields from extracted PDF text. Every miss degrades to
// absence.
func Parse(text string) *Extraction {
	ex := &Extraction{
		Identity:   make(map[string]string),
		Earnings:   make(map[string]float64),
		Deductions: make(map[string]float64),
	}
	for name, re := range identityRes {
		if m := re.FindStringSubmatch(text); m != nil {
			ex.Identity[name] = strings.TrimSpace(m[1])
		}
	}
	for name, re := range earningRes {
		if v, ok := matchAmount(re, text); ok {
			ex.Earnings[name] = v
		}
	}
	for name, re := range deductionRes {
		if v, ok := matchAmount(re, text); ok {
			ex.Deductions[name] = v
		}
	}
	if v, ok := matchAmount(grossRe, text); ok {
		ex.Gross = &v
	}
	if v, ok := matchAmount(netRe, text); ok {
		ex.Net = &v
	}
	if v, ok := matchAmount(reimbursementRe, text); ok {
		ex.Reimbursement = &v
	}
	return ex
}

func matchAmount(re *regexp.Regexp, text string) (float64, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ClassifyFilename infers the document class from the uploaded file name.
// Known limitation: a renamed file gets a wrong class; the original behavior
// is kept on purpose.
func ClassifyFilename(name string) model.DocumentClass {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "form16") || strings.Contains(lower, "form_16"):
		return model.ClassForm16
	case strings.Contains(lower, "salary"):
		return model.ClassSalarySlip
	default:
		return model.ClassPaySlip
	}
}

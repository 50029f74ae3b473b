package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
	"github.com/artikelwerk/hybrid-extractor/internal/textnorm"
)

// Severity grades an issue. Errors are fatal for the record; high
// warnings force manual review; low warnings only dampen confidence.
type Severity string

// Issue severities.
const (
	SeverityError       Severity = "error"
	SeverityWarningHigh Severity = "warning-high"
	SeverityWarningLow  Severity = "warning-low"
)

// Issue is one validation finding tied to a field.
type Issue struct {
	Field    extraction.FieldName `json:"field"`
	Code     string               `json:"code"`
	Message  string               `json:"message"`
	Severity Severity             `json:"severity"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// Report is the validator's verdict on one merged record. It is computed
// fresh per record and handed to the storage collaborator, never persisted
// by the validator itself.
type Report struct {
	IsValid              bool                     `json:"is_valid"`
	ConfidenceScore      float64                  `json:"confidence_score"`
	Errors               []Issue                  `json:"errors,omitempty"`
	Warnings             []Issue                  `json:"warnings,omitempty"`
	RequiresManualReview bool                     `json:"requires_manual_review"`
	ReviewReasons        []string                 `json:"review_reasons,omitempty"`
	Sanitized            extraction.MergedProduct `json:"sanitized"`
}

// WarningMessages flattens the warnings for result records.
func (r Report) WarningMessages() []string {
	return issueMessages(r.Warnings)
}

// ErrorMessages flattens the errors for result records.
func (r Report) ErrorMessages() []string {
	return issueMessages(r.Errors)
}

func issueMessages(issues []Issue) []string {
	if len(issues) == 0 {
		return nil
	}
	messages := make([]string, 0, len(issues))
	for _, issue := range issues {
		messages = append(messages, issue.String())
	}
	return messages
}

// identifierShape matches shop article numbers: digits first, optional
// alphanumeric variant suffixes separated by hyphens or dots.
var identifierShape = regexp.MustCompile(`^[0-9]+([-.][A-Za-z0-9]+)*$`)

const maxDescriptionRunes = 2000

// Validator checks merged records against one profile.
type Validator struct {
	profile Profile
}

// New returns a validator for the profile.
func New(profile Profile) *Validator {
	return &Validator{profile: profile}
}

// Profile returns the validator's active profile.
func (v *Validator) Profile() Profile {
	return v.profile
}

// priceCeiling falls back to the package default for profiles built by
// hand without a ceiling.
func (v *Validator) priceCeiling() float64 {
	if v.profile.PriceCeiling > 0 {
		return v.profile.PriceCeiling
	}
	return textnorm.PriceCeiling
}

// Validate runs a single pass over the record: it accumulates fatal errors
// and warnings, computes the weighted confidence score from the extraction
// confidence dampened by per-field findings, and decides manual review as
// an OR of independent triggers -- any high warning, any fatal error, or a
// score below the profile threshold. A single bad field therefore forces
// review even when the aggregate score looks fine. The report carries the
// auto-fixed record; the findings always describe the record as given.
func (v *Validator) Validate(product extraction.MergedProduct, confidence extraction.FieldConfidence) Report {
	var issues []Issue

	issues = append(issues, v.checkIdentifier(product)...)
	issues = append(issues, v.checkName(product)...)
	issues = append(issues, v.checkDescription(product)...)
	issues = append(issues, v.checkPrice(product)...)
	issues = append(issues, v.checkTiers(product)...)

	report := Report{Sanitized: AutoFix(product)}
	fieldScores := make(map[extraction.FieldName]float64, len(extraction.Fields()))
	for _, field := range extraction.Fields() {
		fieldScores[field] = clamp(confidence[field])
	}

	for _, issue := range issues {
		switch issue.Severity {
		case SeverityError:
			report.Errors = append(report.Errors, issue)
			fieldScores[issue.Field] = 0
		case SeverityWarningHigh:
			report.Warnings = append(report.Warnings, issue)
			fieldScores[issue.Field] *= 0.5
		case SeverityWarningLow:
			report.Warnings = append(report.Warnings, issue)
			fieldScores[issue.Field] *= 0.8
		}
	}

	score := 0.0
	for field, weight := range v.profile.Weights {
		score += weight * fieldScores[field]
	}
	report.ConfidenceScore = clamp(score)
	report.IsValid = len(report.Errors) == 0

	for _, issue := range report.Errors {
		report.ReviewReasons = append(report.ReviewReasons, "fatal: "+issue.String())
	}
	for _, issue := range report.Warnings {
		if issue.Severity == SeverityWarningHigh {
			report.ReviewReasons = append(report.ReviewReasons, "high-severity warning: "+issue.String())
		}
	}
	if report.ConfidenceScore < v.profile.ReviewThreshold {
		report.ReviewReasons = append(report.ReviewReasons,
			fmt.Sprintf("confidence %.2f below threshold %.2f", report.ConfidenceScore, v.profile.ReviewThreshold))
	}
	report.RequiresManualReview = len(report.ReviewReasons) > 0

	return report
}

func (v *Validator) checkIdentifier(product extraction.MergedProduct) []Issue {
	identifier := strings.TrimSpace(product.ArticleNumber)
	if identifier == "" {
		return []Issue{{
			Field:    extraction.FieldArticleNumber,
			Code:     "identifier-missing",
			Message:  "article number is missing",
			Severity: SeverityError,
		}}
	}
	if !identifierShape.MatchString(identifier) {
		return []Issue{{
			Field:    extraction.FieldArticleNumber,
			Code:     "identifier-format",
			Message:  fmt.Sprintf("article number %q does not match the expected shape", identifier),
			Severity: SeverityWarningHigh,
		}}
	}
	return nil
}

func (v *Validator) checkName(product extraction.MergedProduct) []Issue {
	name := product.ProductName
	if strings.TrimSpace(name) == "" {
		return []Issue{{
			Field:    extraction.FieldProductName,
			Code:     "name-missing",
			Message:  "product name is missing",
			Severity: SeverityError,
		}}
	}
	var issues []Issue
	if strings.ContainsAny(name, "\n\r") {
		issues = append(issues, Issue{
			Field:    extraction.FieldProductName,
			Code:     "name-linebreaks",
			Message:  "product name contains line breaks",
			Severity: SeverityWarningLow,
		})
	}
	if isShouting(name) {
		issues = append(issues, Issue{
			Field:    extraction.FieldProductName,
			Code:     "name-allcaps",
			Message:  "product name is all caps",
			Severity: SeverityWarningLow,
		})
	}
	if specialCharRatio(name) > 0.30 {
		issues = append(issues, Issue{
			Field:    extraction.FieldProductName,
			Code:     "name-special-chars",
			Message:  "product name carries excessive special characters",
			Severity: SeverityWarningLow,
		})
	}
	return issues
}

func (v *Validator) checkDescription(product extraction.MergedProduct) []Issue {
	description := product.Description
	if strings.TrimSpace(description) == "" {
		return nil
	}
	var issues []Issue
	if len([]rune(description)) > maxDescriptionRunes {
		issues = append(issues, Issue{
			Field:    extraction.FieldDescription,
			Code:     "description-overlong",
			Message:  fmt.Sprintf("description exceeds %d characters", maxDescriptionRunes),
			Severity: SeverityWarningLow,
		})
	}
	if specialCharRatio(description) > 0.30 {
		issues = append(issues, Issue{
			Field:    extraction.FieldDescription,
			Code:     "description-special-chars",
			Message:  "description carries excessive special characters",
			Severity: SeverityWarningLow,
		})
	}
	return issues
}

func (v *Validator) checkPrice(product extraction.MergedProduct) []Issue {
	if product.PriceType != extraction.PriceTypeNormal {
		return nil
	}
	if product.Price == nil || strings.TrimSpace(*product.Price) == "" {
		return []Issue{{
			Field:    extraction.FieldPrice,
			Code:     "price-missing",
			Message:  "price type is normal but no price is present",
			Severity: SeverityError,
		}}
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(*product.Price), 64)
	if err != nil {
		return []Issue{{
			Field:    extraction.FieldPrice,
			Code:     "price-not-numeric",
			Message:  fmt.Sprintf("price %q is not numeric", *product.Price),
			Severity: SeverityError,
		}}
	}
	if value <= 0 || value >= v.priceCeiling() {
		return []Issue{{
			Field:    extraction.FieldPrice,
			Code:     "price-out-of-range",
			Message:  fmt.Sprintf("price %q is outside (0, %.0f)", *product.Price, v.priceCeiling()),
			Severity: SeverityWarningHigh,
		}}
	}
	return nil
}

func (v *Validator) checkTiers(product extraction.MergedProduct) []Issue {
	if len(product.TieredPrices) == 0 {
		return nil
	}
	var issues []Issue
	seen := make(map[int]bool, len(product.TieredPrices))
	previous := 0
	for i, tier := range product.TieredPrices {
		switch {
		case seen[tier.Quantity]:
			issues = append(issues, Issue{
				Field:    extraction.FieldTieredPrices,
				Code:     "tiers-duplicate",
				Message:  fmt.Sprintf("duplicate tier quantity %d", tier.Quantity),
				Severity: SeverityWarningHigh,
			})
		case i > 0 && tier.Quantity <= previous:
			issues = append(issues, Issue{
				Field:    extraction.FieldTieredPrices,
				Code:     "tiers-unordered",
				Message:  fmt.Sprintf("tier quantities not strictly increasing at %d", tier.Quantity),
				Severity: SeverityWarningHigh,
			})
		}
		seen[tier.Quantity] = true
		previous = tier.Quantity
		value, err := strconv.ParseFloat(tier.Price, 64)
		if err != nil || value <= 0 || value >= v.priceCeiling() {
			issues = append(issues, Issue{
				Field:    extraction.FieldTieredPrices,
				Code:     "tier-price-invalid",
				Message:  fmt.Sprintf("tier %d price %q is invalid", tier.Quantity, tier.Price),
				Severity: SeverityWarningHigh,
			})
		}
	}
	return issues
}

func isShouting(s string) bool {
	letters := 0
	uppers := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				uppers++
			}
		}
	}
	return letters >= 5 && letters == uppers
}

func specialCharRatio(s string) float64 {
	runes := []rune(s)
	if len(runes) == 0 {
		return 0
	}
	special := 0
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		switch r {
		case '-', '.', ',', '/', '(', ')', '%', '€', '"', '\'', ':', ';':
			continue
		}
		special++
	}
	return float64(special) / float64(len(runes))
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package middleware

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/policylens/policylens/internal/domain/compliance"
	"github.com/policylens/policylens/internal/domain/policy"
)

// Input validation and sanitization utilities

var (
	idPattern      = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,128}$`)
	versionPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,32}$`)
)

// ValidateTransaction checks the evaluation request payload
func ValidateTransaction(tx *compliance.Transaction) error {
	if strings.TrimSpace(tx.TransactionID) == "" {
		return fmt.Errorf("transaction_id cannot be empty")
	}
	if !idPattern.MatchString(tx.TransactionID) {
		return fmt.Errorf("invalid transaction_id format (alphanumeric, dot, dash, underscore, max 128 chars)")
	}
	if tx.Amount < 0 {
		return fmt.Errorf("amount cannot be negative")
	}
	if strings.TrimSpace(tx.Currency) == "" {
		return fmt.Errorf("currency cannot be empty")
	}
	if len(tx.Currency) > 8 {
		return fmt.Errorf("currency code too long")
	}
	if strings.TrimSpace(tx.Sender) == "" || strings.TrimSpace(tx.Receiver) == "" {
		return fmt.Errorf("sender and receiver cannot be empty")
	}
	tx.Description = SanitizeString(tx.Description)
	return nil
}

// ValidateDocument checks policy upload metadata
func ValidateDocument(doc *policy.Document) error {
	if strings.TrimSpace(doc.DocID) == "" {
		return fmt.Errorf("doc_id cannot be empty")
	}
	if !idPattern.MatchString(doc.DocID) {
		return fmt.Errorf("invalid doc_id format (alphanumeric, dot, dash, underscore, max 128 chars)")
	}
	if strings.TrimSpace(doc.Title) == "" {
		return fmt.Errorf("title cannot be empty")
	}
	if doc.Version != "" && !versionPattern.MatchString(doc.Version) {
		return fmt.Errorf("invalid version format")
	}
	if doc.Topic != "" && !ValidTopic(doc.Topic) {
		return fmt.Errorf("invalid topic: %s (allowed: aml, kyc, sanctions, fraud, general)", doc.Topic)
	}
	if doc.Source != "" && !ValidSource(doc.Source) {
		return fmt.Errorf("invalid source: %s (allowed: internal, ofac, fatf, rbi, eu_aml)", doc.Source)
	}
	return nil
}

// ValidTopic checks the topic against the known set
func ValidTopic(t policy.Topic) bool {
	switch t {
	case policy.TopicAML, policy.TopicKYC, policy.TopicSanctions, policy.TopicFraud, policy.TopicGeneral:
		return true
	}
	return false
}

// ValidSource checks the source against the known set
func ValidSource(s policy.Source) bool {
	switch s {
	case policy.SourceInternal, policy.SourceOFAC, policy.SourceFATF, policy.SourceRBI, policy.SourceEUAML:
		return true
	}
	return false
}

// ValidateQuery checks a compliance question
func ValidateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if len(query) > 2000 {
		return fmt.Errorf("query too long (max 2000 chars)")
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}

// ValidateDays validates days parameter
func ValidateDays(days int) int {
	if days <= 0 {
		return 7 // default
	}
	if days > 365 {
		return 365 // max 1 year
	}
	return days
}

package prompt

import (
	"fmt"
	"strings"

	"github.com/policylens/policylens/internal/domain/compliance"
	"github.com/policylens/policylens/internal/domain/policy"
)

func GetEvaluationSystemPrompt() string {
	return `You are a financial compliance analyst. You evaluate transactions against the policy excerpts provided to you.
Base your judgment ONLY on the provided policy context and similar historical cases. Do not invent policy rules.
Respond with a single JSON object using exactly these keys:
{
  "verdict": "flag" | "needs_review" | "acceptable",
  "risk_level": "high" | "medium" | "low" | "acceptable",
  "risk_score": <float between 0.0 and 1.0>,
  "reasoning": "<concise explanation citing the relevant policy sections>",
  "confidence": <float between 0.0 and 1.0>
}`
}

func BuildEvaluationPrompt(tx compliance.Transaction, chunks []policy.ChunkMatch, cases []compliance.SimilarCase) string {
	var b strings.Builder
	b.WriteString("Evaluate the following transaction for compliance risk.\n\n")
	b.WriteString("TRANSACTION:\n")
	b.WriteString(FormatTransaction(tx))
	b.WriteString("\n\nRELEVANT POLICIES:\n")
	b.WriteString(FormatPolicyContext(chunks))
	b.WriteString("\n\nSIMILAR HISTORICAL CASES:\n")
	b.WriteString(FormatSimilarCases(cases))
	b.WriteString("\n\nRespond with the JSON object only.")
	return b.String()
}

func GetQuerySystemPrompt() string {
	return `You are a financial compliance analyst. Answer the question using ONLY the policy excerpts provided.
If the excerpts do not cover the question, say so explicitly.
Respond with a single JSON object using exactly these keys:
{
  "answer": "<your answer, citing the relevant policy sections>",
  "confidence": <float between 0.0 and 1.0>
}`
}

func BuildQueryPrompt(query string, chunks []policy.ChunkMatch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "QUESTION: %s\n\nPOLICY CONTEXT:\n", query)
	b.WriteString(FormatPolicyContext(chunks))
	b.WriteString("\n\nRespond with the JSON object only.")
	return b.String()
}

func FormatTransaction(tx compliance.Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- ID: %s\n", tx.TransactionID)
	fmt.Fprintf(&b, "- Amount: %s %.2f\n", tx.Currency, tx.Amount)
	fmt.Fprintf(&b, "- Sender: %s (%s)\n", tx.Sender, orUnknown(tx.SenderCountry))
	fmt.Fprintf(&b, "- Receiver: %s (%s)\n", tx.Receiver, orUnknown(tx.ReceiverCountry))
	if tx.Description != "" {
		fmt.Fprintf(&b, "- Description: %s\n", tx.Description)
	}
	return b.String()
}

func FormatPolicyContext(chunks []policy.ChunkMatch) string {
	if len(chunks) == 0 {
		return "No relevant policies found."
	}
	var b strings.Builder
	for i, m := range chunks {
		fmt.Fprintf(&b, "[Policy %d] %s (version %s", i+1, m.DocTitle, m.Version)
		if m.Section != "" {
			fmt.Fprintf(&b, ", %s", m.Section)
		}
		fmt.Fprintf(&b, ", relevance %.2f):\n%s\n\n", m.RelevanceScore, m.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func FormatSimilarCases(cases []compliance.SimilarCase) string {
	if len(cases) == 0 {
		return "No similar historical cases found."
	}
	var b strings.Builder
	for i, c := range cases {
		fmt.Fprintf(&b, "[Case %d] verdict=%s, risk=%.2f, similarity=%.2f\nReasoning: %s\n\n",
			i+1, c.Verdict, c.RiskScore, c.SimilarityScore, c.Reasoning)
	}
	return strings.TrimRight(b.String(), "\n")
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mikey/email-triage/internal/core"
)

const bodyPreviewLimit = 1000

// Operator is the interactive console review channel. Reader and writer are
// injected so tests can script a session.
type Operator struct {
	in  *bufio.Reader
	out io.Writer
}

// NewOperator creates a console operator over the given streams.
func NewOperator(in io.Reader, out io.Writer) *Operator {
	return &Operator{in: bufio.NewReader(in), out: out}
}

// Review presents one email and walks the operator through category, action
// and the follow-up fields. "s" skips the email, "q" aborts the batch; both
// are accepted at any menu prompt.
func (o *Operator) Review(ctx context.Context, email *core.Email) (*core.HumanVerdict, error) {
	o.display(email)

	category, err := o.selectCategory()
	if err != nil {
		return nil, err
	}
	action, err := o.selectAction()
	if err != nil {
		return nil, err
	}

	reasoning, err := o.promptLine("Reasoning (optional): ")
	if err != nil {
		return nil, err
	}
	if reasoning == "" {
		reasoning = fmt.Sprintf("Human classified as %s/%s", category, action)
	}

	verdict := &core.HumanVerdict{
		Category:  category,
		Action:    action,
		Reasoning: reasoning,
	}

	if action == core.ActionDelete {
		reason, err := o.promptLine("Why is this safe to delete? ")
		if err != nil {
			return nil, err
		}
		if reason == "" {
			reason = "Human determined safe to delete"
		}
		verdict.DeletionReason = reason
	}

	if action == core.ActionKeep {
		score, err := o.promptScore("Importance (1-100, Enter to skip): ", 1, 100, nil)
		if err != nil {
			return nil, err
		}
		verdict.ImportanceScore = score
	}

	if category == core.CategorySpam {
		defaultFraud := 50
		score, err := o.promptScore("Fraud risk (0-100, Enter for 50): ", 0, 100, &defaultFraud)
		if err != nil {
			return nil, err
		}
		verdict.FraudScore = score
	}

	return verdict, nil
}

func (o *Operator) display(email *core.Email) {
	fmt.Fprintln(o.out)
	fmt.Fprintln(o.out, strings.Repeat("=", 80))
	fmt.Fprintln(o.out, "HUMAN REVIEW REQUIRED")
	fmt.Fprintln(o.out, strings.Repeat("=", 80))
	fmt.Fprintf(o.out, "Subject: %s\n", email.Subject)
	fmt.Fprintf(o.out, "From: %s\n", email.Sender)
	fmt.Fprintf(o.out, "Date: %s\n", email.DateSent.Format("2006-01-02 15:04:05"))
	if email.HasAttachments {
		fmt.Fprintf(o.out, "Attachments: %d\n", email.AttachmentCount)
	}
	if len(email.Labels) > 0 {
		fmt.Fprintf(o.out, "Labels: %s\n", strings.Join(email.Labels, ", "))
	}

	fmt.Fprintln(o.out, strings.Repeat("-", 60))
	if email.Snippet != "" {
		fmt.Fprintf(o.out, "Preview: %s\n", email.Snippet)
	}
	if email.BodyText != "" {
		body := email.BodyText
		if len(body) > bodyPreviewLimit {
			body = body[:bodyPreviewLimit] + "\n[... truncated ...]"
		}
		fmt.Fprintln(o.out, body)
	} else if email.Snippet == "" {
		fmt.Fprintln(o.out, "No content preview available")
	}
	fmt.Fprintln(o.out, strings.Repeat("-", 60))
}

func (o *Operator) selectCategory() (core.Category, error) {
	fmt.Fprintln(o.out, "\nSelect category:")
	for i, c := range core.Categories {
		fmt.Fprintf(o.out, "  %2d. %s\n", i+1, c)
	}

	for {
		input, err := o.prompt(fmt.Sprintf("Category (1-%d): ", len(core.Categories)))
		if err != nil {
			return "", err
		}
		n, err := strconv.Atoi(input)
		if err == nil && n >= 1 && n <= len(core.Categories) {
			return core.Categories[n-1], nil
		}
		fmt.Fprintf(o.out, "Invalid choice. Enter 1-%d, 's' to skip, or 'q' to quit.\n",
			len(core.Categories))
	}
}

func (o *Operator) selectAction() (core.Action, error) {
	fmt.Fprintln(o.out, "\nSelect action:")
	fmt.Fprintln(o.out, "  1. KEEP    - important to preserve")
	fmt.Fprintln(o.out, "  2. DELETE  - safe to remove")
	fmt.Fprintln(o.out, "  3. ARCHIVE - keep but move out of inbox")

	actions := []core.Action{core.ActionKeep, core.ActionDelete, core.ActionArchive}
	for {
		input, err := o.prompt("Action (1-3): ")
		if err != nil {
			return "", err
		}
		n, err := strconv.Atoi(input)
		if err == nil && n >= 1 && n <= len(actions) {
			return actions[n-1], nil
		}
		fmt.Fprintln(o.out, "Invalid choice. Enter 1-3, 's' to skip, or 'q' to quit.")
	}
}

// prompt reads one trimmed line and maps the skip/quit commands to their
// sentinels. EOF counts as quit so a closed stdin ends the batch cleanly.
func (o *Operator) prompt(label string) (string, error) {
	fmt.Fprint(o.out, label)
	line, err := o.in.ReadString('\n')
	if err != nil && line == "" {
		return "", core.ErrReviewQuit
	}
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "s", "skip":
		return "", core.ErrReviewSkipped
	case "q", "quit":
		return "", core.ErrReviewQuit
	}
	return line, nil
}

// promptLine is prompt without the skip/quit mapping for free-text fields.
func (o *Operator) promptLine(label string) (string, error) {
	fmt.Fprint(o.out, label)
	line, err := o.in.ReadString('\n')
	if err != nil && line == "" {
		return "", core.ErrReviewQuit
	}
	return strings.TrimSpace(line), nil
}

// promptScore reads an optional bounded integer, clamping out-of-range input
// and falling back to def (possibly nil) on blank or unparseable input.
func (o *Operator) promptScore(label string, lo, hi int, def *int) (*int, error) {
	input, err := o.promptLine(label)
	if err != nil {
		return nil, err
	}
	if input == "" {
		return def, nil
	}
	n, err := strconv.Atoi(input)
	if err != nil {
		return def, nil
	}
	if n < lo {
		n = lo
	}
	if n > hi {
		n = hi
	}
	return &n, nil
}

package mailparse

import (
	"strings"
	"testing"
)

func TestParseMessage_SinglePart(t *testing.T) {
	raw := "From: Jane Smith <Jane@Acme.com>\r\n" +
		"To: me@example.com\r\n" +
		"Subject: Quarterly report\r\n" +
		"Message-Id: <abc123@acme.com>\r\n" +
		"Date: Mon, 02 Jun 2025 09:30:00 +0000\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Please find the report attached.\r\n"

	email, err := ParseMessage(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if email.Subject != "Quarterly report" {
		t.Errorf("subject = %q", email.Subject)
	}
	if email.Sender != "Jane Smith <Jane@Acme.com>" {
		t.Errorf("sender = %q", email.Sender)
	}
	if email.SenderEmail != "jane@acme.com" {
		t.Errorf("sender email = %q, want lower-cased address", email.SenderEmail)
	}
	if email.Recipient != "me@example.com" {
		t.Errorf("recipient = %q", email.Recipient)
	}
	if email.MessageID != "abc123@acme.com" {
		t.Errorf("message id = %q", email.MessageID)
	}
	if email.DateSent.IsZero() || email.DateSent.Day() != 2 {
		t.Errorf("date = %v", email.DateSent)
	}
	if !strings.Contains(email.BodyText, "Please find the report attached.") {
		t.Errorf("body = %q", email.BodyText)
	}
	if email.HasAttachments {
		t.Error("single text part reported attachments")
	}
}

func TestParseMessage_MultipartWithAttachment(t *testing.T) {
	raw := "From: sender@example.com\r\n" +
		"Subject: Report\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"XYZ\"\r\n" +
		"\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"See the attached spreadsheet.\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>See the attached spreadsheet.</p>\r\n" +
		"--XYZ\r\n" +
		"Content-Type: application/vnd.ms-excel\r\n" +
		"Content-Disposition: attachment; filename=\"report.xls\"\r\n" +
		"\r\n" +
		"binarydata\r\n" +
		"--XYZ--\r\n"

	email, err := ParseMessage(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if !strings.Contains(email.BodyText, "See the attached spreadsheet.") {
		t.Errorf("body = %q", email.BodyText)
	}
	if strings.Contains(email.BodyText, "<p>") {
		t.Errorf("html part leaked into body: %q", email.BodyText)
	}
	if email.AttachmentCount != 1 || !email.HasAttachments {
		t.Errorf("attachments = %d", email.AttachmentCount)
	}
}

func TestParseMessage_QuotedPrintable(t *testing.T) {
	raw := "From: sender@example.com\r\n" +
		"Subject: Offre\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"R=C3=A9union demain=\r\n" +
		" matin\r\n"

	email, err := ParseMessage(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if !strings.Contains(email.BodyText, "Réunion demain matin") {
		t.Errorf("body = %q", email.BodyText)
	}
}

func TestParseMessage_EncodedSubject(t *testing.T) {
	raw := "From: sender@example.com\r\n" +
		"Subject: =?utf-8?q?R=C3=A9sultats_du_trimestre?=\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"body\r\n"

	email, err := ParseMessage(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if email.Subject != "Résultats du trimestre" {
		t.Errorf("subject = %q", email.Subject)
	}
}

func TestParseMessage_Snippet(t *testing.T) {
	body := strings.Repeat("word ", 100)
	raw := "From: sender@example.com\r\n" +
		"Subject: Long\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		body + "\r\n"

	email, err := ParseMessage(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if len(email.Snippet) != 200 {
		t.Errorf("snippet length = %d, want 200", len(email.Snippet))
	}
	if strings.Contains(email.Snippet, "\n") {
		t.Error("snippet contains a newline")
	}
}

func TestParseMessage_NotAnEmail(t *testing.T) {
	if _, err := ParseMessage(strings.NewReader("not an email at all")); err == nil {
		t.Error("expected an error for a headerless stream")
	}
}

func TestDecodeHeader_UnknownCharsetPassesThrough(t *testing.T) {
	header := "=?x-mystery?q?data?="
	if got := DecodeHeader(header); got != header {
		t.Errorf("DecodeHeader = %q, want raw header back", got)
	}
}

package mailparse

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/mikey/email-triage/internal/core"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

const snippetLength = 200

// ParseMessage reads one RFC 5322 message into an email record. Multipart
// bodies are reduced to their concatenated text/plain parts with non-text
// parts counted as attachments; header and body charsets are decoded to
// UTF-8 where the encoding is known.
func ParseMessage(r io.Reader) (*core.Email, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	email := &core.Email{
		MessageID: strings.Trim(msg.Header.Get("Message-Id"), "<>"),
		Subject:   DecodeHeader(msg.Header.Get("Subject")),
		Recipient: DecodeHeader(msg.Header.Get("To")),
	}

	from := DecodeHeader(msg.Header.Get("From"))
	email.Sender = from
	if addr, err := mail.ParseAddress(from); err == nil {
		email.SenderEmail = strings.ToLower(addr.Address)
		if addr.Name != "" {
			email.Sender = fmt.Sprintf("%s <%s>", addr.Name, addr.Address)
		}
	}

	if date, err := msg.Header.Date(); err == nil {
		email.DateSent = date
	}

	body, attachments, err := extractText(msg.Header.Get("Content-Type"),
		msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return nil, err
	}
	email.BodyText = body
	email.AttachmentCount = attachments
	email.HasAttachments = attachments > 0
	email.Snippet = makeSnippet(body)
	email.SizeEstimate = len(body)

	return email, nil
}

// DecodeHeader decodes RFC 2047 encoded words, tolerating unknown charsets
// by returning the raw header.
func DecodeHeader(header string) string {
	dec := mime.WordDecoder{CharsetReader: charsetReader}
	decoded, err := dec.DecodeHeader(header)
	if err != nil {
		return header
	}
	return decoded
}

// extractText walks the MIME structure collecting text/plain content and
// counting everything with a filename or attachment disposition.
func extractText(contentType, transferEncoding string, body io.Reader) (string, int, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		text, err := readPart(body, transferEncoding, params["charset"])
		return text, 0, err
	}

	boundary, ok := params["boundary"]
	if !ok {
		text, err := readPart(body, transferEncoding, "")
		return text, 0, err
	}

	var textContent bytes.Buffer
	attachments := 0

	mr := multipart.NewReader(body, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A malformed trailing part does not discard what parsed.
			break
		}

		disposition := part.Header.Get("Content-Disposition")
		if part.FileName() != "" || strings.HasPrefix(strings.ToLower(disposition), "attachment") {
			attachments++
			continue
		}

		partType, partParams, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			continue
		}

		switch {
		case partType == "text/plain":
			text, err := readPart(part, part.Header.Get("Content-Transfer-Encoding"), partParams["charset"])
			if err != nil {
				continue
			}
			textContent.WriteString(text)
			textContent.WriteString("\n")
		case strings.HasPrefix(partType, "multipart/"):
			nested, nestedAttachments, err := extractText(
				part.Header.Get("Content-Type"),
				part.Header.Get("Content-Transfer-Encoding"), part)
			if err != nil {
				continue
			}
			textContent.WriteString(nested)
			attachments += nestedAttachments
		}
	}

	return textContent.String(), attachments, nil
}

// readPart decodes one body part's transfer encoding and charset.
func readPart(r io.Reader, transferEncoding, charset string) (string, error) {
	switch strings.ToLower(transferEncoding) {
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	}

	if charset != "" {
		if cr, err := charsetReader(charset, r); err == nil {
			r = cr
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read body part: %w", err)
	}
	return string(data), nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.MIME.Encoding(label)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unknown charset %q", label)
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

// makeSnippet collapses whitespace and truncates to the preview length.
func makeSnippet(body string) string {
	collapsed := strings.Join(strings.Fields(body), " ")
	if len(collapsed) > snippetLength {
		collapsed = collapsed[:snippetLength]
	}
	return collapsed
}

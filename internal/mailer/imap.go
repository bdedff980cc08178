package mailer

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"regexp"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

var messageIDPattern = regexp.MustCompile(`<[^<>\s]+>`)

// FindRepliesTo scans the INBOX for messages whose In-Reply-To or References
// headers mention one of the given message ids and returns the matched ids.
func (t *SMTPTransport) FindRepliesTo(ctx context.Context, identity, credential string, messageIDs []string) ([]string, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	wanted := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = struct{}{}
	}

	im, err := client.DialTLS(t.imapAddr, &tls.Config{ServerName: t.imapHost})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailure, err)
	}
	defer im.Logout()

	if err := im.Login(identity, strings.ReplaceAll(credential, " ", "")); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	mbox, err := im.Select("INBOX", true)
	if err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddRange(1, mbox.Messages)

	// Header-only peek; the bodies are never downloaded.
	section := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{
			Specifier: imap.HeaderSpecifier,
			Fields:    []string{"In-Reply-To", "References"},
		},
		Peek: true,
	}

	messages := make(chan *imap.Message, 32)
	done := make(chan error, 1)
	go func() {
		done <- im.Fetch(seqset, []imap.FetchItem{section.FetchItem()}, messages)
	}()

	replied := make(map[string]struct{})
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		scanner := bufio.NewScanner(body)
		for scanner.Scan() {
			for _, ref := range messageIDPattern.FindAllString(scanner.Text(), -1) {
				if _, ok := wanted[ref]; ok {
					replied[ref] = struct{}{}
				}
			}
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch headers: %w", err)
	}

	result := make([]string, 0, len(replied))
	for id := range replied {
		result = append(result, id)
	}
	return result, nil
}

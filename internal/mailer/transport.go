package mailer

import (
	"context"
	"errors"
)

// Sentinel transport failures the dispatch loop branches on. Auth failure is
// campaign-fatal; a refused recipient only bounces that contact.
var (
	ErrAuthFailed        = errors.New("mail transport: authentication failed")
	ErrRecipientRefused  = errors.New("mail transport: recipient refused")
	ErrConnectionFailure = errors.New("mail transport: connection failure")
)

// Message is one outbound email. InReplyTo carries the original message id
// when the message is a follow-up, so replies thread correctly.
type Message struct {
	From      string
	To        string
	Subject   string
	HTML      string
	Text      string
	InReplyTo string
}

// Transport is the mail collaborator of the campaign engine: SMTP send with
// a returned Message-ID, credential verification, and IMAP reply search.
type Transport interface {
	Send(ctx context.Context, credential string, msg Message) (string, error)
	VerifyCredential(ctx context.Context, identity, credential string) (bool, string)
	FindRepliesTo(ctx context.Context, identity, credential string, messageIDs []string) ([]string, error)
}

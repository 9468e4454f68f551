package email

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"sync"
)

var ErrSendFailed = errors.New("failed to send email")

// Sender dispatches unlock codes to a customer's mailbox.
type Sender interface {
	Send(ctx context.Context, address, code string) error
}

// SMTPSender implements Sender over a plain SMTP relay.
type SMTPSender struct {
	addr string
	from string
	auth smtp.Auth
}

func NewSMTPSender(addr, from, username, password string) *SMTPSender {
	s := &SMTPSender{addr: addr, from: from}
	if username != "" {
		host := addr
		if i := strings.LastIndex(addr, ":"); i > 0 {
			host = addr[:i]
		}
		s.auth = smtp.PlainAuth("", username, password, host)
	}
	return s
}

func (s *SMTPSender) Send(ctx context.Context, address, code string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	msg := strings.Join([]string{
		"From: " + s.from,
		"To: " + address,
		"Subject: Your bike unlock code",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Your unlock code is " + code + ".",
		"It expires in a few minutes and can only be used once.",
		"",
	}, "\r\n")

	if err := smtp.SendMail(s.addr, s.auth, s.from, []string{address}, []byte(msg)); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Message is a dispatched code captured by FakeSender.
type Message struct {
	Address string
	Code    string
}

// FakeSender records messages instead of sending them.
type FakeSender struct {
	mu       sync.Mutex
	Messages []Message
	Err      error
}

func NewFakeSender() *FakeSender {
	return &FakeSender{}
}

func (f *FakeSender) Send(ctx context.Context, address, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Messages = append(f.Messages, Message{Address: address, Code: code})
	return nil
}

// Last returns the most recently sent message.
func (f *FakeSender) Last() (Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Messages) == 0 {
		return Message{}, false
	}
	return f.Messages[len(f.Messages)-1], true
}

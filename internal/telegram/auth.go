package telegram

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"
)

// TerminalAuth asks for the phone number, login code and 2FA password on the
// controlling terminal.
type TerminalAuth struct {
	phone string
	in    *bufio.Reader
	out   io.Writer
	// readPassword reads a line without echo.
	readPassword func() ([]byte, error)
}

var _ auth.UserAuthenticator = (*TerminalAuth)(nil)

func NewTerminalAuth(phone string) *TerminalAuth {
	return &TerminalAuth{
		phone: phone,
		in:    bufio.NewReader(os.Stdin),
		out:   os.Stderr,
		readPassword: func() ([]byte, error) {
			return term.ReadPassword(int(os.Stdin.Fd()))
		},
	}
}

func (a *TerminalAuth) prompt(label string) (string, error) {
	if _, err := fmt.Fprint(a.out, label); err != nil {
		return "", err
	}
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", errors.Wrap(err, "read input")
	}
	return strings.TrimSpace(line), nil
}

func (a *TerminalAuth) Phone(_ context.Context) (string, error) {
	if a.phone != "" {
		return a.phone, nil
	}
	return a.prompt("Phone number (international format): ")
}

func (a *TerminalAuth) Password(_ context.Context) (string, error) {
	if _, err := fmt.Fprint(a.out, "2FA password: "); err != nil {
		return "", err
	}
	pw, err := a.readPassword()
	_, _ = fmt.Fprintln(a.out)
	if err != nil {
		return "", errors.Wrap(err, "read password")
	}
	return strings.TrimSpace(string(pw)), nil
}

func (a *TerminalAuth) Code(_ context.Context, sent *tg.AuthSentCode) (string, error) {
	label := "Login code: "
	switch sent.Type.(type) {
	case *tg.AuthSentCodeTypeApp:
		label = "Login code (sent to your Telegram app): "
	case *tg.AuthSentCodeTypeSMS:
		label = "Login code (sent by SMS): "
	}
	return a.prompt(label)
}

func (a *TerminalAuth) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	_, err := fmt.Fprintf(a.out, "Terms of service:\n%s\n", tos.Text)
	return err
}

func (a *TerminalAuth) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("phone number is not registered; sign up with an official client first")
}

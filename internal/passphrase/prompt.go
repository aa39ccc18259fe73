package passphrase

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Prompt reads passphrases from a terminal without echo. When in is not a
// terminal (a pipe in scripts or tests) it reads one line per passphrase.
type Prompt struct {
	in  *os.File
	out io.Writer

	once   sync.Once
	reader *bufio.Reader
}

// NewPrompt prompts on out and reads from in.
func NewPrompt(in *os.File, out io.Writer) *Prompt {
	return &Prompt{in: in, out: out}
}

func (p *Prompt) Passphrase(_ context.Context, label string) (string, error) {
	pass, err := p.read(fmt.Sprintf("Passphrase for %s: ", label))
	if err != nil {
		return "", err
	}
	if pass == "" {
		return "", ErrEmpty
	}
	return pass, nil
}

func (p *Prompt) NewPassphrase(ctx context.Context, label string) (string, error) {
	pass, err := p.read(fmt.Sprintf("New passphrase for %s: ", label))
	if err != nil {
		return "", err
	}
	if pass == "" {
		return "", ErrEmpty
	}
	confirm, err := p.read("Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if pass != confirm {
		return "", ErrMismatch
	}
	return pass, nil
}

func (p *Prompt) read(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	fd := int(p.in.Fd())
	if !term.IsTerminal(fd) {
		p.once.Do(func() { p.reader = bufio.NewReader(p.in) })
		line, err := p.reader.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", fmt.Errorf("failed to read passphrase: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	state, err := term.GetState(fd)
	if err != nil {
		return "", fmt.Errorf("failed to read terminal state: %w", err)
	}
	// Put echo back if the user interrupts at the prompt.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-sig:
			_ = term.Restore(fd, state)
			fmt.Fprintln(p.out)
			os.Exit(130)
		case <-done:
		}
	}()
	defer func() {
		signal.Stop(sig)
		close(done)
	}()

	b, err := term.ReadPassword(fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(b), nil
}

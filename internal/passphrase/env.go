package passphrase

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Env reads passphrases from the environment. A label-specific variable
// <Var>_<LABEL> takes precedence over Var itself, so the faucet and a
// personal wallet can use different passphrases.
type Env struct {
	Var string
}

// NewEnv returns an Env reading name.
func NewEnv(name string) *Env {
	return &Env{Var: name}
}

// LabelVar returns the label-specific variable name for label.
func (e *Env) LabelVar(label string) string {
	r := strings.NewReplacer("-", "_", ".", "_")
	return e.Var + "_" + strings.ToUpper(r.Replace(label))
}

func (e *Env) Passphrase(_ context.Context, label string) (string, error) {
	if v, ok := os.LookupEnv(e.LabelVar(label)); ok && v != "" {
		return v, nil
	}
	if v, ok := os.LookupEnv(e.Var); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: set %s or %s", ErrNotFound, e.LabelVar(label), e.Var)
}

func (e *Env) NewPassphrase(ctx context.Context, label string) (string, error) {
	return e.Passphrase(ctx, label)
}

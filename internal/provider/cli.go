package provider

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"nexusd/pkg/types"
)

// CLI invokes a one-shot inference binary per request. The prompt is piped on
// standard input and the whole of stdout is taken as the response. There is
// no incremental streaming in this mode; token counts are approximated by
// splitting the output text.
type CLI struct {
	binPath   string
	modelPath string
	extraArgs []string
}

// NewCLI builds the command-line engine variant.
func NewCLI(binPath, modelPath string, extraArgs []string) *CLI {
	return &CLI{binPath: binPath, modelPath: modelPath, extraArgs: extraArgs}
}

// Check verifies the configured binary resolves to an executable.
func (p *CLI) Check() error {
	_, err := p.resolveBinary()
	return err
}

// resolveBinary checks the configured path, then the search path.
func (p *CLI) resolveBinary() (string, error) {
	path, err := exec.LookPath(p.binPath)
	if err != nil {
		return "", ErrBinaryNotFound(p.binPath)
	}
	return path, nil
}

func (p *CLI) Complete(ctx context.Context, prompt string, opts Options) (Result, error) {
	opts = opts.WithDefaults()
	bin, err := p.resolveBinary()
	if err != nil {
		return Result{}, err
	}
	args := []string{
		"-m", p.modelPath,
		"-n", itoa(opts.MaxTokens),
		"--temp", ftoa(opts.Temperature),
		"--top-p", ftoa(opts.TopP),
		"--top-k", itoa(opts.TopK),
		"--repeat-penalty", ftoa(opts.RepeatPenalty),
		"--no-display-prompt",
	}
	args = append(args, p.extraArgs...)

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		tail := stderr.String()
		if len(tail) > 1024 {
			tail = tail[len(tail)-1024:]
		}
		return Result{}, ErrRequestFailed(err.Error() + ": " + strings.TrimSpace(tail))
	}
	elapsed := time.Since(start)

	text := strings.TrimSpace(stdout.String())
	total := approxTokens(text)
	return Result{
		Text:            text,
		TotalTokens:     total,
		TokensPerSecond: tokensPerSecond(total, elapsed),
		Usage:           types.Usage{CompletionTokens: total, TotalTokens: total},
	}, nil
}

func (p *CLI) ChatComplete(ctx context.Context, messages []types.ChatMessage, opts Options) (Result, error) {
	return p.Complete(ctx, FlattenChat(messages), opts)
}

// ListModels reports the single model file the binary was configured with.
func (p *CLI) ListModels(ctx context.Context) ([]string, error) {
	return []string{p.modelPath}, nil
}

func itoa(n int) string { return strconv.Itoa(n) }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

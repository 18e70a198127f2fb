package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/murmurlabs/murmur-core/internal/audio"
)

// execEngine shells out to an external transcriber for each decode. The
// command receives the audio as a 16kHz mono WAV file and must print a
// JSON object {"text": ..., "avg_token_p": ...} on stdout.
type execEngine struct {
	cmd   []string
	model string
	mu    sync.Mutex
}

type execOutput struct {
	Text      string  `json:"text"`
	AvgTokenP float32 `json:"avg_token_p"`
}

func execOpener(command string) (OpenEngine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse transcribe command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcribe command is empty")
	}
	return func(modelPath string) (Engine, error) {
		return &execEngine{cmd: args, model: modelPath}, nil
	}, nil
}

func (e *execEngine) Decode(ctx context.Context, samples []float32, attempt DecodeAttempt, abort func() bool) (DecodeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	file, err := os.CreateTemp("", "murmur_decode_*.wav")
	if err != nil {
		return DecodeResult{}, fmt.Errorf("temp file: %w", err)
	}
	file.Close()
	defer os.Remove(file.Name())

	if err := audio.WriteWAV16(file.Name(), samples, audio.TargetRate); err != nil {
		return DecodeResult{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if abort != nil {
		go func() {
			ticker := time.NewTicker(100 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					if abort() {
						cancel()
						return
					}
				}
			}
		}()
	}

	args := append([]string{}, e.cmd[1:]...)
	args = append(args,
		"--audio", file.Name(),
		"--model", e.model,
		"--language", attempt.Language,
		"--best-of", strconv.Itoa(attempt.BestOf),
		"--threads", strconv.Itoa(attempt.Threads),
	)

	command := exec.CommandContext(runCtx, e.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		// An aborted run counts as an empty decode, not a failure.
		if abort != nil && abort() {
			return DecodeResult{}, nil
		}
		if ps := command.ProcessState; ps != nil && ps.ExitCode() > 0 {
			return DecodeResult{}, &EngineError{Code: -ps.ExitCode()}
		}
		return DecodeResult{}, fmt.Errorf("transcribe command failed: %w: %s", err, stderr.String())
	}

	var out execOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return DecodeResult{}, fmt.Errorf("decode transcribe response: %w", err)
	}
	return DecodeResult{Segments: []Segment{{
		Text:   out.Text,
		Tokens: []Token{{Text: out.Text, P: out.AvgTokenP}},
	}}}, nil
}

func (e *execEngine) Close() error { return nil }

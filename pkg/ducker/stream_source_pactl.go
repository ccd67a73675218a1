package ducker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// commandRunner runs an external command and returns what it wrote to stdout and stderr
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)

type pactlBackend struct {
	logger *zap.SugaredLogger

	path string
	run  commandRunner
}

// pactlSinkInput mirrors one element of `pactl --format=json list sink-inputs`.
// the required fields are pointers so a missing field can be told apart from a zero value
type pactlSinkInput struct {
	Index  *uint32 `json:"index"`
	Corked *bool   `json:"corked"`
	Mute   *bool   `json:"mute"`

	Properties *pactlProperties `json:"properties"`
}

type pactlProperties struct {
	ApplicationName   string `json:"application.name"`
	ApplicationBinary string `json:"application.process.binary"`
}

func newPactlBackend(logger *zap.SugaredLogger, path string) *pactlBackend {
	pb := &pactlBackend{
		logger: logger.Named("pactl"),
		path:   path,
		run:    execCommand,
	}

	pb.logger.Debugw("Created pactl backend instance", "path", path)

	return pb
}

func execCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.Bytes(), stderr.Bytes(), err
}

func (pb *pactlBackend) Snapshot(ctx context.Context) (Snapshot, error) {
	stdout, stderr, err := pb.run(ctx, pb.path, "--format=json", "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w (stderr: %s)", err, strings.TrimSpace(string(stderr)))
	}

	snapshot, err := parsePactlSinkInputs(stdout)
	if err != nil {
		return nil, fmt.Errorf("parse pactl output: %w", err)
	}

	return snapshot, nil
}

func (pb *pactlBackend) SetVolume(ctx context.Context, index uint32, percent uint8) error {
	volume := fmt.Sprintf("%d%%", percent)

	_, stderr, err := pb.run(ctx, pb.path, "set-sink-input-volume", strconv.FormatUint(uint64(index), 10), volume)
	if err != nil {
		return fmt.Errorf("pactl set-sink-input-volume %d %s: %w (stderr: %s)",
			index, volume, err, strings.TrimSpace(string(stderr)))
	}

	return nil
}

func (pb *pactlBackend) Release() error {
	pb.logger.Debug("Released pactl backend instance")
	return nil
}

func parsePactlSinkInputs(payload []byte) (Snapshot, error) {
	var inputs []pactlSinkInput

	if err := json.Unmarshal(payload, &inputs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSnapshot, err)
	}

	// `null` decodes without error, an empty list is `[]`
	if inputs == nil {
		return nil, fmt.Errorf("%w: sink input list is null", ErrMalformedSnapshot)
	}

	snapshot := make(Snapshot, 0, len(inputs))

	for position, input := range inputs {
		switch {
		case input.Index == nil:
			return nil, fmt.Errorf("%w: sink input at position %d has no index", ErrMalformedSnapshot, position)
		case input.Corked == nil:
			return nil, fmt.Errorf("%w: sink input #%d has no corked state", ErrMalformedSnapshot, *input.Index)
		case input.Mute == nil:
			return nil, fmt.Errorf("%w: sink input #%d has no mute state", ErrMalformedSnapshot, *input.Index)
		case input.Properties == nil:
			return nil, fmt.Errorf("%w: sink input #%d has no properties", ErrMalformedSnapshot, *input.Index)
		}

		snapshot = append(snapshot, StreamRecord{
			Index:             *input.Index,
			Corked:            *input.Corked,
			Muted:             *input.Mute,
			ApplicationName:   input.Properties.ApplicationName,
			ApplicationBinary: input.Properties.ApplicationBinary,
		})
	}

	return snapshot, nil
}

package dump

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// cmdStream adapts a running command's stdout to io.ReadCloser. Close
// waits for the process and surfaces a non-zero exit, so a dump that dies
// mid-stream is never silently truncated.
type cmdStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
}

func startStream(cmd *exec.Cmd) (io.ReadCloser, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &cmdStream{cmd: cmd, stdout: stdout, stderr: &stderr}, nil
}

func (s *cmdStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *cmdStream) Close() error {
	io.Copy(io.Discard, s.stdout)
	s.stdout.Close()
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("%s: %s: %w",
			s.cmd.Path, strings.TrimSpace(s.stderr.String()), err)
	}
	return nil
}

// Command foreman-notify runs inside container workers. It executes one
// command, then reports the exit code and captured output back to the
// host through the bind-mounted completion socket.
//
// Build with: CGO_ENABLED=0 GOOS=linux GOARCH=amd64 go build -o foreman-notify ./cmd/foreman-notify
//
// Usage: foreman-notify <socket-path> <command>
package main

import (
	"log"
	"net"
	"os"
	"os/exec"

	"github.com/seantiz/foreman/internal/worker"
)

func main() {
	if len(os.Args) != 3 {
		log.Fatalf("usage: %s <socket-path> <command>", os.Args[0])
	}
	sockPath, command := os.Args[1], os.Args[2]

	frame := runCommand(command)

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		log.Fatalf("dial completion socket %s: %v", sockPath, err)
	}
	defer conn.Close()

	if err := worker.WriteFrame(conn, frame); err != nil {
		log.Fatalf("write completion frame: %v", err)
	}
}

// runCommand executes the command under sh and captures its combined
// output. Failures to even start the shell are reported as exit code -1
// with the error text in the frame.
func runCommand(command string) worker.NotifyFrame {
	cmd := exec.Command("/bin/sh", "-c", command)
	out, err := cmd.CombinedOutput()

	frame := worker.NotifyFrame{Output: string(out)}
	if err == nil {
		return frame
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		frame.ExitCode = exitErr.ExitCode()
		frame.Error = exitErr.Error()
	} else {
		frame.ExitCode = -1
		frame.Error = err.Error()
	}
	return frame
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/containerd/containerd/v2/pkg/shim"

	"github.com/MarcinKonowalczyk/fastbf/bf"
	bf_shim "github.com/MarcinKonowalczyk/fastbf/shim"
)

const (
	exitError = 1
	exitUsage = 2
	exitFault = 3
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	// Maybe hijack the shim to run as brainfuck interpreter
	brainfuck, args := isBrainfuckArg(os.Args[1:])
	if !brainfuck {
		shim.Run(ctx, bf_shim.NewManager("io.containerd.bf.v1"))
		cancel()
		return
	}

	err := runBrainfuck(ctx, args, os.Stdin, os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var fault *bf.Fault
	switch {
	case errors.As(err, &fault):
		fmt.Fprintln(os.Stderr, "Fault:", err)
		return exitFault
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	default:
		fmt.Fprintln(os.Stderr, "Error running brainfuck:", err)
		return exitError
	}
}

func isBrainfuckArg(args []string) (bool, []string) {
	for i, arg := range args {
		if arg == "brainfuck" {
			rest := make([]string, 0, len(args)-1)
			rest = append(rest, args[:i]...)
			return true, append(rest, args[i+1:]...)
		}
	}
	return false, args
}

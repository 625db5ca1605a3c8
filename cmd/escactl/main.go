// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Escactl shows, exercises, and debugs the ESCA inter-processor channels.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/buildkite/shellwords"
	"github.com/platinasystems/parms"
)

const usage = `usage: escactl [GLOBAL]... COMMAND [ARGS]...
       escactl [GLOBAL]... -f SCRIPT

GLOBAL
	-dtb FILE		device tree blob (/sys/firmware/fdt)
	-mem FILE		memory device (/dev/mem)
	-base ADDR		shared window address
	-size N			shared window size
	-regs ADDR		mailbox block address, else offsets are in the window
	-regs-size N		mailbox block size (0x1000)
	-uio LAYER=DEV[,...]	interrupt sources, e.g. phy0=/dev/uio0
	-redis ADDR		also publish log lines and fatal events here
	-watchdog DEV		on a fatal condition, wait for this watchdog reset
	-f SCRIPT		run each line of SCRIPT as a COMMAND

COMMAND
	show
	log [-f]
	send [-n] ID WORD...
	ramdump [-o FILE] [REASON]...
	selftest [-n COUNT]`

var globals = []interface{}{
	"-dtb", "-mem", "-base", "-size", "-regs", "-regs-size", "-uio",
	"-redis", "-watchdog", "-f",
}

type escactl struct {
	ctx    context.Context
	parm   *parms.Parms
	stdout io.Writer
	mu     sync.Mutex

	open func() (*system, error)
	sys  *system
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt,
		syscall.SIGTERM)
	c := &escactl{ctx: ctx, stdout: os.Stdout}
	c.open = c.openSystem
	err := c.main(os.Args[1:]...)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "escactl:", err)
		os.Exit(1)
	}
}

func (c *escactl) main(args ...string) error {
	i := globalsEnd(args)
	parm, rest := parms.New(args[:i], globals...)
	if len(rest) > 0 {
		return fmt.Errorf("%v: unexpected", rest)
	}
	c.parm = parm
	defer c.close()
	args = args[i:]
	if fn := parm.ByName["-f"]; len(fn) > 0 {
		if len(args) > 0 {
			return fmt.Errorf("%v: unexpected", args)
		}
		return c.script(fn)
	}
	if len(args) == 0 {
		return errors.New("missing COMMAND\n" + usage)
	}
	return c.run(args...)
}

// globalsEnd returns the index of the command name; every global takes a
// value, either as the next argument or after '='.
func globalsEnd(args []string) int {
	i := 0
	for i < len(args) && strings.HasPrefix(args[i], "-") {
		if strings.Contains(args[i], "=") {
			i++
		} else {
			i += 2
		}
	}
	if i > len(args) {
		i = len(args)
	}
	return i
}

func (c *escactl) run(args ...string) error {
	defer c.capturePanic()
	switch args[0] {
	case "show":
		return c.show(args[1:]...)
	case "log":
		return c.log(args[1:]...)
	case "send":
		return c.send(args[1:]...)
	case "ramdump":
		return c.ramdump(args[1:]...)
	case "selftest":
		return c.selftest(args[1:]...)
	case "help", "-h", "-help", "--help":
		fmt.Fprintln(c.stdout, usage)
		return nil
	}
	return fmt.Errorf("%s: command not found", args[0])
}

// script runs each line of the named file, stopping at the first error.
// Blank lines and those beginning with '#' are skipped.
func (c *escactl) script(fn string) error {
	f, err := os.Open(fn)
	if err != nil {
		return err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}
		args, err := shellwords.Split(line)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", fn, n, err)
		}
		if len(args) == 0 {
			continue
		}
		if err = c.run(args...); err != nil {
			return fmt.Errorf("%s:%d: %w", fn, n, err)
		}
	}
	return scanner.Err()
}

// system opens the configured system once for all commands of a run.
func (c *escactl) system() (*system, error) {
	if c.sys == nil {
		s, err := c.open()
		if err != nil {
			return nil, err
		}
		c.sys = s
	}
	return c.sys, nil
}

// capturePanic, deferred, captures a ramdump of the open system on panic
// and continues panicking.
func (c *escactl) capturePanic() {
	p := recover()
	if p == nil {
		return
	}
	if c.sys != nil && c.sys.mirror != nil {
		c.sys.mirror.Panicked(p)
	}
	panic(p)
}

func (c *escactl) close() {
	if c.sys != nil {
		c.sys.close()
		c.sys = nil
	}
}

// print writes a log.Print style line to stdout without the facility and
// priority.
func (c *escactl) print(args ...interface{}) {
	if len(args) > 2 {
		_, fac := args[0].(string)
		_, pri := args[1].(string)
		if fac && pri {
			args = args[2:]
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.stdout, fmt.Sprint(args...))
}

func (c *escactl) println(args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.stdout, args...)
}

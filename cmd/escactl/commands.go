// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
	"github.com/platinasystems/esca/ipc"
	"github.com/platinasystems/flags"
	"github.com/platinasystems/parms"
)

var errNoLog = errors.New("no log configured")

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func (c *escactl) show(args ...string) error {
	if len(args) > 0 {
		return fmt.Errorf("%v: unexpected", args)
	}
	s, err := c.system()
	if err != nil {
		return err
	}
	states := s.reg.Snapshot()
	if isTerminal(c.stdout) {
		tw := tabwriter.NewWriter(c.stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(tw, "CHANNEL\tNAME\tKIND\tMODE\tTX\tRX\tOUT\tSENT\tRECEIVED\tUNSOLICITED\tRETRIES\tTIMEOUTS\tBUSY")
		for _, st := range states {
			mode := st.IRQ.String()
			if st.Polling {
				mode = "polling"
			}
			fmt.Fprintf(tw, "%v\t%s\t%v\t%s\t%d/%d\t%d/%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
				st.ID, st.Name, st.Kind, mode,
				st.TxRear, st.TxFront, st.RxRear, st.RxFront,
				st.Outstanding, st.Sent, st.Received,
				st.Unsolicited, st.Retries, st.Timeouts, st.Busy)
		}
		tw.Flush()
	} else {
		for _, st := range states {
			c.println(st)
		}
	}
	if s.mirror != nil {
		a := s.mirror.Anchor()
		drained, dropped := s.mirror.Counts()
		c.println(fmt.Sprintf("log: tick %d at %s, drained %d dropped %d",
			s.mirror.Tick(), a.Time(s.mirror.Tick()).Format(
				"2006-01-02T15:04:05.000000"), drained, dropped))
		if d := s.mirror.Ramdump(); d != nil {
			c.println("ramdump:", d.ID, d.Reason)
		}
	}
	return nil
}

func (c *escactl) log(args ...string) error {
	flag, args := flags.New(args, "-f")
	if len(args) > 0 {
		return fmt.Errorf("%v: unexpected", args)
	}
	s, err := c.system()
	if err != nil {
		return err
	}
	if s.mirror == nil {
		return errNoLog
	}
	s.mirror.Drain()
	for _, e := range s.mirror.Entries() {
		c.println(e)
	}
	if !flag.ByName["-f"] {
		return nil
	}
	s.setFollow(func(line string) { c.println(line) })
	defer s.setFollow(nil)
	<-c.ctx.Done()
	return nil
}

func (c *escactl) send(args ...string) error {
	flag, args := flags.New(args, "-n")
	var cmd ipc.Command
	if len(args) < 2 || len(args) > 1+len(cmd) {
		return errors.New("usage: send [-n] ID WORD...")
	}
	id, err := ipc.ParseID(args[0])
	if err != nil {
		return err
	}
	for i, arg := range args[1:] {
		v, err := strconv.ParseUint(arg, 0, 32)
		if err != nil {
			return fmt.Errorf("%s: %w", arg, err)
		}
		cmd[i] = uint32(v)
	}
	s, err := c.system()
	if err != nil {
		return err
	}
	expect := !flag.ByName["-n"]
	if err = s.reg.Send(id, &cmd, expect); err != nil {
		return err
	}
	if expect {
		c.println(id, cmd)
	}
	return nil
}

func (c *escactl) ramdump(args ...string) (err error) {
	parm, args := parms.New(args, "-o")
	s, err := c.system()
	if err != nil {
		return err
	}
	if s.mirror == nil {
		return errNoLog
	}
	reason := "escactl"
	if len(args) > 0 {
		reason = strings.Join(args, " ")
	}
	s.mirror.Capture(reason)
	d := s.mirror.Ramdump()
	if d == nil {
		return errors.New("ramdump already taken this boot")
	}
	w := c.stdout
	if fn := parm.ByName["-o"]; len(fn) > 0 {
		f, err := os.Create(fn)
		if err != nil {
			return err
		}
		defer func() {
			if t := f.Close(); err == nil {
				err = t
			}
		}()
		w = f
	}
	_, err = d.WriteTo(w)
	return err
}

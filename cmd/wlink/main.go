// wlink: host-side CLI for WCH-Link USB debug probes
// Copyright (C) 2026  Guillermo Perry
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/gousb"

	"github.com/guiperry/wlink/internal/chipdb"
	"github.com/guiperry/wlink/internal/config"
	"github.com/guiperry/wlink/internal/flash"
	"github.com/guiperry/wlink/internal/ops"
	"github.com/guiperry/wlink/internal/probe"
	"github.com/guiperry/wlink/internal/wchproto"
	"github.com/guiperry/wlink/internal/wlinkerr"
	"github.com/guiperry/wlink/internal/wlog"
)

// Exit codes, spec §7: 0 success, 1 usage, 2 probe/transport error, 3
// chip/flash error.
const (
	exitOK      = 0
	exitUsage   = 1
	exitProbe   = 2
	exitChip    = 3
)

var (
	verb = flag.String("verb", "", "operation: flash, erase, dump, regs, write-reg, reset, mode-switch, protect, unprotect, status")

	vid    = flag.String("vid", "", "probe USB vendor id, hex (overrides WLINK_VID)")
	pid    = flag.String("pid", "", "probe USB product id, hex (overrides WLINK_PID)")
	family = flag.String("family", "", "expected chip family, e.g. CH32V003 (empty = accept whatever attaches)")

	imagePath = flag.String("image", "", "firmware image path (flash verb)")
	baseAddr  = flag.String("base", "0x08000000", "load address for raw binary images, hex")
	preErase  = flag.Bool("erase", false, "erase each segment's range before programming (flash verb)")
	reset     = flag.Bool("reset", true, "reset the chip after flashing (flash verb)")

	eraseMethod = flag.String("method", "default", "erase method: default, power-off, pin-rst (erase verb)")

	addr   = flag.String("addr", "0x08000000", "memory address, hex (dump verb)")
	length = flag.Int("length", 256, "byte length to read (dump verb)")
	useDM  = flag.Bool("dm", false, "read memory through the Debug Module instead of the probe's flash read path (dump verb)")

	csr   = flag.String("csr", "", "CSR address, hex (write-reg verb)")
	value = flag.String("value", "", "value to write, hex (write-reg verb)")

	speed = flag.String("speed", "", "probe speed: low, medium, high (mode-switch verb)")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	if *verb == "" {
		fmt.Fprintln(os.Stderr, "wlink: -verb is required")
		flag.Usage()
		return exitUsage
	}

	defaults := config.Load()
	facade, err := buildFacade(defaults)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wlink:", err)
		return exitUsage
	}

	var opErr error
	switch *verb {
	case "flash":
		base, perr := parseHex32(*baseAddr)
		if perr != nil {
			fmt.Fprintln(os.Stderr, "wlink: -base:", perr)
			return exitUsage
		}
		if *imagePath == "" {
			fmt.Fprintln(os.Stderr, "wlink: -image is required for the flash verb")
			return exitUsage
		}
		opErr = facade.Flash(*imagePath, base, *preErase, *reset, progressPrinter)

	case "erase":
		method, perr := parseEraseMethod(*eraseMethod)
		if perr != nil {
			fmt.Fprintln(os.Stderr, "wlink:", perr)
			return exitUsage
		}
		opErr = facade.Erase(method, nil, nil, progressPrinter)

	case "dump":
		a, perr := parseHex32(*addr)
		if perr != nil {
			fmt.Fprintln(os.Stderr, "wlink: -addr:", perr)
			return exitUsage
		}
		data, derr := facade.Dump(a, *length, *useDM)
		if derr == nil {
			printHexDump(a, data)
		}
		opErr = derr

	case "regs":
		regs, rerr := facade.Regs()
		if rerr == nil {
			printJSON(regs)
		}
		opErr = rerr

	case "write-reg":
		c, perr := parseHex32(*csr)
		if perr != nil {
			fmt.Fprintln(os.Stderr, "wlink: -csr:", perr)
			return exitUsage
		}
		v, perr := parseHex32(*value)
		if perr != nil {
			fmt.Fprintln(os.Stderr, "wlink: -value:", perr)
			return exitUsage
		}
		opErr = facade.WriteReg(uint16(c), v)

	case "reset":
		opErr = facade.Reset(probe.ResetNormal)

	case "mode-switch":
		speedName := *speed
		if speedName == "" {
			speedName = defaults.Speed
		}
		s, perr := parseSpeed(speedName)
		if perr != nil {
			fmt.Fprintln(os.Stderr, "wlink:", perr)
			return exitUsage
		}
		opErr = facade.ModeSwitch(s)

	case "protect":
		opErr = facade.Protect(true)

	case "unprotect":
		opErr = facade.Unprotect()

	case "status":
		status, serr := facade.Status()
		if serr == nil {
			printJSON(status)
		}
		opErr = serr

	default:
		fmt.Fprintln(os.Stderr, "wlink: unknown verb:", *verb)
		return exitUsage
	}

	if opErr != nil {
		return reportError(opErr)
	}
	return exitOK
}

func buildFacade(defaults *config.Defaults) (*ops.Facade, error) {
	v := defaults.VID
	if *vid != "" {
		parsed, err := parseHex32(*vid)
		if err != nil {
			return nil, fmt.Errorf("invalid -vid: %w", err)
		}
		v = uint16(parsed)
	}
	p := defaults.PID
	if *pid != "" {
		parsed, err := parseHex32(*pid)
		if err != nil {
			return nil, fmt.Errorf("invalid -pid: %w", err)
		}
		p = uint16(parsed)
	}
	if v == 0 || p == 0 {
		return nil, fmt.Errorf("probe vendor/product id not set (pass -vid/-pid or WLINK_VID/WLINK_PID)")
	}

	f := &ops.Facade{VID: gousb.ID(v), PID: gousb.ID(p)}
	if *family != "" {
		fam, ok := familyByName(*family)
		if !ok {
			return nil, fmt.Errorf("unknown chip family %q", *family)
		}
		f.Family = &fam
	}
	return f, nil
}

func familyByName(name string) (chipdb.Family, bool) {
	for _, row := range chipdb.Registry {
		if strings.EqualFold(row.Name, name) {
			return row.Family, true
		}
	}
	return chipdb.FamilyUnknown, false
}

func parseEraseMethod(name string) (flash.EraseMethod, error) {
	switch strings.ToLower(name) {
	case "default":
		return flash.EraseDefault, nil
	case "power-off":
		return flash.ErasePowerOff, nil
	case "pin-rst":
		return flash.ErasePinRst, nil
	default:
		return 0, fmt.Errorf("unknown erase method %q", name)
	}
}

func parseSpeed(name string) (wchproto.Speed, error) {
	switch strings.ToLower(name) {
	case "low":
		return wchproto.SpeedLowRate, nil
	case "medium":
		return wchproto.SpeedMediumRate, nil
	case "high":
		return wchproto.SpeedHighRate, nil
	default:
		return wchproto.SpeedUnset, fmt.Errorf("unknown speed %q", name)
	}
}

func parseHex32(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func progressPrinter(stage flash.ProgressStage, done, total int) {
	wlog.Logger.Infof("%s: %d/%d", stage, done, total)
}

func printHexDump(base uint32, data []byte) {
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		fmt.Printf("%08x  % x\n", base+uint32(off), data[off:end])
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func reportError(err error) int {
	fmt.Fprintln(os.Stderr, "wlink:", err)
	if we, ok := err.(*wlinkerr.Error); ok {
		switch we.Kind {
		case wlinkerr.TransportIo, wlinkerr.ProbeRefused:
			return exitProbe
		default:
			return exitChip
		}
	}
	return exitChip
}

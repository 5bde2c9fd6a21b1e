package pty

import "os"

func killGroup(p *os.Process) error { return p.Kill() }

// Package fitinfo implements the optional fault-insertion contract
// file: a single key=value file that forces
// specific failure paths for test purposes. Loading the file renames
// it so a fresh copy is required to re-arm — callers must not reread a
// consumed fitinfo without the test harness writing a new one.
package fitinfo

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cgts/mtce/pkg/constants"
)

// Insertion is one parsed fault-insertion directive.
type Insertion struct {
	Proc string // process name the directive targets
	Code string // failure code to force
	Hits int    // number of occurrences to force before auto-disarming
	Host string // hostname the directive applies to ("" = any)
	Name string // named parameter, handler-specific
	Data string // free-form payload, handler-specific
}

// Load reads and parses the fitinfo file at path (constants.FitInfoFile
// by default), then renames it to path+".armed" so a fresh file is
// required for the next insertion. A missing file is not an error: it
// returns (nil, nil).
func Load(path string) (*Insertion, error) {
	if path == "" {
		path = constants.FitInfoFile
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fitinfo: open %s: %w", path, err)
	}

	ins := &Insertion{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "proc":
			ins.Proc = value
		case "code":
			ins.Code = value
		case "hits":
			n, err := strconv.Atoi(value)
			if err == nil {
				ins.Hits = n
			}
		case "host":
			ins.Host = value
		case "name":
			ins.Name = value
		case "data":
			ins.Data = value
		}
	}
	scanErr := scanner.Err()
	_ = f.Close()
	if scanErr != nil {
		return nil, fmt.Errorf("fitinfo: parse %s: %w", path, scanErr)
	}

	if err := os.Rename(path, path+".armed"); err != nil {
		return nil, fmt.Errorf("fitinfo: rename %s after load: %w", path, err)
	}
	return ins, nil
}

// Matches reports whether this insertion applies to the given process,
// host, and code. An empty Host on the insertion matches any host.
func (i *Insertion) Matches(proc, host, code string) bool {
	if i == nil {
		return false
	}
	if i.Proc != "" && i.Proc != proc {
		return false
	}
	if i.Host != "" && i.Host != host {
		return false
	}
	if i.Code != "" && i.Code != code {
		return false
	}
	return true
}

// Consume decrements the remaining hit count, returning false once the
// insertion has exhausted its hits (callers should stop forcing the
// failure path after that).
func (i *Insertion) Consume() bool {
	if i == nil {
		return false
	}
	if i.Hits < 0 {
		return false // exhausted
	}
	if i.Hits == 0 {
		return true // unlimited
	}
	i.Hits--
	if i.Hits == 0 {
		i.Hits = -1 // last hit used: mark exhausted, not unlimited
	}
	return true
}

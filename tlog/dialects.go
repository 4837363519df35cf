package tlog

import (
	"fmt"
	"sort"

	"github.com/bluenviron/gomavlib/v2/pkg/dialect"
	"github.com/bluenviron/gomavlib/v2/pkg/dialects/all"
	"github.com/bluenviron/gomavlib/v2/pkg/dialects/ardupilotmega"
	"github.com/bluenviron/gomavlib/v2/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v2/pkg/dialects/minimal"
)

// DefaultDialect is the dialect ArduPilot vehicles speak.
const DefaultDialect = "ardupilotmega"

var dialects = map[string]*dialect.Dialect{
	"all":           all.Dialect,
	"ardupilotmega": ardupilotmega.Dialect,
	"common":        common.Dialect,
	"minimal":       minimal.Dialect,
}

// LookupDialect returns a dialect by name.
func LookupDialect(name string) (*dialect.Dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return nil, fmt.Errorf("unknown mavlink dialect %q (have %v)", name, Dialects())
	}
	return d, nil
}

// Dialects lists the supported dialect names.
func Dialects() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

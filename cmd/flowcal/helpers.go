package main

import (
	"fmt"
	"math"
	"strconv"

	"github.com/fatih/color"

	"github.com/flowlab/flowcal/pkg/version"
)

func getVersion() (clientVersion, daemonVersion string, err error) {
	daemonVersion, err = apiClient.GetVersion()
	if err != nil {
		return "", "", err
	}
	return version.Version, daemonVersion, nil
}

func parseIntArg(args []string, valueName string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("invalid number of arguments")
	}

	value, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}

	return value, nil
}

func parseFloatArg(args []string, valueName string) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("invalid number of arguments")
	}

	value, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("invalid %s: must be a finite number", valueName)
	}

	return value, nil
}

// parseIndexArgs parses experiment indices as shown by 'flowcal list'
// (1-based) into store indices (0-based).
func parseIndexArgs(args []string) ([]int, error) {
	indices := make([]int, 0, len(args))
	for _, a := range args {
		i, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid experiment number %q: %v", a, err)
		}
		if i < 1 {
			return nil, fmt.Errorf("invalid experiment number %d: numbering starts at 1", i)
		}
		indices = append(indices, i-1)
	}
	return indices, nil
}

func optional(p *float64, format string) string {
	if p == nil {
		return color.New(color.Faint).Sprint("n/a")
	}
	return fmt.Sprintf(format, *p)
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/flowlab/flowcal/pkg/config"
)

type statusJSON struct {
	Link          statusLinkJSON    `json:"link"`
	Dataset       statusDatasetJSON `json:"dataset"`
	Configuration statusConfigJSON  `json:"configuration"`
}

type statusLinkJSON struct {
	Connected      bool     `json:"connected"`
	Port           string   `json:"port,omitempty"`
	BaudRate       int      `json:"baudRate"`
	SessionRunning bool     `json:"sessionRunning"`
	Ports          []string `json:"ports"`
	ConsoleAverage *float64 `json:"consoleAverage"`
	ConsoleCount   int      `json:"consoleCount"`
}

type statusDatasetJSON struct {
	Experiments int       `json:"experiments"`
	Selection   []int     `json:"selection"`
	Offsets     []float64 `json:"offsets"`
}

type statusConfigJSON struct {
	Port                  string  `json:"port"`
	ReadTimeoutMillis     int64   `json:"readTimeoutMillis"`
	SessionTimeoutSeconds int64   `json:"sessionTimeoutSeconds"`
	AccuracyConvention    string  `json:"accuracyConvention"`
	OffsetPolicy          string  `json:"offsetPolicy"`
	VelocityFactor        float64 `json:"velocityFactor"`
	PollIntervalMillis    int64   `json:"pollIntervalMillis"`
	AllowNonRootAccess    bool    `json:"allowNonRootAccess"`
}

func buildStatusJSON(data *statusData, cfg *config.File) statusJSON {
	ports := data.link.Ports
	if ports == nil {
		ports = []string{}
	}
	sel := data.experiments.Selection
	if sel == nil {
		sel = []int{}
	}
	offsets := data.experiments.Offsets
	if offsets == nil {
		offsets = []float64{}
	}

	return statusJSON{
		Link: statusLinkJSON{
			Connected:      data.link.Connected,
			Port:           data.link.Address,
			BaudRate:       data.link.BaudRate,
			SessionRunning: data.link.SessionRunning,
			Ports:          ports,
			ConsoleAverage: data.console.Average,
			ConsoleCount:   data.console.Count,
		},
		Dataset: statusDatasetJSON{
			Experiments: len(data.experiments.Experiments),
			Selection:   sel,
			Offsets:     offsets,
		},
		Configuration: statusConfigJSON{
			Port:                  cfg.Port(),
			ReadTimeoutMillis:     cfg.ReadTimeout().Milliseconds(),
			SessionTimeoutSeconds: int64(cfg.SessionTimeout().Seconds()),
			AccuracyConvention:    string(cfg.AccuracyConvention()),
			OffsetPolicy:          string(cfg.OffsetPolicy()),
			VelocityFactor:        cfg.VelocityFactor(),
			PollIntervalMillis:    cfg.PollInterval().Milliseconds(),
			AllowNonRootAccess:    cfg.AllowNonRootAccess(),
		},
	}
}

func printStatusJSON(cmd *cobra.Command, data *statusData, cfg *config.File) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(buildStatusJSON(data, cfg))
}

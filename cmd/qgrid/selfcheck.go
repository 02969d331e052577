package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/qgrid-ml/qgrid/internal/crosscheck"
)

func selfcheckCmd() *cli.Command {
	var (
		configPath string
		jsonPath   string
		tolerance  float64
	)

	return &cli.Command{
		Name:  "selfcheck",
		Usage: "Cross-validate the fused kernels against the reference composition",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "YAML file with tolerance and custom cases",
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "json",
				Usage:       "write the full report as JSON to `FILE`",
				Destination: &jsonPath,
			},
			&cli.FloatFlag{
				Name:        "tolerance",
				Usage:       "maximum allowed path disagreement",
				Value:       1e-6,
				Destination: &tolerance,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var cases []crosscheck.CaseSpec

			if configPath != "" {
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				cases = cfg.Cases
				if cfg.Tolerance != nil && !cmd.IsSet("tolerance") {
					tolerance = *cfg.Tolerance
				}
			}

			report := crosscheck.Run(cases, tolerance)
			printReport(report)

			if jsonPath != "" {
				if err := writeReportJSON(report, jsonPath); err != nil {
					return err
				}
			}

			if !report.Passed {
				return errors.New("selfcheck failed: fused and reference paths disagree")
			}
			return nil
		},
	}
}

func printReport(report crosscheck.Report) {
	fmt.Printf("run %s  tolerance %.1e\n", report.RunID, report.Tolerance)
	for _, c := range report.Cases {
		status := "ok"
		if !c.Passed {
			status = "FAIL"
		}
		if c.Error != "" {
			fmt.Printf("  %-42s %-4s %s\n", c.Name, status, c.Error)
			continue
		}
		fmt.Printf("  %-42s %-4s y=%.2e dx=%.2e dlb=%.2e dub=%.2e grid=%.2e rq=%.2e\n",
			c.Name, status, c.DiffOutput, c.DiffDX, c.DiffDLb, c.DiffDUb, c.GridError, c.DiffRequant)
	}
}

func writeReportJSON(report crosscheck.Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
